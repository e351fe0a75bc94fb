// Package model contains implementations of the core.Generator collaborator
// contract: a deterministic MockGenerator for tests and examples, plus real
// adapters for OpenAI (model/openai) and Anthropic (model/anthropic).
//
// Generators receive a fully rendered prompt and return plain text. Prompt
// construction (grounded vs. ungrounded) is the response agent's concern,
// not the generator's.
package model
