// Package core provides the foundational domain types and interfaces used
// by ragmesh. It defines the core abstractions for:
//
//   - Messages (immutable units of inter-agent communication with a closed,
//     type-safe payload union)
//   - The Broker / Recipient routing contracts every agent is wired through
//   - Collaborator contracts for retrieval (Retriever) and text generation
//     (Generator), consumed by the adapter agents
//   - The error taxonomy propagated across agent boundaries
//
// The package intentionally keeps implementation concerns (concrete brokers,
// agents, stores) out of scope, exposing small interfaces to enable custom
// backends without import cycles.
package core
