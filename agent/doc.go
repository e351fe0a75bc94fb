// Package agent contains the agent runtime and the concrete agents of the
// RAG coordination layer.
//
// Runtime bundles the behavior every agent shares: per-type handler
// registration, send/reply primitives that preserve trace and workflow
// correlation, central conversion of handler failures into ERROR replies,
// and handling statistics. Embed it in concrete agents.
//
// The three concrete agents are:
//
//   - RetrievalAgent: adapter over the retrieval collaborator; answers
//     INDEX_REQUEST and QUERY_REQUEST messages.
//   - ResponseAgent: adapter over the generation collaborator; turns
//     retrieved context (or its absence) into a formatted answer.
//   - Coordinator: the only agent callers talk to; drives the ingest and
//     query workflows by sending messages and correlating replies.
package agent
