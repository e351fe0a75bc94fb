// Package retrieval contains implementations of the core.Retriever
// collaborator contract.
//
// InMemoryIndex is a process-local index using token overlap scoring. It is
// suitable for tests, examples and small corpora; swap in a vector store
// backed implementation for production semantic retrieval.
package retrieval
