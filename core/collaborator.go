package core

import "context"

// Document is the unit of ingestion. Parsing and chunking happen upstream;
// the coordination layer only sees the stable reference and the chunks.
type Document struct {
	Ref      string
	Chunks   []string
	Metadata map[string]any
}

// SearchResult carries the chunks considered relevant to a query together
// with their per-chunk metadata. TopChunks and ChunkMetadata are parallel
// slices; both may be empty when nothing in the collection is relevant.
type SearchResult struct {
	TopChunks      []string
	ChunkMetadata  []map[string]any
	CollectionSize int
}

// CollectionInfo describes the current state of the retrieval collection.
type CollectionInfo struct {
	Count int `json:"count"`
}

// Retriever is the retrieval collaborator contract: document ingestion and
// similarity search over the indexed collection. Implementations must be
// safe for concurrent use.
type Retriever interface {
	// Index adds the document's chunks to the collection and returns the
	// resulting collection size.
	Index(ctx context.Context, doc Document) (int, error)

	// Search returns up to k chunks scoring at or above threshold. An empty
	// result is not an error; it signals "no relevant context".
	Search(ctx context.Context, query string, k int, threshold float64) (SearchResult, error)

	// Clear removes every indexed chunk.
	Clear(ctx context.Context) error

	// Info reports the current collection state.
	Info(ctx context.Context) (CollectionInfo, error)
}

// Generator is the text generation collaborator contract. Latency and rate
// limits of the backing service are unspecified; callers must bound their
// own waits via ctx.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Info returns metadata about the generation backend.
	Info() GeneratorInfo
}

// GeneratorInfo contains metadata about a generation backend.
type GeneratorInfo struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Health is a point-in-time snapshot of an agent's statistics, exposed for
// external monitoring.
type Health struct {
	AgentID             string  `json:"agent_id"`
	Status              string  `json:"status"`
	MessagesHandled     int64   `json:"messages_handled"`
	Errors              int64   `json:"errors"`
	AverageHandlingTime float64 `json:"average_handling_time"`
}
