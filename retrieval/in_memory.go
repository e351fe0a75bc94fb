package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/ragmesh/core"
)

// storedChunk is the internal representation persisted by InMemoryIndex.
type storedChunk struct {
	Text     string
	Metadata map[string]any
	tokens   map[string]struct{}
}

// stopwords are excluded from scoring so that phrasing differences between
// a question and a statement do not dominate the overlap.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "for": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "was": {},
	"what": {}, "which": {}, "with": {},
}

// InMemoryIndex is a naive process-local core.Retriever. Chunks are stored
// with their document metadata and scored by token overlap with the query,
// normalized to [0,1]. Concurrency: protected by RWMutex.
type InMemoryIndex struct {
	mu     sync.RWMutex
	chunks []storedChunk
}

var _ core.Retriever = (*InMemoryIndex)(nil)

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Index adds the document's chunks to the collection and returns the new
// collection size.
func (s *InMemoryIndex) Index(_ context.Context, doc core.Document) (int, error) {
	if len(doc.Chunks) == 0 {
		return 0, &core.ValidationError{Field: "chunks", Reason: "no chunks provided for indexing"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, chunk := range doc.Chunks {
		meta := map[string]any{
			"document_ref": doc.Ref,
			"chunk_index":  i,
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		s.chunks = append(s.chunks, storedChunk{
			Text:     chunk,
			Metadata: meta,
			tokens:   tokenize(chunk),
		})
	}
	return len(s.chunks), nil
}

// Search returns up to k chunks whose overlap score reaches threshold. An
// empty result signals "no relevant context" and is not an error.
func (s *InMemoryIndex) Search(_ context.Context, query string, k int, threshold float64) (core.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return core.SearchResult{}, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if k <= 0 {
		k = 5
	}

	queryTokens := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, chunk := range s.chunks {
		score := overlapScore(queryTokens, chunk)
		if score > 0 && score >= threshold {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	result := core.SearchResult{
		TopChunks:      make([]string, 0, len(hits)),
		ChunkMetadata:  make([]map[string]any, 0, len(hits)),
		CollectionSize: len(s.chunks),
	}
	for _, h := range hits {
		chunk := s.chunks[h.idx]
		meta := make(map[string]any, len(chunk.Metadata)+1)
		for mk, mv := range chunk.Metadata {
			meta[mk] = mv
		}
		meta["score"] = h.score
		result.TopChunks = append(result.TopChunks, chunk.Text)
		result.ChunkMetadata = append(result.ChunkMetadata, meta)
	}
	return result, nil
}

// Clear removes every indexed chunk.
func (s *InMemoryIndex) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	return nil
}

// Info reports the current collection state.
func (s *InMemoryIndex) Info(_ context.Context) (core.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CollectionInfo{Count: len(s.chunks)}, nil
}

// overlapScore is the fraction of query tokens present in the chunk.
func overlapScore(queryTokens map[string]struct{}, chunk storedChunk) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matched := 0
	for tok := range queryTokens {
		if _, ok := chunk.tokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// tokenize lowercases, splits on non-alphanumeric runes and drops stopwords.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}
