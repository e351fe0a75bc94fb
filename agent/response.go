package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/internal/util"
	"github.com/hupe1980/ragmesh/logging"
)

// DefaultResponseAgentID is the broker address of the response agent.
const DefaultResponseAgentID = "response-agent"

// maxPromptChunks bounds how many retrieved chunks are rendered into the
// grounded prompt. SourcesUsed still reports the full retrieved count.
const maxPromptChunks = 3

// ResponseOptions configure a ResponseAgent.
type ResponseOptions struct {
	// ID overrides the broker address.
	ID string
	// Logger receives agent diagnostics.
	Logger logging.Logger
}

// ResponseStats is a snapshot of the response agent's generation counters.
// AverageResponseTime is maintained incrementally and equals the arithmetic
// mean of all recorded generation times.
type ResponseStats struct {
	RagResponses        int64   `json:"rag_responses"`
	GeneralResponses    int64   `json:"general_responses"`
	Errors              int64   `json:"errors"`
	AverageResponseTime float64 `json:"average_response_time"`
}

// ResponseAgent adapts the generation collaborator to the message bus. Its
// RETRIEVAL_RESULT handler is what triggers generation: with retrieved
// chunks it produces a grounded ("rag") answer, without them an ungrounded
// ("general") one. A grounded attempt that fails falls back to the
// ungrounded path; only an ungrounded failure is answered with ERROR.
type ResponseAgent struct {
	Runtime
	generator core.Generator

	genMu      sync.Mutex
	ragCount   int64
	genCount   int64
	genErrors  int64
	avgGenTime float64 // seconds
}

// NewResponseAgent constructs a ResponseAgent and registers it with the
// broker.
func NewResponseAgent(b core.Broker, generator core.Generator, optFns ...func(o *ResponseOptions)) (*ResponseAgent, error) {
	opts := ResponseOptions{
		ID:     DefaultResponseAgentID,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ResponseAgent{
		Runtime:   NewRuntime(opts.ID, "response", b, opts.Logger),
		generator: generator,
	}
	a.RegisterHandler(core.MessageTypeRetrievalResult, a.handleRetrievalResult)

	if err := a.Register("response_generation", "context_processing"); err != nil {
		return nil, fmt.Errorf("failed to register response agent: %w", err)
	}
	return a, nil
}

func (a *ResponseAgent) handleRetrievalResult(ctx context.Context, msg core.Message) error {
	payload, ok := msg.Payload.(core.RetrievalResultPayload)
	if !ok {
		return &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected payload %T for %s", msg.Payload, msg.Type)}
	}
	if strings.TrimSpace(payload.Query) == "" {
		return &core.ValidationError{Field: "query", Reason: "no query provided in retrieval result"}
	}

	start := time.Now()
	answer, responseType, err := a.generate(ctx, payload)
	if err != nil {
		a.recordError()
		return err
	}
	elapsed := time.Since(start)
	a.recordResponse(responseType, elapsed)

	sourcesUsed := 0
	if responseType == "rag" {
		sourcesUsed = len(payload.TopChunks)
	}

	a.Logger().Info("Generated response", "query", util.Truncate(payload.Query, 50), "response_type", responseType, "sources_used", sourcesUsed, "duration", elapsed)

	reply := core.NewReply(msg, a.ID(), core.ResponseGeneratedPayload{
		Query:          payload.Query,
		Answer:         answer,
		ResponseType:   responseType,
		SourcesUsed:    sourcesUsed,
		CollectionSize: payload.CollectionSize,
		ElapsedSeconds: elapsed.Seconds(),
	}).
		WithMetadata("model_used", a.generator.Info().Name).
		WithMetadata("response_length", len(answer))
	return a.SendMessage(ctx, reply)
}

// generate runs the grounded path when chunks are present and the
// ungrounded path otherwise. A grounded failure degrades to ungrounded
// instead of failing the request.
func (a *ResponseAgent) generate(ctx context.Context, payload core.RetrievalResultPayload) (string, string, error) {
	if len(payload.TopChunks) > 0 {
		prompt := buildGroundedPrompt(payload.Query, payload.TopChunks, payload.ChunkMetadata)
		answer, err := a.generator.Generate(ctx, prompt)
		if err == nil {
			return answer + formatSourcesSection(payload.ChunkMetadata, len(payload.TopChunks)), "rag", nil
		}
		a.Logger().Warn("Grounded generation failed, falling back to general response", "error", err.Error())
	}

	answer, err := a.generator.Generate(ctx, buildGeneralPrompt(payload.Query))
	if err != nil {
		return "", "", &core.UpstreamError{Op: "generate", Err: err}
	}
	return answer, "general", nil
}

// Stats returns a snapshot of the generation counters.
func (a *ResponseAgent) Stats() ResponseStats {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	return ResponseStats{
		RagResponses:        a.ragCount,
		GeneralResponses:    a.genCount,
		Errors:              a.genErrors,
		AverageResponseTime: a.avgGenTime,
	}
}

func (a *ResponseAgent) recordResponse(responseType string, dur time.Duration) {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	if responseType == "rag" {
		a.ragCount++
	} else {
		a.genCount++
	}
	n := float64(a.ragCount + a.genCount)
	a.avgGenTime = (a.avgGenTime*(n-1) + dur.Seconds()) / n
}

func (a *ResponseAgent) recordError() {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	a.genErrors++
}

// buildGroundedPrompt renders the query and up to maxPromptChunks retrieved
// chunks, each labeled with its source document, into a prompt instructing
// the model to answer from the provided context.
func buildGroundedPrompt(query string, chunks []string, metadata []map[string]any) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant answering questions from the user's uploaded documents.\n\n")
	sb.WriteString("CONTEXT FROM UPLOADED DOCUMENTS:\n")

	shown := chunks
	if len(shown) > maxPromptChunks {
		shown = shown[:maxPromptChunks]
	}
	for i, chunk := range shown {
		label := fmt.Sprintf("Document %d", i+1)
		if name := sourceName(metadata, i); name != "" {
			label = fmt.Sprintf("Document %d (%s)", i+1, name)
		}
		sb.WriteString(fmt.Sprintf("[%s]\n%s\n\n", label, chunk))
	}

	if sources := sourceNames(metadata, len(shown)); len(sources) > 0 {
		sb.WriteString("SOURCES: " + strings.Join(sources, ", ") + "\n\n")
	}
	sb.WriteString("QUESTION: " + query + "\n\n")
	sb.WriteString("Answer using only the context above. If the context does not contain the answer, say so explicitly.")
	return sb.String()
}

// buildGeneralPrompt renders an ungrounded prompt for queries with no
// relevant context in the collection.
func buildGeneralPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant answering from general knowledge; no uploaded document matched the question.\n\n")
	sb.WriteString("QUESTION: " + query + "\n\n")
	sb.WriteString("Answer concisely and note that the answer is not based on the user's documents.")
	return sb.String()
}

// formatSourcesSection appends the distinct source names of the shown
// chunks, noting when more relevant sections exist than were rendered.
func formatSourcesSection(metadata []map[string]any, totalChunks int) string {
	shown := totalChunks
	if shown > maxPromptChunks {
		shown = maxPromptChunks
	}
	sources := sourceNames(metadata, shown)
	if len(sources) == 0 {
		return ""
	}
	section := "\n\n---\nSources: " + strings.Join(sources, ", ")
	if totalChunks > maxPromptChunks {
		section += fmt.Sprintf("\n(Showing top %d of %d relevant sections)", maxPromptChunks, totalChunks)
	}
	return section
}

// sourceName extracts the source document name of chunk i, if known.
func sourceName(metadata []map[string]any, i int) string {
	if i >= len(metadata) || metadata[i] == nil {
		return ""
	}
	for _, key := range []string{"file_name", "document_ref"} {
		if v, ok := metadata[i][key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// sourceNames returns the sorted distinct source names of the first n
// chunks.
func sourceNames(metadata []map[string]any, n int) []string {
	seen := make(map[string]struct{})
	var names []string
	for i := 0; i < n; i++ {
		name := sourceName(metadata, i)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
