package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/internal/util"
	"github.com/hupe1980/ragmesh/logging"
)

// DefaultRetrievalAgentID is the broker address of the retrieval agent.
const DefaultRetrievalAgentID = "retrieval-agent"

// RetrievalOptions configure a RetrievalAgent.
type RetrievalOptions struct {
	// ID overrides the broker address.
	ID string
	// Logger receives agent diagnostics.
	Logger logging.Logger
}

// RetrievalAgent adapts the retrieval collaborator to the message bus. It
// answers INDEX_REQUEST and QUERY_REQUEST messages and exposes Clear/Info
// as direct operations for administrative callers.
type RetrievalAgent struct {
	Runtime
	retriever core.Retriever
}

// NewRetrievalAgent constructs a RetrievalAgent and registers it with the
// broker.
func NewRetrievalAgent(b core.Broker, retriever core.Retriever, optFns ...func(o *RetrievalOptions)) (*RetrievalAgent, error) {
	opts := RetrievalOptions{
		ID:     DefaultRetrievalAgentID,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &RetrievalAgent{
		Runtime:   NewRuntime(opts.ID, "retrieval", b, opts.Logger),
		retriever: retriever,
	}
	a.RegisterHandler(core.MessageTypeIndexRequest, a.handleIndexRequest)
	a.RegisterHandler(core.MessageTypeQueryRequest, a.handleQueryRequest)

	if err := a.Register("document_indexing", "context_retrieval"); err != nil {
		return nil, fmt.Errorf("failed to register retrieval agent: %w", err)
	}
	return a, nil
}

func (a *RetrievalAgent) handleIndexRequest(ctx context.Context, msg core.Message) error {
	payload, ok := msg.Payload.(core.IndexRequestPayload)
	if !ok {
		return &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected payload %T for %s", msg.Payload, msg.Type)}
	}

	start := time.Now()
	size, err := a.retriever.Index(ctx, core.Document{
		Ref:      payload.DocumentRef,
		Chunks:   payload.Chunks,
		Metadata: payload.Metadata,
	})
	if err != nil {
		return &core.UpstreamError{Op: "index", Err: err}
	}

	a.Logger().Info("Indexed document", "document_ref", payload.DocumentRef, "chunks", len(payload.Chunks), "collection_size", size, "duration", time.Since(start))

	reply := core.NewReply(msg, a.ID(), core.RetrievalResultPayload{CollectionSize: size}).
		WithMetadata("chunks_added", len(payload.Chunks))
	return a.SendMessage(ctx, reply)
}

func (a *RetrievalAgent) handleQueryRequest(ctx context.Context, msg core.Message) error {
	payload, ok := msg.Payload.(core.QueryRequestPayload)
	if !ok {
		return &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected payload %T for %s", msg.Payload, msg.Type)}
	}
	if strings.TrimSpace(payload.Query) == "" {
		return &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	result, err := a.retriever.Search(ctx, payload.Query, payload.K, payload.Threshold)
	if err != nil {
		return &core.UpstreamError{Op: "search", Err: err}
	}

	// No hits is a legitimate outcome: it tells the response agent to
	// answer from general knowledge.
	a.Logger().Info("Retrieved context", "query", util.Truncate(payload.Query, 50), "chunks", len(result.TopChunks), "collection_size", result.CollectionSize)

	_, err = a.ReplyTo(ctx, msg, core.RetrievalResultPayload{
		Query:          payload.Query,
		TopChunks:      result.TopChunks,
		ChunkMetadata:  result.ChunkMetadata,
		CollectionSize: result.CollectionSize,
	})
	return err
}

// Clear removes every indexed chunk. Direct administrative operation; does
// not go through the message bus.
func (a *RetrievalAgent) Clear(ctx context.Context) error {
	if err := a.retriever.Clear(ctx); err != nil {
		return &core.UpstreamError{Op: "clear", Err: err}
	}
	a.Logger().Info("Cleared collection", "agent_id", a.ID())
	return nil
}

// Info reports the current collection state. Direct administrative
// operation; does not go through the message bus.
func (a *RetrievalAgent) Info(ctx context.Context) (core.CollectionInfo, error) {
	info, err := a.retriever.Info(ctx)
	if err != nil {
		return core.CollectionInfo{}, &core.UpstreamError{Op: "info", Err: err}
	}
	return info, nil
}
