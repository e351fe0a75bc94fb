package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/ragmesh/broker"
	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/model"
	"github.com/hupe1980/ragmesh/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMesh(t *testing.T, optFns ...func(o *CoordinatorOptions)) (*broker.InMemory, *Coordinator) {
	t.Helper()
	b := broker.New()

	_, err := NewRetrievalAgent(b, retrieval.NewInMemoryIndex())
	require.NoError(t, err)

	gen := model.NewMockGenerator("mock-model", "mock")
	gen.AddResponse("$600", "The total inventory value is $600.")
	_, err = NewResponseAgent(b, gen)
	require.NoError(t, err)

	c, err := NewCoordinator(b, optFns...)
	require.NoError(t, err)
	return b, c
}

func TestCoordinatorIngest(t *testing.T) {
	_, c := newTestMesh(t)

	res, err := c.Ingest(context.Background(), core.Document{
		Ref: "inventory.txt",
		Chunks: []string{
			"Total inventory value: $600",
			"We stock laptops, phones and tablets",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 2, res.IndexedCount)
}

func TestCoordinatorQueryEndToEnd(t *testing.T) {
	_, c := newTestMesh(t)
	ctx := context.Background()

	_, err := c.Ingest(ctx, core.Document{
		Ref:    "inventory.txt",
		Chunks: []string{"Total inventory value: $600"},
	})
	require.NoError(t, err)

	res, err := c.Query(ctx, "What is the total inventory value?", 3, 0.7)
	require.NoError(t, err)

	assert.Equal(t, "rag", res.ResponseType)
	assert.Contains(t, res.Answer, "$600")
	assert.Equal(t, 1, res.SourcesUsed)
	assert.Equal(t, 1, res.CollectionSize)
}

func TestCoordinatorQueryEmptyCollectionIsGeneral(t *testing.T) {
	_, c := newTestMesh(t)

	res, err := c.Query(context.Background(), "What is the capital of France?", 3, 0.7)
	require.NoError(t, err)

	assert.Equal(t, "general", res.ResponseType)
	assert.Equal(t, 0, res.SourcesUsed)
	assert.Equal(t, 0, res.CollectionSize)
}

func TestCoordinatorQueryEmptyQuery(t *testing.T) {
	_, c := newTestMesh(t)

	_, err := c.Query(context.Background(), "   ", 3, 0.7)

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)
}

func TestCoordinatorIngestFailurePropagates(t *testing.T) {
	_, c := newTestMesh(t)

	res, err := c.Ingest(context.Background(), core.Document{Ref: "empty.txt"})

	var uerr *core.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "index", uerr.Op)
	assert.Equal(t, "error", res.Status)
}

func TestCoordinatorUnknownReceiverFailsFast(t *testing.T) {
	b := broker.New()
	c, err := NewCoordinator(b, func(o *CoordinatorOptions) {
		o.RetrievalAgentID = "nobody-home"
	})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "ping", 3, 0.7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody-home")

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.RoutingErrors)
}

// blackHole accepts requests and never replies.
type blackHole struct {
	Runtime
	mu   sync.Mutex
	seen []core.Message
}

func newBlackHole(t *testing.T, b core.Broker, id string, types ...core.MessageType) *blackHole {
	t.Helper()
	h := &blackHole{Runtime: NewRuntime(id, "blackhole", b, nil)}
	for _, mt := range types {
		h.RegisterHandler(mt, func(_ context.Context, msg core.Message) error {
			h.mu.Lock()
			h.seen = append(h.seen, msg)
			h.mu.Unlock()
			return nil
		})
	}
	require.NoError(t, h.Register())
	return h
}

func (h *blackHole) last(t *testing.T) core.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.seen) > 0
	}, time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[len(h.seen)-1]
}

func TestCoordinatorTimeoutAndLateReply(t *testing.T) {
	b := broker.New()
	hole := newBlackHole(t, b, DefaultRetrievalAgentID, core.MessageTypeQueryRequest)

	c, err := NewCoordinator(b, func(o *CoordinatorOptions) {
		o.RequestTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "anything", 3, 0.7)

	var terr *core.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.Deadline)

	state, ok := c.WorkflowState(terr.WorkflowID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)

	// A reply arriving after the timeout is discarded, not delivered.
	late := core.NewReply(hole.last(t), DefaultRetrievalAgentID, core.RetrievalResultPayload{Query: "anything"})
	require.NoError(t, b.Dispatch(context.Background(), late))

	assert.Equal(t, int64(1), c.CorrelationErrors())
	assert.Empty(t, c.ActiveWorkflows())
}

func TestCoordinatorContextCancellation(t *testing.T) {
	b := broker.New()
	newBlackHole(t, b, DefaultRetrievalAgentID, core.MessageTypeQueryRequest)

	c, err := NewCoordinator(b)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Query(ctx, "anything", 3, 0.7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinatorUncorrelatedReplyDiscarded(t *testing.T) {
	_, c := newTestMesh(t)

	stray := core.NewMessage(DefaultRetrievalAgentID, c.ID(), core.RetrievalResultPayload{Query: "stray"})
	stray.WorkflowID = core.NewID()
	require.NoError(t, c.Receive(context.Background(), stray))

	assert.Equal(t, int64(1), c.CorrelationErrors())
}

func TestCoordinatorConcurrentWorkflows(t *testing.T) {
	b := broker.New()

	// Echo retrieval agent: answers with a chunk derived from the query so
	// each workflow's reply is distinguishable.
	echo := &probeAgent{Runtime: NewRuntime(DefaultRetrievalAgentID, "echo", b, nil)}
	echo.RegisterHandler(core.MessageTypeQueryRequest, func(ctx context.Context, msg core.Message) error {
		q := msg.Payload.(core.QueryRequestPayload).Query
		_, err := echo.ReplyTo(ctx, msg, core.RetrievalResultPayload{
			Query:          q,
			TopChunks:      []string{"context for " + q},
			ChunkMetadata:  []map[string]any{{"file_name": q + ".txt"}},
			CollectionSize: 1,
		})
		return err
	})
	require.NoError(t, echo.Register())

	const workflows = 8

	gen := model.NewMockGenerator("mock-model", "mock")
	for i := 0; i < workflows; i++ {
		gen.AddResponse(fmt.Sprintf("question-%d", i), fmt.Sprintf("Answer for question-%d", i))
	}
	_, err := NewResponseAgent(b, gen)
	require.NoError(t, err)

	c, err := NewCoordinator(b)
	require.NoError(t, err)

	results := make([]QueryResult, workflows)
	errs := make([]error, workflows)

	var wg sync.WaitGroup
	for i := 0; i < workflows; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Query(context.Background(), fmt.Sprintf("question-%d", i), 3, 0.5)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workflows; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "rag", results[i].ResponseType)
		assert.Contains(t, results[i].Answer, fmt.Sprintf("Answer for question-%d", i))
	}
	assert.Equal(t, int64(0), c.CorrelationErrors())
}

func TestCoordinatorReplyPreservesCorrelation(t *testing.T) {
	b := broker.New()
	_, err := NewRetrievalAgent(b, retrieval.NewInMemoryIndex())
	require.NoError(t, err)

	// Tap the response agent address to inspect the stage 2 message.
	tap := newBlackHole(t, b, DefaultResponseAgentID, core.MessageTypeRetrievalResult)

	c, err := NewCoordinator(b, func(o *CoordinatorOptions) {
		o.RequestTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Ingest(ctx, core.Document{Ref: "doc.txt", Chunks: []string{"Total inventory value: $600"}})
	require.NoError(t, err)

	_, err = c.Query(ctx, "total inventory value", 3, 0.5)
	var terr *core.TimeoutError
	require.ErrorAs(t, err, &terr) // generation stage times out at the tap

	forwarded := tap.last(t)
	assert.Equal(t, core.MessageTypeRetrievalResult, forwarded.Type)
	assert.Equal(t, c.ID(), forwarded.Sender)
	assert.Equal(t, terr.WorkflowID, forwarded.WorkflowID)
	assert.NotEmpty(t, forwarded.TraceID)
}
