package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/internal/util"
	"github.com/hupe1980/ragmesh/logging"
)

// DefaultCoordinatorID is the broker address of the coordinator.
const DefaultCoordinatorID = "coordinator"

// DefaultRequestTimeout bounds each send-and-await stage of a workflow.
const DefaultRequestTimeout = 30 * time.Second

// WorkflowState tracks a workflow through its stages. FAILED is terminal
// and reachable from any pending state; COMPLETED only follows
// GENERATION_DONE (queries) or RETRIEVAL_DONE (ingests).
type WorkflowState int

const (
	// StateInit is the initial state before any message is sent.
	StateInit WorkflowState = iota
	// StateRetrievalPending means the retrieval request is in flight.
	StateRetrievalPending
	// StateRetrievalDone means retrieval succeeded.
	StateRetrievalDone
	// StateRetrievalFailed means retrieval errored or timed out.
	StateRetrievalFailed
	// StateGenerationPending means the generation request is in flight.
	StateGenerationPending
	// StateGenerationDone means generation succeeded.
	StateGenerationDone
	// StateGenerationFailed means generation errored or timed out.
	StateGenerationFailed
	// StateCompleted is the successful terminal state.
	StateCompleted
	// StateFailed is the failed terminal state.
	StateFailed
)

// String returns the string representation of the workflow state.
func (s WorkflowState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRetrievalPending:
		return "RETRIEVAL_PENDING"
	case StateRetrievalDone:
		return "RETRIEVAL_DONE"
	case StateRetrievalFailed:
		return "RETRIEVAL_FAILED"
	case StateGenerationPending:
		return "GENERATION_PENDING"
	case StateGenerationDone:
		return "GENERATION_DONE"
	case StateGenerationFailed:
		return "GENERATION_FAILED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s WorkflowState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// IngestResult is the outcome of one document ingest workflow.
type IngestResult struct {
	Status       string `json:"status"`
	IndexedCount int    `json:"indexed_count"`
}

// QueryResult is the outcome of one query workflow.
type QueryResult struct {
	Answer         string `json:"answer"`
	ResponseType   string `json:"response_type"`
	SourcesUsed    int    `json:"sources_used"`
	CollectionSize int    `json:"collection_size"`
}

// outcome is the resolution of one send-and-await exchange.
type outcome struct {
	reply core.Message
	err   error
}

// pendingRequest is the waiter for one in-flight send-and-await exchange.
// It is resolved exactly once: the first matching reply, a failed send or
// the deadline, whichever comes first, and removed from the pending table
// immediately.
type pendingRequest struct {
	expected map[core.MessageType]struct{}
	ch       chan outcome
}

// CoordinatorOptions configure a Coordinator.
type CoordinatorOptions struct {
	// ID overrides the broker address.
	ID string
	// RetrievalAgentID addresses the retrieval agent.
	RetrievalAgentID string
	// ResponseAgentID addresses the response agent.
	ResponseAgentID string
	// RequestTimeout bounds each send-and-await stage.
	RequestTimeout time.Duration
	// Logger receives agent diagnostics.
	Logger logging.Logger
}

// Coordinator is the only agent external callers talk to. It turns the
// asynchronous request/reply exchanges between the retrieval and response
// agents into synchronous Ingest and Query results, correlating replies to
// waiters strictly by workflow id.
type Coordinator struct {
	Runtime

	retrievalID string
	responseID  string
	timeout     time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	workflows map[string]WorkflowState

	correlationErrors atomic.Int64
}

// NewCoordinator constructs a Coordinator and registers it with the broker.
func NewCoordinator(b core.Broker, optFns ...func(o *CoordinatorOptions)) (*Coordinator, error) {
	opts := CoordinatorOptions{
		ID:               DefaultCoordinatorID,
		RetrievalAgentID: DefaultRetrievalAgentID,
		ResponseAgentID:  DefaultResponseAgentID,
		RequestTimeout:   DefaultRequestTimeout,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Coordinator{
		Runtime:     NewRuntime(opts.ID, "coordinator", b, opts.Logger),
		retrievalID: opts.RetrievalAgentID,
		responseID:  opts.ResponseAgentID,
		timeout:     opts.RequestTimeout,
		pending:     make(map[string]*pendingRequest),
		workflows:   make(map[string]WorkflowState),
	}
	c.RegisterHandler(core.MessageTypeRetrievalResult, c.handleReply)
	c.RegisterHandler(core.MessageTypeResponseGenerated, c.handleReply)
	c.RegisterHandler(core.MessageTypeError, c.handleReply)

	if err := c.Register("workflow_coordination"); err != nil {
		return nil, fmt.Errorf("failed to register coordinator: %w", err)
	}
	return c, nil
}

// Ingest runs the document ingest workflow: it asks the retrieval agent to
// index the document and waits for the result. The returned IndexedCount is
// the collection size reported after indexing.
func (c *Coordinator) Ingest(ctx context.Context, doc core.Document) (IngestResult, error) {
	workflowID := core.NewID()
	c.setState(workflowID, StateInit)
	log := c.Logger()

	msg := core.NewMessage(c.ID(), c.retrievalID, core.IndexRequestPayload{
		DocumentRef: doc.Ref,
		Chunks:      doc.Chunks,
		Metadata:    doc.Metadata,
	})
	msg.WorkflowID = workflowID

	c.setState(workflowID, StateRetrievalPending)
	reply, err := c.sendAndAwait(ctx, msg, core.MessageTypeRetrievalResult)
	if err != nil {
		c.setState(workflowID, StateRetrievalFailed)
		c.setState(workflowID, StateFailed)
		return IngestResult{Status: "error"}, err
	}
	if reply.IsError() {
		c.setState(workflowID, StateRetrievalFailed)
		c.setState(workflowID, StateFailed)
		return IngestResult{Status: "error"}, &core.UpstreamError{Op: "index", Err: errors.New(reply.Err)}
	}

	payload, ok := reply.Payload.(core.RetrievalResultPayload)
	if !ok {
		c.setState(workflowID, StateFailed)
		return IngestResult{Status: "error"}, &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected reply payload %T", reply.Payload)}
	}

	c.setState(workflowID, StateRetrievalDone)
	c.setState(workflowID, StateCompleted)
	log.Info("Ingest workflow completed", "workflow_id", workflowID, "document_ref", doc.Ref, "collection_size", payload.CollectionSize)
	return IngestResult{Status: "success", IndexedCount: payload.CollectionSize}, nil
}

// Query runs the query workflow: retrieval first, then generation seeded
// with the retrieval outcome, both correlated under one workflow id. Either
// stage failing or timing out fails the whole query; there is no automatic
// retry.
func (c *Coordinator) Query(ctx context.Context, query string, k int, threshold float64) (QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return QueryResult{}, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	workflowID := core.NewID()
	c.setState(workflowID, StateInit)
	log := c.Logger()

	// Stage 1: retrieval.
	queryMsg := core.NewMessage(c.ID(), c.retrievalID, core.QueryRequestPayload{
		Query:     query,
		K:         k,
		Threshold: threshold,
	})
	queryMsg.WorkflowID = workflowID

	c.setState(workflowID, StateRetrievalPending)
	retrievalReply, err := c.sendAndAwait(ctx, queryMsg, core.MessageTypeRetrievalResult)
	if err != nil {
		c.setState(workflowID, StateRetrievalFailed)
		c.setState(workflowID, StateFailed)
		return QueryResult{}, err
	}
	if retrievalReply.IsError() {
		c.setState(workflowID, StateRetrievalFailed)
		c.setState(workflowID, StateFailed)
		return QueryResult{}, &core.UpstreamError{Op: "search", Err: errors.New(retrievalReply.Err)}
	}
	retrieved, ok := retrievalReply.Payload.(core.RetrievalResultPayload)
	if !ok {
		c.setState(workflowID, StateFailed)
		return QueryResult{}, &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected reply payload %T", retrievalReply.Payload)}
	}
	c.setState(workflowID, StateRetrievalDone)
	log.Debug("Retrieval stage done", "workflow_id", workflowID, "query", util.Truncate(query, 50), "chunks", len(retrieved.TopChunks))

	// Stage 2: generation. Forwarding the retrieval result to the response
	// agent is what triggers generation; the forward starts a new trace but
	// keeps the workflow id.
	generateMsg := core.NewMessage(c.ID(), c.responseID, retrieved)
	generateMsg.WorkflowID = workflowID

	c.setState(workflowID, StateGenerationPending)
	responseReply, err := c.sendAndAwait(ctx, generateMsg, core.MessageTypeResponseGenerated)
	if err != nil {
		c.setState(workflowID, StateGenerationFailed)
		c.setState(workflowID, StateFailed)
		return QueryResult{}, err
	}
	if responseReply.IsError() {
		c.setState(workflowID, StateGenerationFailed)
		c.setState(workflowID, StateFailed)
		return QueryResult{}, &core.UpstreamError{Op: "generate", Err: errors.New(responseReply.Err)}
	}
	response, ok := responseReply.Payload.(core.ResponseGeneratedPayload)
	if !ok {
		c.setState(workflowID, StateFailed)
		return QueryResult{}, &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("unexpected reply payload %T", responseReply.Payload)}
	}

	c.setState(workflowID, StateGenerationDone)
	c.setState(workflowID, StateCompleted)
	log.Info("Query workflow completed", "workflow_id", workflowID, "response_type", response.ResponseType, "sources_used", response.SourcesUsed)

	return QueryResult{
		Answer:         response.Answer,
		ResponseType:   response.ResponseType,
		SourcesUsed:    response.SourcesUsed,
		CollectionSize: response.CollectionSize,
	}, nil
}

// sendAndAwait dispatches msg and blocks until a reply with the same
// workflow id arrives, the timeout elapses, or ctx is cancelled. This is
// the only blocking point in the system; it suspends the calling workflow
// without blocking the broker or other agents. ERROR replies always
// satisfy the wait in addition to the expected types.
func (c *Coordinator) sendAndAwait(ctx context.Context, msg core.Message, expected ...core.MessageType) (core.Message, error) {
	if msg.WorkflowID == "" {
		return core.Message{}, &core.ValidationError{Field: "workflow_id", Reason: "must not be empty"}
	}

	accepted := make(map[core.MessageType]struct{}, len(expected)+1)
	for _, t := range expected {
		accepted[t] = struct{}{}
	}
	accepted[core.MessageTypeError] = struct{}{}

	p := &pendingRequest{expected: accepted, ch: make(chan outcome, 1)}

	c.mu.Lock()
	if _, dup := c.pending[msg.WorkflowID]; dup {
		c.mu.Unlock()
		return core.Message{}, fmt.Errorf("workflow %q already has a pending request", msg.WorkflowID)
	}
	c.pending[msg.WorkflowID] = p
	c.mu.Unlock()

	// Dispatch off the waiting goroutine so a slow receiver cannot stall
	// the timeout. A failed send resolves the waiter unless a synthesized
	// ERROR already did; that reply carries the richer reason.
	go func() {
		if err := c.SendMessage(ctx, msg); err != nil {
			if c.abandon(msg.WorkflowID) {
				p.ch <- outcome{err: err}
			}
		}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.reply, out.err
	case <-timer.C:
		if c.abandon(msg.WorkflowID) {
			return core.Message{}, &core.TimeoutError{WorkflowID: msg.WorkflowID, Expected: expected, Deadline: c.timeout}
		}
		// A reply won the race against the timer; it is already (or about
		// to be) in the buffered channel.
		out := <-p.ch
		return out.reply, out.err
	case <-ctx.Done():
		if c.abandon(msg.WorkflowID) {
			return core.Message{}, ctx.Err()
		}
		out := <-p.ch
		return out.reply, out.err
	}
}

// abandon removes the pending entry for workflowID, reporting whether it
// was still present. Once removed, any later reply is discarded by
// handleReply.
func (c *Coordinator) abandon(workflowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[workflowID]; !ok {
		return false
	}
	delete(c.pending, workflowID)
	return true
}

// handleReply resolves the pending waiter matching the reply's workflow id.
// Matching is strictly by workflow id: a reply for workflow A can never
// resolve a wait for workflow B. Replies with no matching waiter (late
// arrivals after a timeout, or unexpected types) are logged and counted,
// never delivered.
func (c *Coordinator) handleReply(_ context.Context, msg core.Message) error {
	if msg.WorkflowID == "" {
		c.discard(msg, "reply has no workflow id")
		return nil
	}

	c.mu.Lock()
	p, ok := c.pending[msg.WorkflowID]
	if ok {
		if _, want := p.expected[msg.Type]; !want {
			c.mu.Unlock()
			c.discard(msg, "reply type not expected by waiter")
			return nil
		}
		delete(c.pending, msg.WorkflowID)
	}
	c.mu.Unlock()

	if !ok {
		c.discard(msg, "no pending waiter")
		return nil
	}

	p.ch <- outcome{reply: msg} // buffered, resolved exactly once
	return nil
}

// discard surfaces a correlation failure. Dropping a message silently is a
// design defect, so every discard is logged and counted.
func (c *Coordinator) discard(msg core.Message, reason string) {
	c.correlationErrors.Add(1)
	cerr := &core.CorrelationError{WorkflowID: msg.WorkflowID, Type: msg.Type}
	c.Logger().Error("Discarding uncorrelated reply", "workflow_id", msg.WorkflowID, "message_type", string(msg.Type), "sender", msg.Sender, "reason", reason, "error", cerr.Error())
}

// CorrelationErrors returns how many replies were discarded for lack of a
// matching waiter.
func (c *Coordinator) CorrelationErrors() int64 { return c.correlationErrors.Load() }

// WorkflowState returns the recorded state of a workflow.
func (c *Coordinator) WorkflowState(workflowID string) (WorkflowState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.workflows[workflowID]
	return s, ok
}

// ActiveWorkflows returns the ids of workflows not yet in a terminal state.
func (c *Coordinator) ActiveWorkflows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var active []string
	for id, s := range c.workflows {
		if !s.Terminal() {
			active = append(active, id)
		}
	}
	return active
}

func (c *Coordinator) setState(workflowID string, s WorkflowState) {
	c.mu.Lock()
	c.workflows[workflowID] = s
	c.mu.Unlock()
	c.Logger().Debug("Workflow state changed", "workflow_id", workflowID, "state", s.String())
}
