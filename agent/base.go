package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/logging"
)

// Handler processes one typed message. A non-nil error (or a panic) never
// crashes the dispatch path: the runtime converts it into an ERROR reply to
// the original sender, once, centrally.
type Handler func(ctx context.Context, msg core.Message) error

// Runtime bundles shared agent behavior: handler registration, send/reply
// primitives and handling statistics. Embed it in concrete agent
// implementations. All exported methods are goroutine-safe.
type Runtime struct {
	id        string
	agentType string
	broker    core.Broker
	logger    logging.Logger

	mu       sync.Mutex
	handlers map[core.MessageType]Handler

	statsMu     sync.Mutex
	handled     int64
	errCount    int64
	avgHandling float64 // seconds
}

var _ core.Recipient = (*Runtime)(nil)

// NewRuntime constructs a Runtime. HEALTH_CHECK messages are answered with
// AGENT_STATUS by default; agents may register their own handler to
// override that.
func NewRuntime(id, agentType string, b core.Broker, logger logging.Logger) Runtime {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return Runtime{
		id:        id,
		agentType: agentType,
		broker:    b,
		logger:    logger,
		handlers:  make(map[core.MessageType]Handler),
	}
}

// ID returns the agent identifier used for addressing.
func (r *Runtime) ID() string { return r.id }

// Logger returns the agent logger.
func (r *Runtime) Logger() logging.Logger { return r.logger }

// Register adds this agent to the broker under its id with the given
// capability tags.
func (r *Runtime) Register(capabilities ...string) error {
	return r.broker.Register(r, core.Registration{
		AgentID:      r.id,
		Type:         r.agentType,
		Capabilities: capabilities,
	})
}

// Unregister removes this agent from the broker.
func (r *Runtime) Unregister() error { return r.broker.Unregister(r.id) }

// RegisterHandler associates a handler with a message type. Re-registration
// for the same type replaces the previous handler.
func (r *Runtime) RegisterHandler(t core.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Send builds a message with a fresh id and trace addressed to receiver and
// routes it through the broker. The returned message is the one dispatched.
func (r *Runtime) Send(ctx context.Context, receiver string, payload core.Payload) (core.Message, error) {
	msg := core.NewMessage(r.id, receiver, payload)
	return msg, r.SendMessage(ctx, msg)
}

// SendMessage dispatches a prebuilt message. The sender must be this agent.
func (r *Runtime) SendMessage(ctx context.Context, msg core.Message) error {
	if msg.Sender != r.id {
		return &core.ValidationError{Field: "sender", Reason: fmt.Sprintf("message sender %q is not agent %q", msg.Sender, r.id)}
	}
	return r.broker.Dispatch(ctx, msg)
}

// ReplyTo answers original, reusing its trace and workflow identifiers
// verbatim. This is the only sanctioned way to preserve causal correlation.
func (r *Runtime) ReplyTo(ctx context.Context, original core.Message, payload core.Payload) (core.Message, error) {
	reply := core.NewReply(original, r.id, payload)
	return reply, r.broker.Dispatch(ctx, reply)
}

// ReplyError answers original with an ERROR message carrying reason.
func (r *Runtime) ReplyError(ctx context.Context, original core.Message, reason string) error {
	return r.broker.Dispatch(ctx, core.NewErrorReply(original, r.id, reason))
}

// Receive implements core.Recipient. It runs the handler registered for the
// message type, converts any failure (error return or panic) into an ERROR
// reply to the original sender, and updates handling statistics. It returns
// ErrNoHandler (wrapped) when no handler exists so the broker can run its
// not-found path; all other handler outcomes yield a nil return because the
// failure has already been answered.
func (r *Runtime) Receive(ctx context.Context, msg core.Message) error {
	r.mu.Lock()
	h, ok := r.handlers[msg.Type]
	r.mu.Unlock()
	if !ok {
		if msg.Type == core.MessageTypeHealthCheck {
			h = r.handleHealthCheck
		} else {
			return fmt.Errorf("%s: %w", msg.Type, core.ErrNoHandler)
		}
	}

	start := time.Now()
	err := r.invoke(ctx, h, msg)
	r.recordHandling(time.Since(start), err != nil)

	if err != nil {
		r.logger.Error("Handler failed", "agent_id", r.id, "message_type", string(msg.Type), "trace_id", msg.TraceID, "error", err.Error())
		// Failed ERROR handlers are only logged; answering an ERROR with
		// another ERROR could bounce between two agents indefinitely.
		if msg.Type != core.MessageTypeError {
			if rerr := r.ReplyError(ctx, msg, err.Error()); rerr != nil {
				r.logger.Error("Failed to send error reply", "agent_id", r.id, "trace_id", msg.TraceID, "error", rerr.Error())
			}
		}
	}
	return nil
}

// invoke runs h, converting panics into errors.
func (r *Runtime) invoke(ctx context.Context, h Handler, msg core.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, msg)
}

// recordHandling updates the statistics counters. The running average uses
// the incremental form avg' = (avg*(n-1)+t)/n, equivalent to the arithmetic
// mean of all observed durations.
func (r *Runtime) recordHandling(dur time.Duration, failed bool) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.handled++
	if failed {
		r.errCount++
	}
	n := float64(r.handled)
	r.avgHandling = (r.avgHandling*(n-1) + dur.Seconds()) / n
}

// Health returns a point-in-time snapshot of the agent's statistics.
func (r *Runtime) Health() core.Health {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return core.Health{
		AgentID:             r.id,
		Status:              "healthy",
		MessagesHandled:     r.handled,
		Errors:              r.errCount,
		AverageHandlingTime: r.avgHandling,
	}
}

// handleHealthCheck answers HEALTH_CHECK with an AGENT_STATUS snapshot.
func (r *Runtime) handleHealthCheck(ctx context.Context, msg core.Message) error {
	_, err := r.ReplyTo(ctx, msg, core.AgentStatusPayload{Health: r.Health()})
	return err
}
