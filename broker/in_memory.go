package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/logging"
)

// systemSender identifies the broker itself as the author of synthesized
// ERROR messages.
const systemSender = "broker"

// entry pairs a registration with its local recipient. Recipient is nil for
// purely remote registrations (Address set).
type entry struct {
	rec core.Recipient
	reg core.Registration
}

// Options holds configuration overrides passed to New().
type Options struct {
	// Logger receives dispatch and registry diagnostics.
	Logger logging.Logger
	// Transport forwards messages to registrations carrying an Address.
	Transport Transport
}

// InMemory is a process-local core.Broker. The registry is guarded by an
// RWMutex so concurrent registration and concurrent dispatch never corrupt
// it; activity counters are atomics. Messages sent by one goroutine to one
// receiver are delivered in send order because delivery happens on the
// sender's goroutine.
type InMemory struct {
	mu     sync.RWMutex
	agents map[string]entry

	logger    logging.Logger
	transport Transport

	sent          atomic.Int64
	delivered     atomic.Int64
	routingErrors atomic.Int64
	handlerErrors atomic.Int64
}

var _ core.Broker = (*InMemory)(nil)

// New constructs an empty in-memory broker with optional overrides.
func New(optFns ...func(o *Options)) *InMemory {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Transport == nil {
		opts.Transport = NewHTTPTransport()
	}
	return &InMemory{
		agents:    make(map[string]entry),
		logger:    opts.Logger,
		transport: opts.Transport,
	}
}

// WithLogger overrides the broker logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithTransport overrides the remote transport.
func WithTransport(t Transport) func(o *Options) {
	return func(o *Options) { o.Transport = t }
}

// Register adds (or replaces) an agent registration. rec may be nil only
// for remote registrations with a non-empty Address. Registrations are
// never auto-expired; they live until Unregister.
func (b *InMemory) Register(rec core.Recipient, reg core.Registration) error {
	if reg.AgentID == "" {
		return &core.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if rec == nil && reg.Address == "" {
		return &core.ValidationError{Field: "registration", Reason: "local registration requires a recipient"}
	}
	if rec != nil && rec.ID() != reg.AgentID {
		return &core.ValidationError{Field: "agent_id", Reason: fmt.Sprintf("recipient id %q does not match registration %q", rec.ID(), reg.AgentID)}
	}

	b.mu.Lock()
	b.agents[reg.AgentID] = entry{rec: rec, reg: reg}
	b.mu.Unlock()

	b.logger.Info("Agent registered", "agent_id", reg.AgentID, "type", reg.Type)
	return nil
}

// Unregister removes an agent registration.
func (b *InMemory) Unregister(agentID string) error {
	b.mu.Lock()
	_, ok := b.agents[agentID]
	delete(b.agents, agentID)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent %q: %w", agentID, core.ErrAgentNotFound)
	}
	b.logger.Info("Agent unregistered", "agent_id", agentID)
	return nil
}

// Agents returns a snapshot of all current registrations.
func (b *InMemory) Agents() []core.Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	regs := make([]core.Registration, 0, len(b.agents))
	for _, e := range b.agents {
		regs = append(regs, e.reg)
	}
	return regs
}

// Dispatch routes msg to its receiver. The call returns once the receiver's
// handler has returned. A message addressed to an unknown receiver, or to a
// receiver without a handler for its type, is answered with a synthesized
// ERROR to the sender and reported as a RoutingError to the caller.
func (b *InMemory) Dispatch(ctx context.Context, msg core.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	b.sent.Add(1)

	if msg.Receiver == core.BroadcastReceiver {
		return b.broadcast(ctx, msg)
	}

	start := time.Now()
	err := b.deliver(ctx, msg)
	b.logger.Debug("Dispatch finished", "sender", msg.Sender, "receiver", msg.Receiver, "message_type", string(msg.Type), "trace_id", msg.TraceID, "duration", time.Since(start))
	return err
}

func (b *InMemory) deliver(ctx context.Context, msg core.Message) error {
	b.mu.RLock()
	e, ok := b.agents[msg.Receiver]
	b.mu.RUnlock()

	if !ok {
		return b.routeFailure(ctx, msg, fmt.Sprintf("receiver not found: %s", msg.Receiver), core.ErrAgentNotFound)
	}

	if e.rec == nil {
		if err := b.transport.Send(ctx, e.reg.Address, msg); err != nil {
			return b.routeFailure(ctx, msg, fmt.Sprintf("remote delivery to %s failed: %v", msg.Receiver, err), err)
		}
		b.delivered.Add(1)
		return nil
	}

	if err := e.rec.Receive(ctx, msg); err != nil {
		if errors.Is(err, core.ErrNoHandler) {
			return b.routeFailure(ctx, msg, fmt.Sprintf("receiver %s has no handler for %s", msg.Receiver, msg.Type), core.ErrNoHandler)
		}
		b.handlerErrors.Add(1)
		return fmt.Errorf("receiver %s failed to process %s: %w", msg.Receiver, msg.Type, err)
	}

	b.delivered.Add(1)
	return nil
}

// broadcast fans a message out to every registered agent except the sender.
// Each copy keeps the original trace and workflow but carries a fresh ID.
func (b *InMemory) broadcast(ctx context.Context, msg core.Message) error {
	b.mu.RLock()
	ids := make([]string, 0, len(b.agents))
	for id := range b.agents {
		if id != msg.Sender {
			ids = append(ids, id)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		copied := msg
		copied.ID = core.NewID()
		copied.Receiver = id
		if err := b.deliver(ctx, copied); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// routeFailure runs the not-found error path: count it, answer the sender
// with a synthesized ERROR carrying the original trace, and surface a
// RoutingError to the dispatching caller. Never a silent drop.
func (b *InMemory) routeFailure(ctx context.Context, msg core.Message, reason string, cause error) error {
	b.routingErrors.Add(1)
	rerr := &core.RoutingError{Receiver: msg.Receiver, Type: msg.Type, Err: cause}
	b.logger.Error("Routing failed", "sender", msg.Sender, "receiver", msg.Receiver, "message_type", string(msg.Type), "reason", reason)

	// ERROR messages are not answered with further ERRORs to avoid ping-pong
	// between two misconfigured agents.
	if msg.Type == core.MessageTypeError {
		return rerr
	}

	b.mu.RLock()
	sender, ok := b.agents[msg.Sender]
	b.mu.RUnlock()
	if !ok || sender.rec == nil {
		return rerr
	}

	errMsg := core.NewErrorMessage(systemSender, msg.Sender, reason, msg.TraceID, msg.WorkflowID)
	if err := sender.rec.Receive(ctx, errMsg); err != nil && !errors.Is(err, core.ErrNoHandler) {
		b.logger.Error("Failed to deliver routing error to sender", "sender", msg.Sender, "error", err.Error())
	}
	return rerr
}

// Stats returns a snapshot of broker activity counters.
func (b *InMemory) Stats() core.BrokerStats {
	b.mu.RLock()
	registered := len(b.agents)
	b.mu.RUnlock()
	return core.BrokerStats{
		MessagesSent:      b.sent.Load(),
		MessagesDelivered: b.delivered.Load(),
		RoutingErrors:     b.routingErrors.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		RegisteredAgents:  registered,
	}
}
