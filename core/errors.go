package core

import (
	"fmt"
	"time"
)

var (
	// ErrAgentNotFound is returned when a message addresses an agent that is
	// not registered with the broker.
	ErrAgentNotFound = fmt.Errorf("agent not found")

	// ErrNoHandler is returned by a Recipient when it has no handler
	// registered for the incoming message type.
	ErrNoHandler = fmt.Errorf("no handler registered for message type")
)

// ValidationError reports an empty or malformed request before any work is
// attempted (empty query text, unknown message type, missing field).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a failure of an external collaborator (retrieval
// store or generation backend).
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err) }

// Unwrap exposes the collaborator error for errors.Is / errors.As.
func (e *UpstreamError) Unwrap() error { return e.Err }

// RoutingError reports a message that could not be delivered: unknown
// receiver or a receiver without a handler for the message type. It is
// always surfaced, never silently swallowed.
type RoutingError struct {
	Receiver string
	Type     MessageType
	Err      error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("cannot route %s to %q: %v", e.Type, e.Receiver, e.Err)
}

// Unwrap exposes the underlying cause (ErrAgentNotFound or ErrNoHandler).
func (e *RoutingError) Unwrap() error { return e.Err }

// CorrelationError reports a reply referencing a workflow with no pending
// waiter, typically because the waiter already timed out.
type CorrelationError struct {
	WorkflowID string
	Type       MessageType
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("no pending waiter for workflow %q (reply type %s)", e.WorkflowID, e.Type)
}

// TimeoutError reports that no matching reply arrived within the deadline
// of a pending request. The timeout abandons only the caller's wait; it
// does not stop agent-side work already in flight.
type TimeoutError struct {
	WorkflowID string
	Expected   []MessageType
	Deadline   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow %q timed out after %s waiting for %v", e.WorkflowID, e.Deadline, e.Expected)
}
