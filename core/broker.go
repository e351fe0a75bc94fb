package core

import "context"

// Recipient is the receiving side of the dispatch path. Agents implement it
// (via the agent.Runtime embed) and register themselves with a Broker.
//
// Receive processes exactly one message through the handler registered for
// its type and returns once the handler returns. A Recipient must never
// panic out of Receive; handler failures are converted to ERROR replies by
// the runtime. Receive returns ErrNoHandler (possibly wrapped) when no
// handler exists for the message type so the broker can run its not-found
// error path.
type Recipient interface {
	ID() string
	Receive(ctx context.Context, msg Message) error
}

// Registration describes an agent to the broker and to monitoring. Address
// is optional; when set, the broker may forward messages for this agent to
// an out-of-process transport instead of a local Recipient.
type Registration struct {
	AgentID      string   `json:"agent_id"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Address      string   `json:"address,omitempty"`
}

// Broker routes messages between registered agents.
//
// Dispatch is synchronous: the call returns once the receiver's handler has
// returned. Concurrency comes from independent Dispatch calls running in
// parallel; two dispatches to different agents never block each other.
// A message addressed to an unknown receiver, or to a receiver without a
// handler for its type, is never dropped silently: the broker synthesizes
// an ERROR message back to the sender carrying the original trace.
type Broker interface {
	Register(rec Recipient, reg Registration) error
	Unregister(agentID string) error
	Dispatch(ctx context.Context, msg Message) error
	Agents() []Registration
}

// BrokerStats is a point-in-time snapshot of broker activity counters.
type BrokerStats struct {
	MessagesSent      int64 `json:"messages_sent"`
	MessagesDelivered int64 `json:"messages_delivered"`
	RoutingErrors     int64 `json:"routing_errors"`
	HandlerErrors     int64 `json:"handler_errors"`
	RegisteredAgents  int   `json:"registered_agents"`
}
