package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the semantic category of a Message. The set is
// closed: wire decoding rejects unknown values and in-process construction
// derives the type from the payload variant, so an unknown type can never
// reach a handler.
type MessageType string

const (
	// MessageTypeIndexRequest asks the retrieval agent to index a document.
	MessageTypeIndexRequest MessageType = "INDEX_REQUEST"
	// MessageTypeQueryRequest asks the retrieval agent for relevant chunks.
	MessageTypeQueryRequest MessageType = "QUERY_REQUEST"
	// MessageTypeRetrievalResult carries retrieved chunks (possibly none).
	MessageTypeRetrievalResult MessageType = "RETRIEVAL_RESULT"
	// MessageTypeResponseGenerated carries a generated answer.
	MessageTypeResponseGenerated MessageType = "RESPONSE_GENERATED"
	// MessageTypeError reports a failure back to the original sender.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeHealthCheck requests a status snapshot from an agent.
	MessageTypeHealthCheck MessageType = "HEALTH_CHECK"
	// MessageTypeAgentStatus answers a health check.
	MessageTypeAgentStatus MessageType = "AGENT_STATUS"
)

// Valid reports whether t is a member of the closed message type set.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeIndexRequest, MessageTypeQueryRequest, MessageTypeRetrievalResult,
		MessageTypeResponseGenerated, MessageTypeError, MessageTypeHealthCheck,
		MessageTypeAgentStatus:
		return true
	default:
		return false
	}
}

// BroadcastReceiver addresses a message to every registered agent except the
// sender.
const BroadcastReceiver = "*"

// Message is the unit of inter-agent communication. After emission it must
// be treated as immutable. It captures:
//   - Identity (ID) and causal correlation (TraceID)
//   - The end-to-end operation it serves (WorkflowID)
//   - Addressing (Sender, Receiver)
//   - A typed payload whose concrete shape is fixed by Type
//   - Uninterpreted auxiliary metadata
//
// TraceID is set once at the root of a request/reply chain and copied
// verbatim into every reply. WorkflowID is set once per user-visible
// operation and copied into every message emitted while servicing it.
// Err is populated only on MessageTypeError messages.
type Message struct {
	ID         string
	Type       MessageType
	Sender     string
	Receiver   string
	Payload    Payload
	Metadata   map[string]any
	TraceID    string
	WorkflowID string
	Timestamp  time.Time
	Err        string
}

// NewMessage builds a message with a fresh ID and a fresh TraceID, starting
// a new causal chain. The message type is derived from the payload variant.
func NewMessage(sender, receiver string, payload Payload) Message {
	return Message{
		ID:        NewID(),
		Type:      payload.messageType(),
		Sender:    sender,
		Receiver:  receiver,
		Payload:   payload,
		TraceID:   NewID(),
		Timestamp: time.Now().UTC(),
	}
}

// NewReply builds a message answering original: it is addressed to the
// original sender and reuses the original TraceID and WorkflowID verbatim.
// This is the only sanctioned way to preserve causal correlation.
func NewReply(original Message, sender string, payload Payload) Message {
	m := NewMessage(sender, original.Sender, payload)
	m.TraceID = original.TraceID
	m.WorkflowID = original.WorkflowID
	return m
}

// NewErrorMessage builds an ERROR message carrying reason, preserving the
// given trace and workflow identifiers (pass empty strings to start fresh).
func NewErrorMessage(sender, receiver, reason, traceID, workflowID string) Message {
	m := NewMessage(sender, receiver, ErrorPayload{Reason: reason})
	if traceID != "" {
		m.TraceID = traceID
	}
	m.WorkflowID = workflowID
	m.Err = reason
	return m
}

// NewErrorReply builds an ERROR message answering original.
func NewErrorReply(original Message, sender, reason string) Message {
	return NewErrorMessage(sender, original.Sender, reason, original.TraceID, original.WorkflowID)
}

// IsError reports whether this message signals a failure.
func (m Message) IsError() bool { return m.Type == MessageTypeError || m.Err != "" }

// WithMetadata returns a copy of the message with key set in its metadata.
// The original message is not modified.
func (m Message) WithMetadata(key string, value any) Message {
	md := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// Validate checks the invariants required before a message may enter the
// dispatch path.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", string(m.Type))}
	}
	if m.Sender == "" {
		return &ValidationError{Field: "sender", Reason: "must not be empty"}
	}
	if m.Receiver == "" {
		return &ValidationError{Field: "receiver", Reason: "must not be empty"}
	}
	if m.Payload == nil {
		return &ValidationError{Field: "payload", Reason: "must not be nil"}
	}
	if got := m.Payload.messageType(); got != m.Type {
		return &ValidationError{Field: "payload", Reason: fmt.Sprintf("payload shape %s does not match type %s", got, m.Type)}
	}
	return nil
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch,
// which is the numeric form used on the wire.
func (m Message) UnixSeconds() float64 { return float64(m.Timestamp.UnixNano()) / 1e9 }

// wireMessage is the serialized shape of a Message for cross-process
// transport. Payload is encoded as a JSON object whose shape is fixed by
// the type field.
type wireMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Sender     string          `json:"sender"`
	Receiver   string          `json:"receiver"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   map[string]any  `json:"metadata"`
	TraceID    string          `json:"trace_id"`
	WorkflowID *string         `json:"workflow_id"`
	Timestamp  float64         `json:"timestamp"`
	Err        *string         `json:"error"`
}

// MarshalJSON encodes the message in its wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	w := wireMessage{
		ID:        m.ID,
		Type:      string(m.Type),
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Payload:   payload,
		Metadata:  m.Metadata,
		TraceID:   m.TraceID,
		Timestamp: m.UnixSeconds(),
	}
	if m.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	if m.WorkflowID != "" {
		w.WorkflowID = &m.WorkflowID
	}
	if m.Err != "" {
		w.Err = &m.Err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire message, rejecting unknown message types and
// decoding the payload into the variant fixed by the type field.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t := MessageType(w.Type)
	if !t.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", w.Type)}
	}
	payload, err := decodePayload(t, w.Payload)
	if err != nil {
		return err
	}
	sec := int64(w.Timestamp)
	nsec := int64((w.Timestamp - float64(sec)) * 1e9)

	m.ID = w.ID
	m.Type = t
	m.Sender = w.Sender
	m.Receiver = w.Receiver
	m.Payload = payload
	m.Metadata = w.Metadata
	m.TraceID = w.TraceID
	m.Timestamp = time.Unix(sec, nsec).UTC()
	if w.WorkflowID != nil {
		m.WorkflowID = *w.WorkflowID
	} else {
		m.WorkflowID = ""
	}
	if w.Err != nil {
		m.Err = *w.Err
	} else {
		m.Err = ""
	}
	return nil
}

// NewID generates a new unique identifier used for messages, traces and
// workflows.
func NewID() string { return uuid.NewString() }
