package testutil

import (
	"fmt"

	"github.com/hupe1980/ragmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in
// tests. Example:
//
//	msg := NewMessageBuilder().From("client").To("retrieval-agent").Query("total value").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	sender     string
	receiver   string
	payload    core.Payload
	workflowID string
	traceID    string
	metadata   map[string]any
}

// NewMessageBuilder creates a builder with default sender "test-client".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{sender: "test-client", payload: core.HealthCheckPayload{}}
}

// From sets the sender (chainable).
func (b *MessageBuilder) From(sender string) *MessageBuilder { b.sender = sender; return b }

// To sets the receiver (chainable).
func (b *MessageBuilder) To(receiver string) *MessageBuilder { b.receiver = receiver; return b }

// Workflow sets the workflow id (chainable).
func (b *MessageBuilder) Workflow(id string) *MessageBuilder { b.workflowID = id; return b }

// Trace overrides the auto-generated trace id (chainable).
func (b *MessageBuilder) Trace(id string) *MessageBuilder { b.traceID = id; return b }

// Query sets a QUERY_REQUEST payload (chainable).
func (b *MessageBuilder) Query(query string) *MessageBuilder {
	b.payload = core.QueryRequestPayload{Query: query, K: 5, Threshold: 0.7}
	return b
}

// Index sets an INDEX_REQUEST payload (chainable).
func (b *MessageBuilder) Index(ref string, chunks ...string) *MessageBuilder {
	b.payload = core.IndexRequestPayload{DocumentRef: ref, Chunks: chunks}
	return b
}

// Payload sets an arbitrary payload (chainable).
func (b *MessageBuilder) Payload(p core.Payload) *MessageBuilder { b.payload = p; return b }

// Meta adds one metadata entry (chainable).
func (b *MessageBuilder) Meta(key string, value any) *MessageBuilder {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
	return b
}

// Build assembles the message.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.sender, b.receiver, b.payload)
	if b.traceID != "" {
		msg.TraceID = b.traceID
	}
	msg.WorkflowID = b.workflowID
	for k, v := range b.metadata {
		msg = msg.WithMetadata(k, v)
	}
	return msg
}

// Doc builds a document with generated chunk texts, useful when tests only
// care about collection sizes.
func Doc(ref string, chunks int) core.Document {
	texts := make([]string, chunks)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d of %s", i+1, ref)
	}
	return core.Document{Ref: ref, Chunks: texts}
}
