package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage("coordinator", "retrieval", QueryRequestPayload{Query: "kpis", K: 5, Threshold: 0.7})

	assert.NotEmpty(t, msg.ID)
	assert.Len(t, msg.ID, 36) // UUID length
	assert.NotEmpty(t, msg.TraceID)
	assert.Equal(t, MessageTypeQueryRequest, msg.Type)
	assert.Equal(t, "coordinator", msg.Sender)
	assert.Equal(t, "retrieval", msg.Receiver)
	assert.False(t, msg.IsError())
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)
}

func TestNewReply_PreservesCorrelation(t *testing.T) {
	original := NewMessage("coordinator", "retrieval", QueryRequestPayload{Query: "kpis"})
	original.WorkflowID = NewID()

	reply := NewReply(original, "retrieval", RetrievalResultPayload{TopChunks: []string{"a"}})

	assert.Equal(t, original.TraceID, reply.TraceID)
	assert.Equal(t, original.WorkflowID, reply.WorkflowID)
	assert.Equal(t, original.Sender, reply.Receiver)
	assert.NotEqual(t, original.ID, reply.ID)
}

func TestNewErrorReply(t *testing.T) {
	original := NewMessage("a", "b", QueryRequestPayload{Query: "x"})
	original.WorkflowID = "wf-1"

	reply := NewErrorReply(original, "b", "boom")

	assert.True(t, reply.IsError())
	assert.Equal(t, MessageTypeError, reply.Type)
	assert.Equal(t, "boom", reply.Err)
	assert.Equal(t, original.TraceID, reply.TraceID)
	assert.Equal(t, "wf-1", reply.WorkflowID)
	assert.Equal(t, "a", reply.Receiver)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Message)
		wantErr bool
	}{
		{name: "valid", mutate: func(m *Message) {}, wantErr: false},
		{name: "unknown type", mutate: func(m *Message) { m.Type = "BOGUS" }, wantErr: true},
		{name: "empty sender", mutate: func(m *Message) { m.Sender = "" }, wantErr: true},
		{name: "empty receiver", mutate: func(m *Message) { m.Receiver = "" }, wantErr: true},
		{name: "nil payload", mutate: func(m *Message) { m.Payload = nil }, wantErr: true},
		{name: "payload type mismatch", mutate: func(m *Message) { m.Type = MessageTypeError }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage("a", "b", QueryRequestPayload{Query: "q"})
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageWireRoundTrip(t *testing.T) {
	msg := NewMessage("retrieval", "response", RetrievalResultPayload{
		Query:          "total inventory value",
		TopChunks:      []string{"Total inventory value: $600"},
		ChunkMetadata:  []map[string]any{{"file_name": "inventory.txt"}},
		CollectionSize: 12,
	})
	msg.WorkflowID = NewID()
	msg = msg.WithMetadata("search_k", 3)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.TraceID, decoded.TraceID)
	assert.Equal(t, msg.WorkflowID, decoded.WorkflowID)
	assert.WithinDuration(t, msg.Timestamp, decoded.Timestamp, time.Millisecond)

	payload, ok := decoded.Payload.(RetrievalResultPayload)
	require.True(t, ok, "payload should decode into the variant fixed by type")
	assert.Equal(t, []string{"Total inventory value: $600"}, payload.TopChunks)
	assert.Equal(t, 12, payload.CollectionSize)
}

func TestMessageWireShape(t *testing.T) {
	msg := NewMessage("a", "b", ErrorPayload{Reason: "nope"})
	msg.Err = "nope"

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"id", "type", "sender", "receiver", "payload", "metadata", "trace_id", "workflow_id", "timestamp", "error"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "ERROR", raw["type"])
	assert.Equal(t, "nope", raw["error"])
	assert.Nil(t, raw["workflow_id"])
	_, isNumber := raw["timestamp"].(float64)
	assert.True(t, isNumber, "timestamp must serialize as a number")
}

func TestMessageUnmarshal_RejectsUnknownType(t *testing.T) {
	data := []byte(`{"id":"1","type":"TOTALLY_NEW","sender":"a","receiver":"b","payload":{},"metadata":{},"trace_id":"t","workflow_id":null,"timestamp":1.0,"error":null}`)

	var msg Message
	err := json.Unmarshal(data, &msg)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestWithMetadata_DoesNotMutateOriginal(t *testing.T) {
	msg := NewMessage("a", "b", HealthCheckPayload{})
	annotated := msg.WithMetadata("model_used", "mock")

	assert.Nil(t, msg.Metadata)
	assert.Equal(t, "mock", annotated.Metadata["model_used"])
}
