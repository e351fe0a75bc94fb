package core

import (
	"encoding/json"
	"fmt"
)

// Payload represents the typed body of a Message. Concrete payload types
// implement the unexported messageType marker, making the set closed: every
// MessageType maps to exactly one payload shape and handlers can switch on
// a known variant instead of probing an untyped map.
type Payload interface{ messageType() MessageType }

// IndexRequestPayload asks for a document to be added to the collection.
// Chunking happens upstream of the coordination layer; the request carries
// the already-split chunks together with a stable document reference.
type IndexRequestPayload struct {
	DocumentRef string         `json:"document_ref"`
	Chunks      []string       `json:"chunks"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (IndexRequestPayload) messageType() MessageType { return MessageTypeIndexRequest }

// QueryRequestPayload asks for the chunks most relevant to a query.
type QueryRequestPayload struct {
	Query     string  `json:"query"`
	K         int     `json:"search_k"`
	Threshold float64 `json:"similarity_threshold"`
}

func (QueryRequestPayload) messageType() MessageType { return MessageTypeQueryRequest }

// RetrievalResultPayload carries the outcome of an index or search
// operation. TopChunks may legitimately be empty: that signals "no relevant
// context", not an error.
type RetrievalResultPayload struct {
	Query          string           `json:"query,omitempty"`
	TopChunks      []string         `json:"top_chunks"`
	ChunkMetadata  []map[string]any `json:"chunk_metadata"`
	CollectionSize int              `json:"collection_size"`
}

func (RetrievalResultPayload) messageType() MessageType { return MessageTypeRetrievalResult }

// ResponseGeneratedPayload carries a generated answer. ResponseType is
// "rag" when the answer was grounded in retrieved chunks and "general"
// otherwise; SourcesUsed is the full count of retrieved chunks even when
// only a subset appears in the prompt.
type ResponseGeneratedPayload struct {
	Query          string  `json:"query"`
	Answer         string  `json:"answer"`
	ResponseType   string  `json:"response_type"`
	SourcesUsed    int     `json:"sources_used"`
	CollectionSize int     `json:"collection_size"`
	ElapsedSeconds float64 `json:"processing_time_seconds"`
}

func (ResponseGeneratedPayload) messageType() MessageType { return MessageTypeResponseGenerated }

// ErrorPayload reports a failure across an agent boundary.
type ErrorPayload struct {
	Reason string `json:"error"`
}

func (ErrorPayload) messageType() MessageType { return MessageTypeError }

// HealthCheckPayload requests a status snapshot from an agent.
type HealthCheckPayload struct{}

func (HealthCheckPayload) messageType() MessageType { return MessageTypeHealthCheck }

// AgentStatusPayload answers a health check with the agent's current
// statistics.
type AgentStatusPayload struct {
	Health Health `json:"health"`
}

func (AgentStatusPayload) messageType() MessageType { return MessageTypeAgentStatus }

// decodePayload unmarshals raw into the payload variant fixed by t.
func decodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var (
		p   Payload
		err error
	)
	switch t {
	case MessageTypeIndexRequest:
		var v IndexRequestPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeQueryRequest:
		var v QueryRequestPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeRetrievalResult:
		var v RetrievalResultPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeResponseGenerated:
		var v ResponseGeneratedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeError:
		var v ErrorPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeHealthCheck:
		var v HealthCheckPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case MessageTypeAgentStatus:
		var v AgentStatusPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", string(t))}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return p, nil
}
