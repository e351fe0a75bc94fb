// Package ragmesh provides a high-level façade over the message bus, broker
// and agents making up a retrieval-augmented question answering system.
// Most applications interact with this package by:
//  1. Creating a RagMesh via New() (optionally overriding the retriever,
//     generator, logger or request timeout)
//  2. Ingesting documents with Ingest
//  3. Asking questions with Query
//
// The façade wires a coordinator, a retrieval agent and a response agent to
// an in-memory broker. All defaults are safe for local development and
// testing; production deployments typically supply a model-backed generator
// and a structured logger.
package ragmesh

import (
	"context"
	"time"

	"github.com/hupe1980/ragmesh/agent"
	"github.com/hupe1980/ragmesh/broker"
	"github.com/hupe1980/ragmesh/core"
	"github.com/hupe1980/ragmesh/logging"
	"github.com/hupe1980/ragmesh/model"
	"github.com/hupe1980/ragmesh/retrieval"
)

// Options configures the RagMesh instance.
type Options struct {
	// Retriever stores and searches document chunks (defaults to the
	// in-memory token overlap index).
	Retriever core.Retriever

	// Generator produces answers from prompts (defaults to a mock suitable
	// for tests and examples).
	Generator core.Generator

	// RequestTimeout bounds each coordinator request/reply exchange.
	RequestTimeout time.Duration

	// SearchK is the default number of chunks retrieved per query.
	SearchK int

	// SearchThreshold is the default minimum similarity score.
	SearchThreshold float64

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// RagMesh is the high-level façade aggregating the broker and agents.
type RagMesh struct {
	opts        Options
	broker      *broker.InMemory
	coordinator *agent.Coordinator
	retrieval   *agent.RetrievalAgent
	response    *agent.ResponseAgent
}

// New creates a new RagMesh instance with optional overrides. Any unset
// collaborator is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*RagMesh, error) {
	opts := Options{
		Retriever:       retrieval.NewInMemoryIndex(),
		Generator:       model.NewMockGenerator("mock", "mock"),
		RequestTimeout:  agent.DefaultRequestTimeout,
		SearchK:         5,
		SearchThreshold: 0.7,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	b := broker.New(broker.WithLogger(opts.Logger))

	ra, err := agent.NewRetrievalAgent(b, opts.Retriever, func(o *agent.RetrievalOptions) {
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	rsa, err := agent.NewResponseAgent(b, opts.Generator, func(o *agent.ResponseOptions) {
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	c, err := agent.NewCoordinator(b, func(o *agent.CoordinatorOptions) {
		o.RequestTimeout = opts.RequestTimeout
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &RagMesh{
		opts:        opts,
		broker:      b,
		coordinator: c,
		retrieval:   ra,
		response:    rsa,
	}, nil
}

// Ingest indexes a document so later queries can retrieve its chunks.
func (m *RagMesh) Ingest(ctx context.Context, doc core.Document) (agent.IngestResult, error) {
	return m.coordinator.Ingest(ctx, doc)
}

// Query answers a question, grounded in ingested documents when relevant
// chunks exist and from general knowledge otherwise.
func (m *RagMesh) Query(ctx context.Context, query string) (agent.QueryResult, error) {
	return m.coordinator.Query(ctx, query, m.opts.SearchK, m.opts.SearchThreshold)
}

// QueryWith answers a question with explicit retrieval parameters.
func (m *RagMesh) QueryWith(ctx context.Context, query string, k int, threshold float64) (agent.QueryResult, error) {
	return m.coordinator.Query(ctx, query, k, threshold)
}

// ClearDocuments removes every indexed chunk.
func (m *RagMesh) ClearDocuments(ctx context.Context) error {
	return m.retrieval.Clear(ctx)
}

// CollectionInfo reports the size of the indexed collection.
func (m *RagMesh) CollectionInfo(ctx context.Context) (core.CollectionInfo, error) {
	return m.retrieval.Info(ctx)
}

// Health returns a status snapshot per agent.
func (m *RagMesh) Health() []core.Health {
	return []core.Health{
		m.coordinator.Health(),
		m.retrieval.Health(),
		m.response.Health(),
	}
}

// BrokerStats returns the broker's activity counters.
func (m *RagMesh) BrokerStats() core.BrokerStats { return m.broker.Stats() }

// Shutdown unregisters every agent from the broker. The mesh must not be
// used afterwards.
func (m *RagMesh) Shutdown() error {
	for _, id := range []string{m.coordinator.ID(), m.retrieval.ID(), m.response.ID()} {
		if err := m.broker.Unregister(id); err != nil {
			return err
		}
	}
	return nil
}
