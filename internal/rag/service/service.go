// Package service provides the top-level entry point tying the ingestion
// pipeline and the hybrid retriever to one set of observability hooks.
package service

import (
	"context"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/agentloop"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/ingest"
	"docintel/internal/rag/retrieve"
	"docintel/internal/rag/router"
)

// Service provides high-level RAG operations backed by the ingestion
// pipeline, the hybrid retriever, the query router, and the answer
// generator.
type Service struct {
	pipeline  *ingest.Pipeline
	retriever *retrieve.Retriever
	router    *router.Router
	answerer  *answer.Generator
	agentLoop *agentloop.Loop
	metadata  databases.MetadataStore

	log     Logger
	metrics Metrics
	clock   Clock
}

// New constructs a Service from an already-wired pipeline, retriever,
// router, and answer generator. metadata is used to resolve document
// titles for context-block annotation and citations; it may be nil, in
// which case titles are left blank.
func New(pipeline *ingest.Pipeline, retriever *retrieve.Retriever, opts ...Option) *Service {
	s := &Service{
		pipeline:  pipeline,
		retriever: retriever,
		router:    &router.Router{},
		answerer:  &answer.Generator{},
		log:       defaultLogger{},
		metrics:   NoopMetrics{},
		clock:     SystemClock{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures the Service during construction.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets a custom clock implementation.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithRouter sets the query router used by Ask.
func WithRouter(r *router.Router) Option { return func(s *Service) { s.router = r } }

// WithAnswerer sets the answer generator used by Ask.
func WithAnswerer(a *answer.Generator) Option { return func(s *Service) { s.answerer = a } }

// WithMetadata sets the metadata store Ask uses to resolve document titles.
func WithMetadata(m databases.MetadataStore) Option { return func(s *Service) { s.metadata = m } }

// WithAgentLoop sets the agent loop Ask dispatches to when the router
// classifies a question as route "agent". Without one, agent-routed
// questions fall back to the simple/enhanced RAG pipeline.
func WithAgentLoop(l *agentloop.Loop) Option { return func(s *Service) { s.agentLoop = l } }

// Ingest runs a document through the full ingestion pipeline and records
// per-call metrics.
func (s *Service) Ingest(ctx context.Context, req ingest.UploadRequest) (ingest.UploadResult, error) {
	start := s.clock.Now()
	s.metrics.IncCounter("ingestion_docs_total", map[string]string{"group_id": req.GroupID})
	res, err := s.pipeline.Upload(ctx, req)
	dur := s.clock.Now().Sub(start)
	s.metrics.ObserveHistogram("ingestion_duration_ms", float64(dur.Milliseconds()), map[string]string{"group_id": req.GroupID})
	if err != nil {
		s.log.Error("ingestion failed", map[string]any{"filename": req.Filename, "error": err.Error()})
		return ingest.UploadResult{}, err
	}
	s.metrics.IncCounter("ingestion_chunks_total", map[string]string{"group_id": req.GroupID})
	return res, nil
}

// Delete removes a document from every store via the ingestion pipeline.
func (s *Service) Delete(ctx context.Context, docID string) error {
	return s.pipeline.Delete(ctx, docID)
}

// Retrieve runs the hybrid retrieval engine and records per-call metrics.
func (s *Service) Retrieve(ctx context.Context, query string, opt retrieve.Options) ([]retrieve.RetrievedChunk, error) {
	start := s.clock.Now()
	hits, err := s.retriever.Retrieve(ctx, query, opt)
	dur := s.clock.Now().Sub(start)
	s.metrics.ObserveHistogram("retrieval_duration_ms", float64(dur.Milliseconds()), nil)
	if err != nil {
		s.log.Error("retrieval failed", map[string]any{"query": query, "error": err.Error()})
		return nil, err
	}
	for range hits {
		s.metrics.IncCounter("retrieval_results_total", nil)
	}
	return hits, nil
}

// defaultLogger is a minimal internal logger that drops logs; callers
// supply a real one via WithLogger in production (see cmd/docintel).
type defaultLogger struct{}

func (defaultLogger) Info(string, map[string]any)  {}
func (defaultLogger) Error(string, map[string]any) {}
func (defaultLogger) Debug(string, map[string]any) {}
