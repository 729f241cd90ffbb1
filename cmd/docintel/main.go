// Command docintel serves the document intelligence HTTP API: ingestion and
// the question-answering surface that routes across the simple, enhanced,
// and agent RAG paths. Document deletion is not exposed over HTTP.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"docintel/internal/config"
	"docintel/internal/llm"
	"docintel/internal/objectstore"
	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/agentloop"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/chunker"
	"docintel/internal/rag/diff"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/ingest"
	"docintel/internal/rag/obs"
	"docintel/internal/rag/retrieve"
	"docintel/internal/rag/router"
	"docintel/internal/rag/service"
	"docintel/internal/rag/summarize"
	"docintel/internal/rag/version"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger("", cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx := context.Background()
	stores, err := databases.NewManager(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init stores")
	}
	defer stores.Close()
	defer version.WaitForPendingDiffs()

	objects := objectstore.ObjectStore(objectstore.NewMemoryStore())
	if cfg.S3.Bucket != "" && cfg.S3.Endpoint != "" {
		s3store, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init object store")
		}
		objects = s3store
	}

	httpClient := observability.NewHTTPClient(nil)
	mainLLM, err := llm.BuildMain(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build main LLM provider")
	}
	lightLLM, err := llm.BuildLight(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build light LLM provider")
	}

	// Model is left empty throughout: each Provider falls back to the
	// default model baked in at Build time (cfg.OpenAI.Model,
	// cfg.Anthropic.Model, ...) when the call site doesn't override it.
	emb := embedder.NewClient(cfg.OpenAI, cfg.EmbeddingDimension)
	summarizer := summarize.New(lightLLM, "", cfg.SummarizerConcurrency)
	detector := &version.Detector{
		Metadata:            stores.Metadata,
		Vector:              stores.Vector,
		Embedder:            emb,
		Provider:            lightLLM,
		TitleThreshold:      cfg.TitleSimilarityThreshold,
		ContentThreshold:    cfg.ContentSimilarityThreshold,
		ConfidenceThreshold: cfg.VersionMatchConfidence,
	}
	diffEngine := &diff.Engine{Metadata: stores.Metadata, Provider: lightLLM}
	chunking := chunker.Config{TargetSize: cfg.ChunkTargetSize, MaxSize: cfg.ChunkMaxSize, Overlap: cfg.ChunkOverlap}

	pipeline := ingest.NewPipeline(stores, objects, emb, summarizer, detector, diffEngine, chunking)

	retriever := &retrieve.Retriever{Search: stores.Search, Vector: stores.Vector, Metadata: stores.Metadata, Embedder: emb}
	queryRouter := &router.Router{Provider: lightLLM}
	answerer := &answer.Generator{
		Provider:         mainLLM,
		MaxContextTokens: cfg.GenerationMaxContextTokens,
		RequireCitations: cfg.RequireCitations,
	}
	loop := &agentloop.Loop{
		Provider:   mainLLM,
		Retriever:  retriever,
		Metadata:   stores.Metadata,
		DiffEngine: diffEngine,
		Answerer:   answerer,
		MaxSteps:   cfg.AgentMaxSteps,
	}

	svc := service.New(pipeline, retriever,
		service.WithRouter(queryRouter),
		service.WithAnswerer(answerer),
		service.WithAgentLoop(loop),
		service.WithMetadata(stores.Metadata),
		service.WithLogger(obs.ZerologLogger{}),
		service.WithMetrics(obs.NewOtelMetrics()),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleIngest(w, r, svc)
	})

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleQuery(w, r, svc)
	})

	addr := ":8080"
	log.Info().Str("addr", addr).Msg("docintel listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func handleIngest(w http.ResponseWriter, r *http.Request, svc *service.Service) {
	var req ingest.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	res, err := svc.Ingest(ctx, req)
	if err != nil {
		if dup, ok := err.(*ingest.DuplicateError); ok {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"existing_doc_id": dup.ExistingDocID})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func handleQuery(w http.ResponseWriter, r *http.Request, svc *service.Service) {
	var req struct {
		Question         string            `json:"question"`
		Filters          map[string]string `json:"filters"`
		AccessibleDocIDs []string          `json:"accessible_doc_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	res, err := svc.Ask(ctx, req.Question, req.Filters, req.AccessibleDocIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}
