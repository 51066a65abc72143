// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the FitBeat recommender together.
//
// This package contains the Service type that builds every component from
// a Config: the catalog store, the LLM oracle behind a circuit breaker, the
// vector index, the lyrics source, the plan executor and its collaborators,
// conversation memory, HTTP routing and observability.
//
// # Usage
//
//	svc, err := orchestrator.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	// CLI: one request
//	state, err := svc.Agent().Recommend(ctx, agent.Request{Prompt: prompt})
//
//	// Server: blocks until ctx is cancelled
//	err = svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/orchestrator/agent"
	"github.com/AleutianAI/fitbeat/services/orchestrator/conversation"
	"github.com/AleutianAI/fitbeat/services/orchestrator/observability"
	"github.com/AleutianAI/fitbeat/services/orchestrator/routes"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/filter"
	"github.com/AleutianAI/fitbeat/services/recommender/lyrics"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/AleutianAI/fitbeat/services/recommender/rerank"
	"github.com/AleutianAI/fitbeat/services/recommender/semantic"
	"github.com/AleutianAI/fitbeat/services/recommender/translate"
	"github.com/AleutianAI/fitbeat/services/storage/kv"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "fitbeat"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the recommender service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Agent returns the planning agent.
	Agent() *agent.Agent

	// Memory returns the conversation memory.
	Memory() *conversation.Memory

	// Indexer returns the bulk indexer for the configured vector index.
	Indexer() *semantic.BulkIndexer

	// Close releases every resource. Safe to call once after New succeeds.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// LLMConfig selects and configures the oracle backend.
type LLMConfig struct {
	// Backend is "openai" or "ollama". Default: "openai".
	Backend string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	OllamaURL   string
	OllamaModel string

	Breaker llm.BreakerConfig
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Backend is "openai", "ollama" or "http". Default: the LLM backend.
	Backend string

	// Model overrides the backend's default embedding model.
	Model string

	// URL is the embedding service for the "http" backend.
	URL string
}

// GCSConfig enables playlist upload to Cloud Storage when Bucket is set.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// RecommenderConfig tunes the recommendation pipeline.
type RecommenderConfig struct {
	TargetCount       int
	EmbeddingTopK     int
	FilterMaxAttempts int
	ContextChars      int
	ReinsertUnranked  bool
	SkipRetrieval     bool

	// MemoryTTL bounds how long an idle session is remembered. Zero keeps
	// summaries forever.
	MemoryTTL time.Duration

	// LyricsTTL is how long fetched lyrics are cached.
	LyricsTTL time.Duration
}

// Config holds every option the service needs. The cmd layer loads it
// from file and environment; tests build it directly.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// APIToken protects /v1 when non-empty.
	APIToken string

	LLM       LLMConfig
	Embedding EmbeddingConfig

	// WeaviateURL is the vector database URL. Empty uses an in-memory
	// index that does not survive restarts.
	WeaviateURL string

	Telemetry observability.TelemetryConfig

	// CatalogPath is a CSV export or SQLite database of tracks.
	CatalogPath  string
	CatalogTable string
	WatchCatalog bool

	// DataDir holds the kv store (lyrics cache, conversation memory).
	// Empty keeps everything in memory.
	DataDir string

	PlaylistsDir string
	TracksDir    string
	GCS          GCSConfig

	GeniusToken   string
	YouTubeAPIKey string

	Recommender RecommenderConfig

	// RichOutput styles summaries for a terminal.
	RichOutput bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New
// returns.
type service struct {
	config      Config
	logger      *slog.Logger
	router      *gin.Engine
	registry    *prometheus.Registry
	store       *catalog.Store
	db          *kv.DB
	oracle      *llm.BreakerClient
	indexName   string
	agent       *agent.Agent
	memory      *conversation.Memory
	indexer     *semantic.BulkIndexer
	gcsSink     *playlist.GCSSink
	telemetryFn func(context.Context) error
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the service.
//
// # Description
//
//  1. Applies defaults and initializes telemetry.
//  2. Loads the catalog.
//  3. Opens the kv store.
//  4. Creates the LLM oracle (behind a circuit breaker) and the embedder.
//  5. Connects the vector index (Weaviate or in-memory).
//  6. Builds the recommender components and the agent.
//  7. Registers HTTP routes.
//
// # Outputs
//
//   - Service: Ready to use. Call Close when done.
//   - error: Non-nil if a required component cannot be created. Optional
//     components (YouTube links, lyrics, GCS upload) are skipped with a
//     warning when unconfigured.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		config:   applyConfigDefaults(cfg),
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdown, err := observability.InitTelemetry(ctx, s.config.Telemetry, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryFn = shutdown

	if err := s.build(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) build(ctx context.Context) error {
	cfg := s.config
	metrics := observability.NewMetrics(s.registry)

	if err := s.initCatalog(ctx); err != nil {
		return err
	}
	if err := s.initKV(); err != nil {
		return err
	}

	oracle, embedder, err := s.initLLM()
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	index, err := s.initVectorIndex(ctx)
	if err != nil {
		return err
	}

	// Semantic refinement
	provider := semantic.NewCorpusProvider(index, embedder, s.lyricsSource(), semantic.DefaultProviderConfig(), s.logger)
	ranker := semantic.NewEmbeddingRanker(provider, embedder, index, semantic.RankerConfig{}, s.logger)
	reranker := rerank.NewOracleReranker(oracle, rerank.OracleConfig{
		ContextChars:     cfg.Recommender.ContextChars,
		ReinsertUnranked: cfg.Recommender.ReinsertUnranked,
	}, s.logger).WithRecorder(metrics)
	refiner := rerank.NewHybridRefiner(ranker, reranker, rerank.RefinerConfig{
		EmbeddingTopK: cfg.Recommender.EmbeddingTopK,
	}, s.logger).WithRecorder(metrics)
	s.indexer = semantic.NewBulkIndexer(index, embedder, semantic.BulkConfig{}, s.logger)

	// Deliverables
	tables, err := s.initTables(ctx)
	if err != nil {
		return err
	}

	executor := plan.NewExecutor(plan.Collaborators{
		Translator: translate.NewConstraintTranslator(oracle, s.store, s.logger),
		Catalog:    s.store,
		Filter:     filter.New(filter.Config{MaxAttempts: cfg.Recommender.FilterMaxAttempts}, s.logger).WithRecorder(metrics),
		Refiner:    refiner,
		Tables:     tables,
		Retriever:  playlist.NewYTDLPRetriever(cfg.TracksDir, nil, s.logger),
		Summarizer: playlist.TerminalSummarizer{Rich: cfg.RichOutput},
	}, plan.Config{
		TargetCount:   cfg.Recommender.TargetCount,
		EmbeddingTopK: cfg.Recommender.EmbeddingTopK,
		SkipRetrieval: cfg.Recommender.SkipRetrieval,
	}, s.logger).WithRecorder(metrics)

	planner := translate.NewPlanner(oracle, translate.PlannerConfig{SkipRetrieval: cfg.Recommender.SkipRetrieval}, s.logger)
	s.memory = conversation.NewMemory(s.db.Bucket("memory"), oracle, cfg.Recommender.MemoryTTL, s.logger)
	s.agent = agent.New(planner, executor, s.memory, s.logger)

	s.initRouter()
	return nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. The catalog is watched for changes while serving when
// WatchCatalog is set.
func (s *service) Run(ctx context.Context) error {
	if s.config.WatchCatalog {
		if err := s.store.Watch(ctx); err != nil {
			s.logger.Warn("Catalog hot reload disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting recommender server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down recommender server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *service) Router() *gin.Engine            { return s.router }
func (s *service) Agent() *agent.Agent            { return s.agent }
func (s *service) Memory() *conversation.Memory   { return s.memory }
func (s *service) Indexer() *semantic.BulkIndexer { return s.indexer }

// Close releases all resources held by the service.
func (s *service) Close() error {
	var errs []error
	if s.gcsSink != nil {
		errs = append(errs, s.gcsSink.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.telemetryFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.telemetryFn(ctx))
	}
	return errors.Join(errs...)
}

// CatalogSize implements handlers.HealthReporter.
func (s *service) CatalogSize() int { return len(s.store.Tracks()) }

// OracleState implements handlers.HealthReporter.
func (s *service) OracleState() string { return s.oracle.State() }

// VectorIndex implements handlers.HealthReporter.
func (s *service) VectorIndex() string { return s.indexName }

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "openai"
	}
	if cfg.LLM.Breaker.Name == "" {
		cfg.LLM.Breaker.Name = "oracle-" + cfg.LLM.Backend
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = cfg.LLM.Backend
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = serviceName
	}
	if cfg.PlaylistsDir == "" {
		cfg.PlaylistsDir = "playlists"
	}
	if cfg.TracksDir == "" {
		cfg.TracksDir = "tracks"
	}
	if cfg.Recommender.LyricsTTL == 0 {
		cfg.Recommender.LyricsTTL = 30 * 24 * time.Hour
	}
	return cfg
}

func (s *service) initCatalog(ctx context.Context) error {
	if s.config.CatalogPath == "" {
		return fmt.Errorf("catalog path not configured")
	}
	s.store = catalog.NewStore(catalog.StoreConfig{
		Path:  s.config.CatalogPath,
		Table: s.config.CatalogTable,
	}, s.logger)
	if err := s.store.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	return nil
}

func (s *service) initKV() error {
	var err error
	if s.config.DataDir == "" {
		s.logger.Info("Data directory not configured, memory and lyrics cache are not persisted")
		s.db, err = kv.OpenInMemory()
	} else {
		s.db, err = kv.Open(kv.DefaultConfig(filepath.Join(s.config.DataDir, "kv")))
	}
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	return nil
}

// initLLM creates the oracle and the embedder for the configured backends.
func (s *service) initLLM() (*llm.BreakerClient, semantic.Embedder, error) {
	cfg := s.config
	var (
		base     llm.LLMClient
		openai   *llm.OpenAIClient
		ollama   *llm.OllamaClient
		embedder semantic.Embedder
		err      error
	)

	newOpenAI := func() (*llm.OpenAIClient, error) {
		if openai != nil {
			return openai, nil
		}
		openai, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.LLM.OpenAIAPIKey,
			Model:          cfg.LLM.OpenAIModel,
			EmbeddingModel: cfg.Embedding.Model,
			BaseURL:        cfg.LLM.OpenAIBaseURL,
		})
		return openai, err
	}
	newOllama := func() (*llm.OllamaClient, error) {
		if ollama != nil {
			return ollama, nil
		}
		ollama, err = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:        cfg.LLM.OllamaURL,
			Model:          cfg.LLM.OllamaModel,
			EmbeddingModel: cfg.Embedding.Model,
		})
		return ollama, err
	}

	switch cfg.LLM.Backend {
	case "openai":
		base, err = newOpenAI()
		s.logger.Info("Using OpenAI LLM backend")
	case "ollama":
		base, err = newOllama()
		s.logger.Info("Using Ollama LLM backend")
	default:
		return nil, nil, fmt.Errorf("unknown LLM backend %q", cfg.LLM.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Embedding.Backend {
	case "openai":
		embedder, err = newOpenAI()
	case "ollama":
		embedder, err = newOllama()
	case "http":
		if cfg.Embedding.URL == "" {
			return nil, nil, fmt.Errorf("embedding URL not configured")
		}
		embedder = llm.NewHTTPEmbedder(cfg.Embedding.URL, 30*time.Second)
	default:
		return nil, nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	s.oracle = llm.NewBreakerClient(base, cfg.LLM.Breaker, s.logger)
	return s.oracle, embedder, nil
}

// initVectorIndex connects to Weaviate when configured.
func (s *service) initVectorIndex(ctx context.Context) (semantic.VectorIndex, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		s.logger.Info("Weaviate URL not configured, using in-memory vector index")
		s.indexName = "memory"
		return semantic.NewMemoryIndex(), nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	if err := semantic.EnsureSchema(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to ensure Weaviate schema: %w", err)
	}
	s.logger.Info("Weaviate client initialized", "url", weaviateURL)
	s.indexName = "weaviate"
	return semantic.NewWeaviateIndex(client, s.logger), nil
}

// lyricsSource returns the cached Genius source, or nil when no token is
// configured.
func (s *service) lyricsSource() semantic.TextSource {
	if s.config.GeniusToken == "" {
		s.logger.Warn("Genius token not configured, only indexed tracks have context")
		return nil
	}
	genius, err := lyrics.NewGeniusSource(lyrics.GeniusConfig{Token: s.config.GeniusToken}, s.logger)
	if err != nil {
		s.logger.Warn("Lyrics source disabled", "error", err)
		return nil
	}
	ttl := s.config.Recommender.LyricsTTL
	return lyrics.NewCachedSource(genius, s.db.Bucket("lyrics"), ttl, ttl/4, s.logger)
}

// initTables creates the playlist builder with its link finder and sinks.
func (s *service) initTables(ctx context.Context) (*playlist.Builder, error) {
	var finder playlist.LinkFinder
	if s.config.YouTubeAPIKey != "" {
		yt, err := playlist.NewYouTubeLinkFinder(ctx, s.config.YouTubeAPIKey)
		if err != nil {
			return nil, err
		}
		finder = yt
	} else {
		s.logger.Warn("YouTube API key not configured, playlists will have no links")
	}

	sinks := []playlist.Sink{playlist.FileSink{Dir: s.config.PlaylistsDir}}
	if s.config.GCS.Bucket != "" {
		gcs, err := playlist.NewGCSSink(ctx, s.config.GCS.Bucket, s.config.GCS.Prefix, s.config.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		s.gcsSink = gcs
		sinks = append(sinks, gcs)
	}
	return playlist.NewBuilder(finder, sinks, s.logger), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Recommender: s.agent,
		Memory:      s.memory,
		Health:      s,
		Metrics:     promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
		APIToken:    s.config.APIToken,
	})
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
