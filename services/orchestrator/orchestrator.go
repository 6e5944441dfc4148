// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the counsel service: model clients, the legal
// text index, the session store, the dialogue engine and the HTTP router.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCounsel/pkg/extensions"
	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/store"
	"github.com/AleutianAI/AleutianCounsel/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "counsel-service"

// =============================================================================
// Service Interface
// =============================================================================

// Service is the counsel HTTP service.
//
// # Description
//
// Service owns every long-lived resource: the tracer provider, the model
// client, the Weaviate client, the session store and its janitor. Create it
// with New and release it with Close, or let Run do both.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully
	// and releases resources.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Engine returns the dialogue engine, for in-process clients such as
	// the terminal chat.
	Engine() *dialogue.Engine

	// Retriever returns the legal text retriever.
	Retriever() pipeline.Retriever

	// Close releases resources. Safe to call more than once.
	Close()
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config  Config
	opts    extensions.ServiceOptions
	router  *gin.Engine
	metrics *observability.DialogueMetrics

	llmClient      llm.LLMClient
	embedder       llm.Embedder
	weaviateClient *weaviate.Client
	retriever      pipeline.Retriever
	redisClient    *redis.Client
	memoryStore    *store.MemoryStore
	sessionStore   dialogue.SessionStore
	engine         *dialogue.Engine

	tracerCleanup func(context.Context)
	closed        bool
}

// New creates a fully wired Service.
//
// # Description
//
// Initialization order:
//  1. Tracing (skipped without an OTLP endpoint)
//  2. Metrics
//  3. Model client and embedder
//  4. Weaviate retriever (lightweight mode without a URL)
//  5. Session store (Redis when configured, else memory with a janitor)
//  6. Message filter and audit hooks
//  7. Pipeline adapters and the dialogue engine
//  8. HTTP router
//
// Any failure releases what was already created.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension hooks. Nil uses the configured defaults: PII
//     redaction unless disabled, and slog auditing when AuditLog is set.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid configuration or an unreachable required dependency.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &service{config: cfg}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if *cfg.EnableMetrics {
		s.metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for dialogues")
	}

	if err := s.initLLMClient(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode", "error", err)
	}
	if s.weaviateClient != nil && s.embedder != nil {
		s.retriever = pipeline.NewWeaviateRetriever(s.weaviateClient, s.embedder)
	} else {
		s.retriever = pipeline.UnconfiguredRetriever{}
	}

	if err := s.initStore(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := s.initOptions(opts); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize extensions: %w", err)
	}

	if err := s.initEngine(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize dialogue engine: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting counsel server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down counsel server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Engine() *dialogue.Engine {
	return s.engine
}

func (s *service) Retriever() pipeline.Retriever {
	return s.retriever
}

// Close stops the janitor, closes the Redis client and flushes traces.
func (s *service) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.memoryStore != nil {
		s.memoryStore.Stop()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			slog.Warn("Redis client close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Initialization
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" {
		slog.Info("OTLP endpoint not configured, trace export disabled")
		return nil, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initLLMClient creates the chat client and the query embedder.
func (s *service) initLLMClient() error {
	var (
		openaiClient *llm.OpenAIClient
		ollamaClient *llm.OllamaClient
		err          error
	)
	needs := map[string]bool{s.config.LLMBackend: true, s.config.EmbeddingBackend: true}

	if needs["openai"] {
		c := s.config.OpenAI
		if c.APIKey == "" {
			// Falls back to the mounted secret.
			openaiClient, err = llm.NewOpenAIClient()
		} else {
			openaiClient, err = llm.NewOpenAIClientWithConfig(llm.OpenAIConfig{
				APIKey:         c.APIKey,
				Model:          c.Model,
				EmbeddingModel: c.EmbeddingModel,
				BaseURL:        c.BaseURL,
			})
		}
		if err != nil {
			return err
		}
	}
	if needs["ollama"] {
		c := s.config.Ollama
		if c.BaseURL == "" {
			return fmt.Errorf("ollama base URL is not configured")
		}
		if c.Model == "" {
			c.Model = "gpt-oss"
		}
		ollamaClient = llm.NewOllamaClientWithConfig(c.BaseURL, c.Model, c.EmbedModel)
	}

	var chat llm.LLMClient
	switch s.config.LLMBackend {
	case "openai":
		chat = openaiClient
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		chat = ollamaClient
		slog.Info("Using Ollama LLM backend")
	}
	s.llmClient = llm.NewRateLimitedClient(chat, s.config.LLMRequestsPerSecond, s.config.LLMBurst)

	switch s.config.EmbeddingBackend {
	case "openai":
		s.embedder = openaiClient
	case "ollama":
		s.embedder = ollamaClient
	}
	return nil
}

func (s *service) initWeaviate() error {
	weaviateURL := s.config.WeaviateURL
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

func (s *service) initStore() error {
	if s.config.RedisURL != "" {
		opts, err := redis.ParseURL(s.config.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
		s.redisClient = redis.NewClient(opts)
		rs := store.NewRedisStore(s.redisClient, store.RedisConfig{TTL: s.config.SessionTTL})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		s.sessionStore = rs
		slog.Info("Using Redis session store", "addr", opts.Addr, "ttl", s.config.SessionTTL.String())
		return nil
	}

	metrics := s.metrics
	s.memoryStore = store.NewMemoryStore(store.MemoryConfig{
		TTL: s.config.SessionTTL,
		OnExpire: func(id string) {
			metrics.SessionClosed()
			slog.Info("Session expired", "session_id", id)
		},
	})
	if err := s.memoryStore.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start session janitor: %w", err)
	}
	s.sessionStore = s.memoryStore
	slog.Info("Using in-memory session store", "ttl", s.config.SessionTTL.String())
	return nil
}

func (s *service) initOptions(opts *extensions.ServiceOptions) error {
	if opts != nil {
		s.opts = opts.Normalize()
		return nil
	}

	s.opts = extensions.DefaultOptions()
	if !s.config.DisableRedaction {
		redactor, err := s.newRedactor()
		if err != nil {
			return err
		}
		s.opts = s.opts.WithFilter(redactor)
	}
	if s.config.AuditLog {
		s.opts = s.opts.WithAudit(extensions.NewSlogAuditLogger(slog.Default()))
	}
	return nil
}

func (s *service) newRedactor() (*policy_engine.Redactor, error) {
	if s.config.RedactionPatternsPath == "" {
		return policy_engine.NewRedactor()
	}
	data, err := os.ReadFile(s.config.RedactionPatternsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read redaction patterns: %w", err)
	}
	return policy_engine.NewRedactorFromYAML(data)
}

func (s *service) loadCatalog() (*pipeline.Catalog, error) {
	if s.config.CatalogPath == "" {
		return pipeline.DefaultCatalog()
	}
	data, err := os.ReadFile(s.config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain catalog: %w", err)
	}
	return pipeline.LoadCatalog(data)
}

func (s *service) initEngine() error {
	catalog, err := s.loadCatalog()
	if err != nil {
		return err
	}

	full := pipeline.NewLLMExtractor(s.llmClient, catalog, s.metrics, s.config.ExtractionConcurrency)
	followup, err := pipeline.FollowupExtractor(s.config.ExtractionStrategy, full)
	if err != nil {
		return err
	}

	s.engine, err = dialogue.NewEngine(dialogue.Dependencies{
		Store:             s.sessionStore,
		Classifier:        pipeline.NewLLMClassifier(s.llmClient, catalog, s.metrics),
		Extractor:         full,
		FollowupExtractor: followup,
		Formatter:         pipeline.NewLLMFormatter(s.llmClient, catalog, s.metrics),
		Advisor: pipeline.NewReasoner(s.llmClient, s.retriever, catalog, s.metrics, pipeline.ReasonerConfig{
			Concurrency: s.config.ReasoningConcurrency,
			TopK:        s.config.RetrievalTopK,
		}),
		Options: s.opts,
		Metrics: s.metrics,
	}, dialogue.Config{
		MaxFollowupRounds:   s.config.MaxFollowupRounds,
		MaxFollowupChars:    s.config.MaxFollowupChars,
		DefaultJurisdiction: s.config.DefaultJurisdiction,
	})
	if err != nil {
		return err
	}
	slog.Info("Dialogue engine ready",
		"domains", len(catalog.Names()),
		"extraction_strategy", s.config.ExtractionStrategy,
		"default_jurisdiction", s.config.DefaultJurisdiction,
	)
	return nil
}

func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))

	auth := middleware.NewTokenAuth(s.config.APITokens)
	if auth != nil {
		slog.Info("API token authentication enabled", "clients", len(s.config.APITokens))
	}
	routes.SetupRoutes(s.router, s.engine, auth)
}

// Compile-time interface check
var _ Service = (*service)(nil)
