// SAGE answer service — serves the query API, runs the retrieval
// pipeline, and drives webhook delivery and retention in the background.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/replyworks/sage/pkg/api"
	"github.com/replyworks/sage/pkg/cache"
	"github.com/replyworks/sage/pkg/cleanup"
	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/guardrails"
	"github.com/replyworks/sage/pkg/ingest"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/pipeline/nodes"
	"github.com/replyworks/sage/pkg/search"
	"github.com/replyworks/sage/pkg/services"
	"github.com/replyworks/sage/pkg/session"
	"github.com/replyworks/sage/pkg/store"
	"github.com/replyworks/sage/pkg/version"
	"github.com/replyworks/sage/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newProvider builds the configured LLM provider, wrapped with the shared
// rate limiter so chat and embedding calls draw from one budget.
func newProvider(ctx context.Context, cfg *config.LLMConfig) (llm.Provider, error) {
	if cfg.Provider == "fake" {
		slog.Warn("Using fake LLM provider; answers are canned")
		return llm.NewFake(cfg.EmbedDimensions), nil
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	provider, err := llm.NewGemini(ctx, cfg, apiKey)
	if err != nil {
		return nil, err
	}
	return llm.WithRateLimit(provider, cfg.RateLimitRPS, cfg.RateLimitBurst), nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version.Full() + "\n")
		return
	}

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting SAGE", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect Postgres (runs migrations) and Redis
	dsn := os.Getenv(cfg.Postgres.DSNEnv)
	if dsn == "" {
		slog.Error("Postgres DSN not set", "env", cfg.Postgres.DSNEnv)
		os.Exit(1)
	}
	client, err := store.Open(ctx, dsn, cfg.Postgres)
	if err != nil {
		slog.Error("Failed to open Postgres", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing Postgres client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL")

	kvStore, err := kv.New(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	// 3. LLM provider
	provider, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	slog.Info("LLM provider initialized", "provider", cfg.LLM.Provider)

	// 4. Intent registry and search. The lexical index is registered as a
	// reindexer so every snapshot rebuild refreshes it in lockstep.
	lexical := search.NewLexicalIndex()
	registry := intent.NewRegistry(client.Pairs, client.Vectors, lexical)
	if _, err := registry.Rebuild(ctx); err != nil {
		// Non-fatal: an empty corpus or a slow first scan should not block
		// startup. The registry serves an empty snapshot until a rebuild
		// succeeds.
		slog.Warn("Initial registry rebuild failed", "error", err)
	}

	hybrid := search.NewHybrid(client.Vectors, client.Pairs, lexical, provider, cfg.Search)
	reranker := search.NewReranker(provider, cfg.Search)
	expander := search.NewExpander(client.Pairs, cfg.Search)

	// 5. Shared subsystems
	answerCache, err := cache.New(kvStore, cfg.Cache)
	if err != nil {
		slog.Error("Failed to initialize answer cache", "error", err)
		os.Exit(1)
	}
	sessions := session.NewManager(kvStore, cfg.Session)
	inputScreen := guardrails.NewInputScreen(cfg.Guardrails)
	outputScreen := guardrails.NewOutputScreen(cfg.Guardrails)
	publisher := events.NewPublisher(client.Webhooks)

	// 6. Ingestion
	staging := ingest.NewStaging(kvStore, cfg.Ingest)
	classifier := ingest.NewClassifier(provider, registry, cfg.Ingest)
	committer := ingest.NewCommitter(staging, client, provider, registry, publisher, kvStore, cfg.Ingest, cfg.LLM)

	// 7. Webhook delivery
	dispatcher := webhook.NewDispatcher(client.Webhooks, cfg.Webhook)
	dispatcher.Start(ctx)
	receiver := webhook.NewReceiver(kvStore, cfg.Webhook)
	slog.Info("Webhook dispatcher started", "workers", cfg.Webhook.Workers)

	// 8. Assemble the query pipeline from configuration
	deps := nodes.Deps{
		Provider: provider,
		Cache:    answerCache,
		Sessions: sessions,
		Hybrid:   hybrid,
		Reranker: reranker,
		Expander: expander,
		Registry: registry,
		Input:    inputScreen,
		Output:   outputScreen,
		Records:  client.Records,
		Events:   publisher,
	}
	var pipelineNodes []pipeline.Node
	for _, name := range cfg.Pipeline.NodeOrder {
		if !cfg.Pipeline.NodeEnabled(name) {
			slog.Info("Pipeline node disabled", "node", name)
			continue
		}
		node, err := nodes.Build(name, deps, cfg)
		if err != nil {
			slog.Error("Failed to build pipeline node", "node", name, "error", err)
			os.Exit(1)
		}
		pipelineNodes = append(pipelineNodes, node)
	}
	engine, err := pipeline.NewEngine(pipelineNodes, cfg.Pipeline)
	if err != nil {
		slog.Error("Failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	slog.Info("Pipeline assembled", "nodes", len(pipelineNodes))

	// 9. Domain services
	queryService := services.NewQueryService(engine, client.Records, cfg.Server)
	searchService := services.NewSearchService(hybrid, cfg.Search)
	ingestService := services.NewIngestService(staging, classifier, committer, publisher)
	documentService := services.NewDocumentService(client, registry, publisher)
	sessionService := services.NewSessionService(sessions)
	registryService := services.NewRegistryService(registry, publisher)
	webhookService := services.NewWebhookService(client.Webhooks, receiver, kvStore, cfg.Webhook)
	slog.Info("Services initialized")

	// 10. Retention sweeper
	cleanupService := cleanup.NewService(cfg.Retention, client.Webhooks)
	cleanupService.Start(ctx)

	// 11. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg,
		queryService, searchService, ingestService, documentService,
		sessionService, registryService, webhookService,
		client, kvStore)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.Start(cfg.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("SAGE started successfully")

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: stop accepting requests, then let in-flight
	// webhook attempts finish, then stop the sweeper.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Stop()
		close(dispatcherDone)
	}()
	select {
	case <-dispatcherDone:
		slog.Info("Webhook dispatcher stopped gracefully")
	case <-time.After(cfg.Webhook.GracefulShutdownTimeout):
		slog.Warn("Webhook dispatcher shutdown timeout exceeded — in-flight deliveries will be retried")
	}

	cleanupService.Stop()

	slog.Info("Shutdown complete")
}
