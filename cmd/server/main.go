package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ngyygm/temporal-memory-agent/common/id"
	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/common/logger"
	"github.com/ngyygm/temporal-memory-agent/common/otel"
	"github.com/ngyygm/temporal-memory-agent/core/config"
	"github.com/ngyygm/temporal-memory-agent/internal/agent"
	"github.com/ngyygm/temporal-memory-agent/internal/cache"
	"github.com/ngyygm/temporal-memory-agent/internal/httpapi"
	"github.com/ngyygm/temporal-memory-agent/internal/httpapi/middleware"
	arangostore "github.com/ngyygm/temporal-memory-agent/internal/store/arango"
	"github.com/ngyygm/temporal-memory-agent/internal/store/typesense"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

func main() {
	ctx := context.Background()

	// Load .env file (ignore error if not found) before reading Config.
	_ = godotenv.Load()
	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (not enabled or no endpoint configured)")
	}

	slog.InfoContext(ctx, "temporal-memory-agent starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	if cfg.LLM.APIKey == "" {
		slog.ErrorContext(ctx, "LLM_API_KEY is required")
		os.Exit(1)
	}
	llmClient, err := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	store, err := arangostore.New(ctx, arangostore.Config{
		URL:      cfg.Arango.URL,
		Username: cfg.Arango.Username,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to arangodb", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure arangodb schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "arangodb connected", "database", cfg.Arango.Database)

	if cfg.Typesense.Enabled() {
		searcher, err := typesense.New(ctx, typesense.Config{URL: cfg.Typesense.URL, APIKey: cfg.Typesense.APIKey})
		if err != nil {
			slog.WarnContext(ctx, "typesense: disabled, search_entity will rely on the graph store's own scan", "error", err)
		} else {
			store.WithNameSearcher(searcher)
			slog.InfoContext(ctx, "typesense connected", "url", cfg.Typesense.URL)
		}
	}

	registries := []*tools.Registry{tools.NewStoreRegistry(store)}

	orchestratorCfg := agent.Config{
		MaxIterations:   cfg.Loop.MaxIterations,
		ParallelTools:   cfg.Loop.ParallelTools,
		ToolTimeout:     cfg.Loop.ToolTimeout,
		WorkerCap:       cfg.Loop.WorkerCap,
		EnableReasoning: true,
		EnableSummary:   true,
	}
	if cfg.Loop.EnableCache && cfg.Redis.Enabled() {
		orchestratorCfg.WrapExecutor = func(next *tools.Executor) tools.ToolExecutor {
			return cache.NewCachingExecutor(next, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		}
		slog.InfoContext(ctx, "tool result caching enabled", "redis_addr", cfg.Redis.Addr)
	}

	orchestrator := agent.New(llmClient, registries, orchestratorCfg)
	queryHandler := httpapi.NewQueryHandler(orchestrator)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, queryHandler)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second, // a ReAct loop can take a while
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "arangodb close error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, queryHandler *httpapi.QueryHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span -> Recovery catches panics -> Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httpapi.SetupRoutes(router, queryHandler)

	return router
}
