package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/config"
	"github.com/geodex-cloud/geodex/internal/db"
	dbBadger "github.com/geodex-cloud/geodex/internal/db/badger"
	dbMemory "github.com/geodex-cloud/geodex/internal/db/memory"
	dbRedis "github.com/geodex-cloud/geodex/internal/db/redis"
	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/embedding/hashing"
	"github.com/geodex-cloud/geodex/internal/index"
	logpkg "github.com/geodex-cloud/geodex/internal/logger"
	"github.com/geodex-cloud/geodex/internal/metrics"
	budgetrepo "github.com/geodex-cloud/geodex/internal/repository/budget"
	"github.com/geodex-cloud/geodex/internal/repository/embcache"
	"github.com/geodex-cloud/geodex/internal/repository/indexcache"
	"github.com/geodex-cloud/geodex/internal/transport/chihttp"
	openaiEmb "github.com/geodex-cloud/geodex/internal/transport/openai"
	embeddinguc "github.com/geodex-cloud/geodex/internal/usecase/embedding"
	engineuc "github.com/geodex-cloud/geodex/internal/usecase/engine"
	healthuc "github.com/geodex-cloud/geodex/internal/usecase/health"
	"github.com/geodex-cloud/geodex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting geodex API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("catalog", cfg.Catalog.Path),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Optional key-value backend for the embedding cache and budget counters
	kv, err := newKVStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding cache backend", zap.Error(err))
	}
	if kv != nil {
		defer kv.Close()
	}

	ctx := context.Background()

	if kv != nil {
		timeout := time.Duration(cfg.Embedding.Cache.ReadinessTimeoutSec) * time.Second
		if err := kv.WaitForReady(ctx, timeout); err != nil {
			logger.Fatal("Embedding cache backend not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache backend",
			zap.String("backend", cfg.Embedding.Cache.Backend))
	}

	provider, provName := newProvider(cfg, logger)

	// Single BudgetTracker shared by every tier's embedder chain.
	var budget *embeddinguc.BudgetTracker
	budgetCfg := cfg.Embedding.OpenAI.Budget
	if provName == "openai" && (budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0) {
		action := embeddinguc.BudgetActionWarn
		if budgetCfg.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(
			provName, budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		if kv != nil {
			// Connect persistence store — loads current counters from the backend.
			budget.WithStore(ctx, budgetrepo.New(kv, 48*time.Hour, 62*24*time.Hour))
		}
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	// Decorator chain applied per resolved tier: base -> cached -> instrumented
	decorate := func(inner domain.Embedder, spec domain.ModelSpec) domain.Embedder {
		embedder := inner
		if kv != nil {
			embedder = embcache.New(embedder, kv, spec, metrics.EmbeddingCacheTotal, logger)
		}
		return embeddinguc.NewInstrumentedEmbedder(
			embedder, provName, spec.ModelID, budgetChecker, logger,
		)
	}

	loader, err := catalog.NewLoader(catalog.Format(cfg.Catalog.Format))
	if err != nil {
		logger.Fatal("Failed to create catalog loader", zap.Error(err))
	}

	var builderOpts []index.BuilderOption
	if cfg.Build.Concurrency > 0 {
		builderOpts = append(builderOpts, index.WithConcurrency(cfg.Build.Concurrency))
	}
	if cfg.Build.ChunkSize > 0 {
		builderOpts = append(builderOpts, index.WithChunkSize(cfg.Build.ChunkSize))
	}
	builder, err := index.NewBuilder(logger, builderOpts...)
	if err != nil {
		logger.Fatal("Failed to create index builder", zap.Error(err))
	}
	defer builder.Release()

	cache := indexcache.New(cfg.Cache.Dir, metrics.IndexCacheTotal, logger,
		indexcache.WithLockTimeout(time.Duration(cfg.Cache.LockTimeoutSec)*time.Second))

	weights, err := cfg.SearchWeights()
	if err != nil {
		logger.Fatal("Invalid search weights", zap.Error(err))
	}

	engine, err := engineuc.New(loader, provider, builder, cache, engineuc.Params{
		Tier:       domain.Tier(cfg.Search.Tier),
		Weights:    weights,
		MaxResults: cfg.Search.MaxResults,
	}, logger, engineuc.WithEmbedderDecorator(decorate))
	if err != nil {
		logger.Fatal("Failed to create search engine", zap.Error(err))
	}

	// The server starts Ready or not at all: a broken catalog at boot is a
	// deployment error, not something to limp through.
	if err := engine.LoadDatasets(ctx, cfg.Catalog.Path); err != nil {
		logger.Fatal("Failed to load dataset catalog",
			zap.String("path", cfg.Catalog.Path), zap.Error(err))
	}
	logger.Info("Dataset catalog loaded", zap.Int("datasets", engine.Status().RecordCount))

	// Health service
	var cachePinger healthuc.CachePinger
	if kv != nil {
		cachePinger = kv
	}
	healthSvc := healthuc.New(engine, newEmbeddingHealthChecker(provider, domain.Tier(cfg.Search.Tier)),
		cachePinger, cfg.Cache.Dir)

	// Create chi server
	server := chihttp.NewServer(engine, healthSvc, cfg.Search.DefaultTopK, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chihttp.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// newKVStore creates the embedding cache backend, or nil for "none".
func newKVStore(cfg config.Config, logger *zap.Logger) (db.Store, error) {
	switch cfg.Embedding.Cache.Backend {
	case "none":
		return nil, nil
	case "memory":
		return dbMemory.NewStore(cfg.Embedding.Cache.Capacity)
	case "badger":
		return dbBadger.NewStore(dbBadger.Config{Path: cfg.Embedding.Cache.BadgerDir}, logger)
	case "redis":
		return dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Embedding.Cache.Addrs,
			Password: cfg.Embedding.Cache.Password,
		})
	default:
		return nil, fmt.Errorf("unknown embedding cache backend %q", cfg.Embedding.Cache.Backend)
	}
}

// newProvider creates the per-tier embedder provider from config.
func newProvider(cfg config.Config, logger *zap.Logger) (engineuc.EmbedderProvider, string) {
	if cfg.Embedding.Provider == "openai" {
		overrides := make(map[domain.Tier]openaiEmb.TierModel, len(cfg.Embedding.OpenAI.Models))
		for tier, m := range cfg.Embedding.OpenAI.Models {
			overrides[domain.Tier(tier)] = openaiEmb.TierModel{
				Model:      m.Model,
				Dimensions: m.Dimensions,
			}
		}
		return openaiEmb.NewProvider(&openaiEmb.Config{
			APIKey:        cfg.Embedding.OpenAI.APIKey,
			BaseURL:       cfg.Embedding.OpenAI.BaseURL,
			Provider:      "openai",
			RetryAttempts: cfg.Embedding.OpenAI.RetryAttempts,
			Logger:        logger,
		}, overrides), "openai"
	}
	return hashing.NewProvider(), "hashing"
}

// embeddingHealthChecker probes the provider's embedder for the active tier.
type embeddingHealthChecker struct {
	provider engineuc.EmbedderProvider
	tier     domain.Tier
}

func newEmbeddingHealthChecker(provider engineuc.EmbedderProvider, tier domain.Tier) *embeddingHealthChecker {
	return &embeddingHealthChecker{provider: provider, tier: tier}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	emb, _, err := h.provider.Embedder(h.tier)
	if err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	if hc, ok := emb.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
