// Package app provides application-level wiring for the query core: it turns
// a Config and an engine client into the fully-assembled result cache and its
// HTTP surface.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/infofitsoftware/athena-dashboard/internal/admission"
	"github.com/infofitsoftware/athena-dashboard/internal/api"
	"github.com/infofitsoftware/athena-dashboard/internal/cache"
	"github.com/infofitsoftware/athena-dashboard/internal/canonical"
	"github.com/infofitsoftware/athena-dashboard/internal/config"
	"github.com/infofitsoftware/athena-dashboard/internal/domain"
	"github.com/infofitsoftware/athena-dashboard/internal/engine"
	"github.com/infofitsoftware/athena-dashboard/internal/history"
	"github.com/infofitsoftware/athena-dashboard/internal/middleware"
	"github.com/infofitsoftware/athena-dashboard/internal/retry"
)

// Deps holds the external dependencies that main() must provide: config, the
// engine client, and the logger.
type Deps struct {
	Cfg    *config.Config
	Engine domain.EngineClient
	Logger *slog.Logger
}

// App holds the fully-wired query core.
type App struct {
	Cache     *cache.ResultCache
	Admission *admission.Controller
	History   *history.Log
	cfg       *config.Config
	logger    *slog.Logger
}

// New wires canonicalizer, admission controller, executor, retry policy, and
// result cache from the provided deps.
func New(deps Deps) *App {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	canon := canonical.New(cfg.DefaultPageSize, cfg.MaxRows)

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	exec := engine.NewExecutor(deps.Engine, engine.ExecutorConfig{
		PollBase:       cfg.PollBaseDelay,
		PollMultiplier: cfg.PollMultiplier,
		PollMax:        cfg.PollMaxDelay,
	}, cfg.RetryMaxAttempts, logger)

	ctrl := admission.NewController(admission.Config{
		BucketCapacity:  cfg.AdmissionBucketCapacity,
		RefillPerSecond: cfg.AdmissionRefillPerSec,
		MaxConcurrent:   cfg.AdmissionMaxConcurrent,
	})

	resultCache := cache.New(canon, ctrl, exec, policy, cache.Config{
		TTL:              cfg.CacheTTL,
		MaxEntries:       cfg.CacheMaxEntries,
		ExecutionTimeout: cfg.ExecutionTimeout,
	}, logger)

	hist := history.NewLog(cfg.HistorySize)
	resultCache.SetHistory(hist)

	return &App{
		Cache:     resultCache,
		Admission: ctrl,
		History:   hist,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start runs the app's background loops until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Admission.Start(ctx)
}

// Router builds the HTTP surface: middleware chain plus the API routes.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.CallerKey)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Caller-Key", "X-Request-ID"},
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		Burst:             a.cfg.RateLimitBurst,
	}))

	handler := api.NewHandler(a.Cache, a.History, a.logger)
	handler.Register(r)
	return r
}
