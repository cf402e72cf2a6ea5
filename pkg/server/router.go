package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/policy/manager"
	"mercator-hq/packlimit/pkg/telemetry/health"
	"mercator-hq/packlimit/pkg/telemetry/metrics"
	"mercator-hq/packlimit/pkg/telemetry/tracing"
)

// Engine is the part of limits.Manager served over HTTP.
type Engine interface {
	Check(ctx context.Context, key string) limits.Decision
	ListAll(ctx context.Context) []limits.Status
	ReplenishRequest(ctx context.Context, req limits.ReplenishRequest) (int, error)
}

// Reloader triggers a policy reload.
type Reloader interface {
	Reload(ctx context.Context) (manager.Result, error)
}

// Options wires the router.
type Options struct {
	Engine Engine

	// Reloader serves POST /v1/reload when set.
	Reloader Reloader

	// Health serves /health and /ready when set.
	Health *health.Checker

	Version health.VersionInfo

	// Registry serves MetricsPath when set. HTTPMetrics instruments every
	// route when set.
	Registry    *prometheus.Registry
	MetricsPath string
	HTTPMetrics *metrics.HTTPMetrics

	// AdminToken protects the /v1 routes when non-empty.
	AdminToken string

	Logger *slog.Logger
}

// NewRouter builds the HTTP API:
//
//	POST /v1/acquire     consume one permit for a caller key
//	GET  /v1/limits      list cached limiters (JSON, or ?format=text)
//	POST /v1/replenish   replenish selected limiters
//	POST /v1/reload      reload the policy document
//	GET  /health, /ready, /version, /metrics
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server.http")
	h := &handlers{engine: opts.Engine, reloader: opts.Reloader, logger: logger}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(tracing.HTTPMiddleware)
	r.Use(Logging(logger))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}

	if opts.Health != nil {
		r.Get("/health", opts.Health.LivenessHandler())
		r.Head("/health", opts.Health.LivenessHandler())
		r.Get("/ready", opts.Health.ReadinessHandler())
	}
	v := opts.Version
	r.Get("/version", health.VersionHandler(v.Version, v.Commit, v.BuildTime))

	if opts.Registry != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics.Handler(opts.Registry))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AdminAuth(opts.AdminToken))
		r.Post("/acquire", h.acquire)
		r.Get("/limits", h.list)
		r.Post("/replenish", h.replenish)
		if opts.Reloader != nil {
			r.Post("/reload", h.reload)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
