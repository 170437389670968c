// Package http exposes resolution, enrichment and batch runs over a JSON
// REST API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/citeresolve/internal/interfaces/http/handlers"
	"github.com/turtacn/citeresolve/internal/interfaces/http/middleware"
)

// DefaultMetricsPath serves the Prometheus scrape endpoint.
const DefaultMetricsPath = "/metrics"

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	// Handlers
	CitationHandler *handlers.CitationHandler
	BatchHandler    *handlers.BatchHandler
	HealthHandler   *handlers.HealthHandler

	// Middleware
	RateLimiter   *middleware.RateLimiter
	LoggingConfig *middleware.LoggingConfig
	Metrics       middleware.HTTPMetrics

	// Infrastructure
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
}

// NewRouter builds the complete route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logCfg := middleware.DefaultLoggingConfig()
	if cfg.LoggingConfig != nil {
		logCfg = *cfg.LoggingConfig
	}

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.RequestLogging(logger, logCfg))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	// --- Probes ---
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}

	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}

	// --- API v1 ---
	r.Route("/api/v1", func(api chi.Router) {
		registerCitationRoutes(api, cfg.CitationHandler)
		registerBatchRoutes(api, cfg.BatchHandler)
	})

	return r
}

// registerCitationRoutes mounts citation endpoints under /citations. Record
// IDs such as doi:10.1234/abc contain slashes, so the lookup is a wildcard.
func registerCitationRoutes(r chi.Router, h *handlers.CitationHandler) {
	if h == nil {
		return
	}
	r.Route("/citations", func(cr chi.Router) {
		cr.Get("/", h.ListRecords)
		cr.Post("/resolve", h.Resolve)
		cr.Post("/enrich", h.Enrich)
		cr.Get("/*", h.GetRecord)
	})
}

// registerBatchRoutes mounts batch endpoints under /batches.
func registerBatchRoutes(r chi.Router, h *handlers.BatchHandler) {
	if h == nil {
		return
	}
	r.Post("/batches", h.Create)
}
