// Package httpserver provides the HTTP REST API for the research index
// service: sync run control, citation refresh, stats recalculation, and
// health endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/amirshapkota/research-index/internal/citesync"
	"github.com/amirshapkota/research-index/internal/database"
	"github.com/amirshapkota/research-index/internal/engine"
	"github.com/amirshapkota/research-index/internal/repository"
)

// SyncEngine is the subset of the ingestion engine the API drives.
type SyncEngine interface {
	Start(ctx context.Context, opts engine.Options) (engine.Run, error)
	Stop() error
	Status() (engine.Run, bool)
	History() []engine.Run
}

// CitationSyncer runs one citation refresh pass.
type CitationSyncer interface {
	Run(ctx context.Context, opts citesync.Options) (citesync.Result, error)
}

// StatsRecalculator recomputes author and journal statistics.
type StatsRecalculator interface {
	RecalculateAll(ctx context.Context) (updated, failed int, err error)
}

// CatalogReader summarizes the persisted catalog for the history endpoint.
type CatalogReader interface {
	Totals(ctx context.Context) (repository.CatalogTotals, error)
}

// HealthChecker reports database health for the liveness endpoints.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	engine     SyncEngine
	citations  CitationSyncer
	stats      StatsRecalculator
	catalog    CatalogReader
	db         HealthChecker
	validate   *validator.Validate
	logger     zerolog.Logger

	metricsEnabled bool
	metricsPath    string
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	MetricsPath     string
}

// NewServer creates an HTTP server with all dependencies.
func NewServer(
	cfg Config,
	eng SyncEngine,
	citations CitationSyncer,
	stats StatsRecalculator,
	catalog CatalogReader,
	db HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		engine:         eng,
		citations:      citations,
		stats:          stats,
		catalog:        catalog,
		db:             db,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger.With().Str("component", "http-server").Logger(),
		metricsEnabled: cfg.MetricsEnabled,
		metricsPath:    cfg.MetricsPath,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.metricsEnabled {
		path := s.metricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Route("/sync/publications", func(r chi.Router) {
			r.Post("/", s.startPublicationSync)
			r.Post("/stop", s.stopPublicationSync)
			r.Get("/status", s.publicationSyncStatus)
			r.Get("/history", s.publicationSyncHistory)
		})
		r.Post("/sync/citations", s.runCitationSync)
		r.Post("/stats/recalculate", s.recalculateStats)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports whether the service can accept work.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
