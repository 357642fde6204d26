// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gridflow/silogrid/internal/adapters/metrics"
	"github.com/gridflow/silogrid/internal/application"
	"github.com/gridflow/silogrid/internal/config"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server     *http.Server
	router     *mux.Router
	assembler  *application.Assembler
	registry   output.VariableRegistry
	inventory  output.CacheInventory
	collector  *metrics.Collector
	logger     *slog.Logger
	config     config.Server
	metricsCfg config.Metrics
}

// NewServer creates a new HTTP server. The metrics collector is
// optional; passing nil disables the middleware and the scrape route.
func NewServer(
	cfg config.Server,
	metricsCfg config.Metrics,
	assembler *application.Assembler,
	registry output.VariableRegistry,
	inventory output.CacheInventory,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Server {
	s := &Server{
		assembler:  assembler,
		registry:   registry,
		inventory:  inventory,
		collector:  collector,
		logger:     logger,
		config:     cfg,
		metricsCfg: metricsCfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.collector != nil {
		r.Use(s.collector.Middleware)
	}

	// Health endpoint
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/variables", s.handleListVariables).Methods(http.MethodGet)
	api.HandleFunc("/series", s.handleSeries).Methods(http.MethodGet)

	// Prometheus scrape endpoint
	if s.collector != nil && s.metricsCfg.Enabled {
		r.Handle(s.metricsCfg.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
