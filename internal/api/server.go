// Package api is the HTTP transport in front of the gateway.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/gateway"
	"github.com/mattjoyce/switchyard/internal/log"
)

const defaultMaxBodyBytes = 1 << 20

// Gateway is the part of gateway.Gateway the transport drives.
type Gateway interface {
	Handle(req *gateway.Request)
	Outstanding() int
	Depths() map[string]int
	Routes() []gateway.Route
}

// Config holds API server configuration
type Config struct {
	Listen       string
	BaseURI      string
	MaxBodyBytes int64
	// RequestTimeout bounds how long a handler waits for the gateway to
	// answer. It should exceed the gateway timeout.
	RequestTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	gateway   Gateway
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. hub may be nil, which disables
// /events. A nil logger means the component default.
func New(config Config, gw Gateway, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = time.Minute
	}
	config.BaseURI = "/" + strings.Trim(config.BaseURI, "/")
	if logger == nil {
		logger = log.WithComponent("api")
	}
	return &Server{
		config:    config,
		gateway:   gw,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "base_uri", s.config.BaseURI)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/routes", s.handleRoutes)
	if s.events != nil {
		r.Get("/events", s.handleEvents)
	}

	// Every verb goes to the gateway, which answers 404 for what it does not know.
	r.HandleFunc(s.servicePattern(), s.handleService)

	return r
}

// servicePattern mounts the gateway under the base URI. A root base URI
// shares the router with /healthz, /routes and /events, which win on an
// exact match.
func (s *Server) servicePattern() string {
	if s.config.BaseURI == "/" {
		return "/*"
	}
	return s.config.BaseURI + "/*"
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
