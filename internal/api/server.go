// Package api exposes the tree over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/arbor/internal/auth"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/metrics"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
)

// PluginLister reports plugin state for GET /_/plugins.
type PluginLister interface {
	Snapshot() []plugin.Status
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens          []auth.TokenConfig
	RateLimit       RateLimit
	ShutdownTimeout time.Duration
	// MaxBodyBytes bounds decoded request bodies.
	MaxBodyBytes int64
}

// RateLimit configures the per-client token bucket.
type RateLimit struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

func (c Config) authEnabled() bool {
	return c.APIKey != "" || len(c.Tokens) > 0
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	tree      *part.Tree
	plugins   PluginLister
	hub       *events.Hub
	metrics   *metrics.Collector
	limiter   *clientLimiter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. hub, plugins and m may be nil.
func New(config Config, tree *part.Tree, plugins PluginLister, hub *events.Hub, m *metrics.Collector, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		config:    config,
		tree:      tree,
		plugins:   plugins,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
	if config.RateLimit.Enabled {
		s.limiter = newClientLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.authEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopePluginsRO)).Get("/_/plugins", s.handleListPlugins)
		r.With(s.requireScopes(auth.ScopeTreeRO, auth.ScopeResourcesRO)).Get("/_/tree", s.handleTree)
		r.HandleFunc("/*", s.handleDispatch)
	})

	return r
}
