// Package api exposes the management HTTP API for credentials and
// DKIM signing keys.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/foxzi/relaykeys/internal/config"
	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/lifecycle"
	"github.com/foxzi/relaykeys/internal/metrics"
	"github.com/foxzi/relaykeys/internal/verify"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	credentials  *credential.Registry
	keys         *dkimkey.Registry
	engine       *verify.Engine
	orchestrator *lifecycle.Orchestrator

	config    *config.APIConfig
	logger    *slog.Logger
	validate  *validator.Validate
	startTime time.Time
}

// Deps holds the registries the server exposes.
type Deps struct {
	Credentials  *credential.Registry
	Keys         *dkimkey.Registry
	Engine       *verify.Engine
	Orchestrator *lifecycle.Orchestrator
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		credentials:  deps.Credentials,
		keys:         deps.Keys,
		engine:       deps.Engine,
		orchestrator: deps.Orchestrator,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		startTime:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.accountMiddleware)

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", s.handleCredentialCreate)
			r.Get("/", s.handleCredentialList)
			r.Get("/{id}", s.handleCredentialGet)
			r.Delete("/{id}", s.handleCredentialDelete)
			r.Post("/{id}/reset-password", s.handleCredentialResetPassword)
			r.Put("/{id}/settings", s.handleCredentialSettings)
			r.Put("/{id}/status", s.handleCredentialStatus)
		})

		r.Route("/dkim", func(r chi.Router) {
			r.Post("/", s.handleDKIMCreate)
			r.Get("/", s.handleDKIMList)
			r.Get("/{id}", s.handleDKIMGet)
			r.Delete("/{id}", s.handleDKIMDelete)
			r.Get("/{id}/dns-record", s.handleDKIMDNSRecord)
			r.Post("/{id}/verify", s.handleDKIMVerify)
			r.Post("/{id}/rotate", s.handleDKIMRotate)
		})
	})
}

// MountMetrics exposes the metrics handler on /metrics.
func (s *Server) MountMetrics(h http.Handler) {
	s.router.Handle("/metrics", h)
}

// Router returns the configured router, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
