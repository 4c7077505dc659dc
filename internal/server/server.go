// Package server provides the HTTP API for Nakama.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/booklet"
	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/metrics"
	"github.com/hyperjump/nakama/internal/region"
	"github.com/hyperjump/nakama/internal/search"
	"github.com/hyperjump/nakama/internal/storage"
)

// Deps are the components the API serves.
type Deps struct {
	Engine   *search.Engine
	Booklets *booklet.Generator
	Storage  storage.Storage
	// Ingest is optional; without it POST /ingest answers 501.
	Ingest  *ingest.Pipeline
	Regions *region.Table
	// Config is reported by GET /status.
	Config  *config.Config
	Version string
}

// Server is the HTTP server for the Nakama API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Regions == nil {
		deps.Regions = region.Default()
	}
	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.config.AllowedOrigins))
	r.Use(observe)
	r.Use(middleware.Timeout(timeout))

	r.Post("/search", s.handleSearch)
	r.Post("/generate-booklet", s.handleGenerateBooklet)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/regions", s.handleRegions)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/profiles", s.handleCreateProfile)
	r.Get("/profiles/{id}", s.handleGetProfile)
	r.Delete("/profiles/{id}", s.handleDeleteProfile)
	r.Post("/ingest", s.handleIngest)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. It is safe to call before Start.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
