// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kioku/internal/bookmarks"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

// Ingester runs ingestion of a bookmark source and reports on it.
// *ingest.Pipeline implements it.
type Ingester interface {
	RunSource(ctx context.Context, src bookmarks.Source) (*ingest.RunReport, error)
	Running() bool
	State() ingest.State
	Progress() models.Progress
	LastReport() *ingest.RunReport
}

// EmbedderStatus reports provider readiness. *embedding.Lazy implements it.
type EmbedderStatus interface {
	State() embedding.State
	Err() error
	Dimensions() int
}

// sizer is implemented by stores that can report their size on disk.
// *storage.SQLiteStorage implements it.
type sizer interface {
	SizeBytes() (int64, error)
}

// Server is the HTTP server for the Kioku API.
type Server struct {
	engine   *search.Engine
	storage  storage.Storage
	config   *config.Config
	logger   *zap.Logger
	ingester Ingester
	source   bookmarks.Source
	embedder EmbedderStatus
	metrics  *metrics.Collector
	server   *http.Server

	// baseCtx outlives requests; background ingestion runs use it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithIngester enables the ingest endpoints for src.
func WithIngester(in Ingester, src bookmarks.Source) Option {
	return func(s *Server) {
		s.ingester = in
		s.source = src
	}
}

// WithEmbedderStatus reports provider readiness in /api/v1/status.
func WithEmbedderStatus(e EmbedderStatus) Option {
	return func(s *Server) { s.embedder = e }
}

// WithMetrics serves c at /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, store storage.Storage, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		storage: store,
		config:  cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Route("/pages", func(r chi.Router) {
			r.Get("/recent", s.handleRecentPages)
			r.Get("/lookup", s.handleLookupPage)
			r.Get("/match", s.handleMatchPages)
			r.Get("/{id}", s.handleGetPage)
			r.Delete("/{id}", s.handleDeletePage)
		})
		r.Post("/ingest", s.handleStartIngest)
		r.Get("/ingest/status", s.handleIngestStatus)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and cancels background ingestion.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
