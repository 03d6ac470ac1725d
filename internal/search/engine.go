// Package search ranks stored pages against a free-text query by blending
// embedding similarity with keyword matches.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

// Engine runs hybrid (semantic + keyword) search over the page store.
type Engine struct {
	store    storage.Storage
	embedder embedding.Embedder
	config   config.SearchConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for degraded-mode warnings and debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records every search on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine creates a search engine. embedder may be nil, in which case every
// search is keyword-only.
func NewEngine(store storage.Storage, embedder embedding.Embedder, cfg config.SearchConfig, opts ...Option) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = config.DefaultSearchConfig().MaxResults
	}
	if cfg.ScoreCap <= 0 {
		cfg.ScoreCap = config.DefaultSearchConfig().ScoreCap
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Config returns the ranking configuration in use.
func (e *Engine) Config() config.SearchConfig {
	return e.config
}

// Search returns up to MaxResults pages ranked against query. A blank query
// returns an empty result without touching the embedder or the store. When the
// query cannot be embedded the search falls back to keyword scoring; a store
// failure is returned as an error wrapping storage.ErrStorageUnavailable.
func (e *Engine) Search(ctx context.Context, query string) ([]*models.SearchResult, error) {
	results, _, err := e.search(ctx, query, e.config.MaxResults)
	return results, err
}

// Query answers a search request, reporting whether semantic scoring was skipped.
func (e *Engine) Query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.config.MaxResults); err != nil {
		return nil, err
	}
	results, degraded, err := e.search(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     q.Query,
		Results:   results,
		Total:     len(results),
		Degraded:  degraded,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Match returns every page whose title or content contains query, ignoring case.
func (e *Engine) Match(ctx context.Context, query string) ([]*models.PageRecord, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []*models.PageRecord{}, nil
	}
	pages, err := e.store.SearchByPredicate(ctx, func(p *models.PageRecord) bool {
		return strings.Contains(strings.ToLower(p.Title), needle) ||
			strings.Contains(strings.ToLower(p.Content), needle)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to match pages: %w", err)
	}
	return pages, nil
}

func (e *Engine) search(ctx context.Context, query string, limit int) ([]*models.SearchResult, bool, error) {
	start := time.Now()
	terms := Terms(query)
	if len(terms) == 0 {
		e.metrics.ObserveSearch(metrics.ModeEmpty, time.Since(start), 0)
		return []*models.SearchResult{}, false, nil
	}

	queryVec, degraded, err := e.embedQuery(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, false, err
	}

	pages, err := e.store.All(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load pages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	results := Rank(e.config, queryVec, terms, pages, limit)

	mode := metrics.ModeHybrid
	if degraded {
		mode = metrics.ModeDegraded
	}
	elapsed := time.Since(start)
	e.metrics.ObserveSearch(mode, elapsed, len(results))
	e.logger.Debug("search completed",
		zap.String("query", query),
		zap.String("mode", mode),
		zap.Int("candidates", len(pages)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed),
	)
	return results, degraded, nil
}

// embedQuery returns the query embedding, or degraded=true when none is available.
// Only context errors are returned.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, bool, error) {
	if e.embedder == nil {
		return nil, true, nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		e.logger.Warn("query embedding unavailable, using keyword scoring only", zap.Error(err))
		return nil, true, nil
	}
	if len(vec) == 0 {
		return nil, true, nil
	}
	return vec, false, nil
}
