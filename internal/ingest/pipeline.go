// Package ingest turns bookmark source items into embedded page records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/bookmarks"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/fetch"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("ingestion run already in progress")
	// ErrEmptyContent is recorded for items with neither fetched content nor a title.
	ErrEmptyContent = errors.New("no content to embed")
	// ErrEmbedderNotReady is returned when a run starts before the embedding
	// provider has initialized. Nothing is fetched.
	ErrEmbedderNotReady = errors.New("embedding provider not ready")
)

// readiness is implemented by embedders that initialize in the background.
// *embedding.Lazy implements it.
type readiness interface {
	State() embedding.State
	Err() error
}

// State is the pipeline's current phase.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateFetching
	StateEmbedding
	StateUpserting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateFetching:
		return "fetching"
	case StateEmbedding:
		return "embedding"
	case StateUpserting:
		return "upserting"
	default:
		return "unknown"
	}
}

// Failure stages.
const (
	StageFetch = "fetch"
	StageEmbed = "embed"
)

// ItemFailure records why one item was not embedded.
type ItemFailure struct {
	URL   string `json:"url"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID    string        `json:"run_id"`
	Total    int           `json:"total"`
	Embedded int           `json:"embedded"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []ItemFailure `json:"failures,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Err      string        `json:"error,omitempty"` // set when the run aborted
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Pipeline fetches, embeds and stores bookmarked pages. Only one run may be
// active at a time.
type Pipeline struct {
	store    storage.Storage
	embedder embedding.Embedder
	fetcher  fetch.Fetcher
	workers  int

	logger     *zap.Logger
	metrics    *metrics.Collector
	onProgress func(models.Progress)
	now        func() time.Time

	running atomic.Bool
	state   atomic.Int32

	// pubMu orders progress callbacks; mu guards progress and last.
	pubMu    sync.Mutex
	mu       sync.Mutex
	progress models.Progress
	last     *RunReport
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for run and item events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records run and item outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithProgress registers fn to receive progress updates. Calls are serialized
// and Processed never decreases within a run.
func WithProgress(fn func(models.Progress)) Option {
	return func(p *Pipeline) { p.onProgress = fn }
}

// WithClock overrides the clock used for default timestamps and reports.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline over the given store, embedder and fetcher.
func NewPipeline(store storage.Storage, embedder embedding.Embedder, fetcher fetch.Fetcher, cfg config.IngestConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		fetcher:  fetcher,
		workers:  cfg.Workers,
		now:      time.Now,
	}
	if p.workers < 1 {
		p.workers = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// State returns the current phase.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Running reports whether a run is active.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Progress returns the progress of the current or last run.
func (p *Pipeline) Progress() models.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// LastReport returns a copy of the report of the last finished run, or nil.
func (p *Pipeline) LastReport() *RunReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	r.Failures = append([]ItemFailure(nil), p.last.Failures...)
	return &r
}

// RunSource enumerates src and ingests its items.
func (p *Pipeline) RunSource(ctx context.Context, src bookmarks.Source) (*RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)
	defer p.setState(StateIdle)
	if err := p.checkEmbedder(); err != nil {
		return nil, err
	}

	p.setState(StateEnumerating)
	items, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	return p.run(ctx, items)
}

// Run ingests items. Items whose page already has an embedding are skipped.
// Fetch and embedding failures are recorded per item and do not stop the run;
// storage failures and cancellation abort it. The returned report is non-nil
// whenever the run started, including aborted runs.
func (p *Pipeline) Run(ctx context.Context, items []models.SourceItem) (*RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)
	defer p.setState(StateIdle)
	if err := p.checkEmbedder(); err != nil {
		return nil, err
	}
	return p.run(ctx, items)
}

// checkEmbedder fails fast when the provider cannot embed yet, so a run does not
// fetch every page only to fail each one at the embed stage.
func (p *Pipeline) checkEmbedder() error {
	r, ok := p.embedder.(readiness)
	if !ok || r.State() == embedding.StateReady {
		return nil
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrEmbedderNotReady, err)
	}
	return fmt.Errorf("%w: %s", ErrEmbedderNotReady, r.State())
}

func (p *Pipeline) run(ctx context.Context, items []models.SourceItem) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.NewString(),
		Total:   len(items),
		Started: p.now(),
	}
	logger := p.logger.With(zap.String("run_id", report.RunID))
	logger.Info("ingestion started", zap.Int("items", len(items)), zap.Int("workers", p.workers))
	p.metrics.IngestStarted()

	p.mu.Lock()
	p.progress = models.Progress{Total: len(items)}
	p.mu.Unlock()
	p.publish(models.Progress{Total: len(items)})

	var err error
	if p.workers == 1 {
		err = p.runSequential(ctx, items, report, logger)
	} else {
		err = p.runParallel(ctx, items, report, logger)
	}

	report.Finished = p.now()
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "aborted"
	default:
		status = "error"
	}
	if err != nil {
		report.Err = err.Error()
	}

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	p.metrics.IngestFinished(status)

	fields := []zap.Field{
		zap.Int("embedded", report.Embedded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration()),
	}
	if err != nil {
		logger.Warn("ingestion aborted", append(fields, zap.Error(err))...)
		return report, err
	}
	logger.Info("ingestion finished", fields...)
	return report, nil
}

func (p *Pipeline) runSequential(ctx context.Context, items []models.SourceItem, report *RunReport, logger *zap.Logger) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.handle(ctx, item, report, logger); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runParallel(ctx context.Context, items []models.SourceItem, report *RunReport, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			return p.handle(gctx, item, report, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// A cancelled parent can stop the loop before any item reports an error.
	return ctx.Err()
}

// handle processes one item, records its outcome and advances progress.
// Only fatal errors are returned.
func (p *Pipeline) handle(ctx context.Context, item models.SourceItem, report *RunReport, logger *zap.Logger) error {
	outcome, failure, err := p.process(ctx, item)
	if err != nil {
		return err
	}

	p.mu.Lock()
	switch outcome {
	case metrics.OutcomeEmbedded:
		report.Embedded++
	case metrics.OutcomeSkipped:
		report.Skipped++
	case metrics.OutcomeFailed:
		report.Failed++
		report.Failures = append(report.Failures, *failure)
	}
	p.mu.Unlock()
	p.metrics.IngestItem(outcome)

	switch outcome {
	case metrics.OutcomeSkipped:
		logger.Debug("item already embedded", zap.String("url", item.URL))
	case metrics.OutcomeFailed:
		logger.Warn("item failed",
			zap.String("url", item.URL),
			zap.String("stage", failure.Stage),
			zap.String("error", failure.Error),
		)
	default:
		logger.Debug("item embedded", zap.String("url", item.URL))
	}

	p.advance()
	return nil
}

func (p *Pipeline) process(ctx context.Context, item models.SourceItem) (string, *ItemFailure, error) {
	existing, err := p.store.FindByURL(ctx, item.URL)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", nil, fmt.Errorf("failed to look up %s: %w", item.URL, err)
	}
	if existing.HasEmbedding() {
		return metrics.OutcomeSkipped, nil, nil
	}

	p.setState(StateFetching)
	page, err := fetch.FetchPage(ctx, p.fetcher, item.URL)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return failedItem(item.URL, StageFetch, err)
	}

	content := page.Text
	title := item.Title
	if title == "" && existing != nil {
		title = existing.Title
	}
	if title == "" {
		title = page.Title
	}
	text := content
	if strings.TrimSpace(text) == "" {
		text = title
	}
	if strings.TrimSpace(text) == "" {
		return failedItem(item.URL, StageFetch, ErrEmptyContent)
	}

	p.setState(StateEmbedding)
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return failedItem(item.URL, StageEmbed, err)
	}
	if len(vec) == 0 {
		return failedItem(item.URL, StageEmbed, errors.New("provider returned an empty vector"))
	}

	p.setState(StateUpserting)
	ts := item.AddedAt
	if ts <= 0 {
		ts = p.now().UnixMilli()
	}
	rec := &models.PageRecord{
		URL:        item.URL,
		Title:      title,
		Content:    content,
		Embedding:  vec,
		Timestamp:  ts,
		IsBookmark: true,
	}
	if _, err := p.store.Upsert(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("failed to store %s: %w", item.URL, err)
	}
	return metrics.OutcomeEmbedded, nil, nil
}

func failedItem(url, stage string, err error) (string, *ItemFailure, error) {
	return metrics.OutcomeFailed, &ItemFailure{URL: url, Stage: stage, Error: err.Error()}, nil
}

func (p *Pipeline) advance() {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.mu.Lock()
	p.progress.Processed++
	snap := p.progress
	p.mu.Unlock()
	p.publish(snap)
}

func (p *Pipeline) publish(pr models.Progress) {
	p.metrics.IngestProgress(pr.Fraction())
	if p.onProgress != nil {
		p.onProgress(pr)
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}
