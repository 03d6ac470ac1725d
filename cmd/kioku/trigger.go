package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/ingest"
)

const ingestRetryInterval = 2 * time.Second

// ingestTrigger serializes ingestion requests from startup and the bookmark
// watcher. Requests made before the embedding provider is ready, or while a run
// is active, are remembered and served by one follow-up run.
type ingestTrigger struct {
	ctx    context.Context
	run    func(ctx context.Context, reason string) error
	logger *zap.Logger
	retry  time.Duration

	mu      sync.Mutex
	ready   bool
	running bool
	pending string // reason of the deferred request, empty when none
	wg      sync.WaitGroup
}

func newIngestTrigger(ctx context.Context, run func(ctx context.Context, reason string) error, logger *zap.Logger) *ingestTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ingestTrigger{ctx: ctx, run: run, logger: logger, retry: ingestRetryInterval}
}

// Request asks for a run and returns immediately.
func (t *ingestTrigger) Request(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || t.running {
		if t.pending == "" {
			t.pending = reason
		}
		t.logger.Debug("ingestion deferred",
			zap.String("trigger", reason),
			zap.Bool("provider_ready", t.ready),
			zap.Bool("running", t.running))
		return
	}
	t.start(reason)
}

// Ready marks the embedding provider as ready and starts a deferred request.
func (t *ingestTrigger) Ready() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
	if t.pending != "" && !t.running {
		reason := t.pending
		t.pending = ""
		t.start(reason)
	}
}

// Wait blocks until no run is active.
func (t *ingestTrigger) Wait() {
	t.wg.Wait()
}

// start must be called with mu held.
func (t *ingestTrigger) start(reason string) {
	t.running = true
	t.wg.Add(1)
	go t.loop(reason)
}

func (t *ingestTrigger) loop(reason string) {
	defer t.wg.Done()
	for {
		err := t.run(t.ctx, reason)
		if errors.Is(err, ingest.ErrRunInProgress) {
			// A run started over HTTP holds the pipeline.
			select {
			case <-t.ctx.Done():
			case <-time.After(t.retry):
				continue
			}
		}

		t.mu.Lock()
		next := t.pending
		t.pending = ""
		if next == "" || t.ctx.Err() != nil {
			t.running = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		t.logger.Debug("running deferred ingestion", zap.String("trigger", next))
		reason = next
	}
}
