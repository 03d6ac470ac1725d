package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

var (
	// ErrSuperseded resolves a task replaced by a newer submission.
	ErrSuperseded = errors.New("search superseded by a newer query")
	// ErrDebouncerClosed resolves tasks submitted after Close.
	ErrDebouncerClosed = errors.New("debouncer closed")
)

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]*models.SearchResult, error)
}

// Task is one debounced submission. It resolves exactly once.
type Task struct {
	query  string
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	timer  *time.Timer

	results []*models.SearchResult
	err     error
}

// Query returns the submitted query.
func (t *Task) Query() string {
	return t.query
}

// Done is closed when the task has resolved.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task resolves or ctx is done.
func (t *Task) Wait(ctx context.Context) ([]*models.SearchResult, error) {
	select {
	case <-t.done:
		return t.results, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the task; it resolves with context.Canceled unless it already resolved.
func (t *Task) Cancel() {
	t.abort(context.Canceled)
}

func (t *Task) resolve(results []*models.SearchResult, err error) {
	t.once.Do(func() {
		t.results = results
		t.err = err
		close(t.done)
	})
}

func (t *Task) abort(err error) {
	t.resolve(nil, err)
	t.cancel()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Debouncer delays searches by a quiet window. A new submission supersedes the
// pending one, whether it is still waiting or already running, so only the
// latest query's results are ever delivered.
type Debouncer struct {
	searcher Searcher
	window   time.Duration

	mu      sync.Mutex
	pending *Task
	closed  bool
}

// NewDebouncer creates a debouncer that runs searcher after window of quiet.
func NewDebouncer(searcher Searcher, window time.Duration) *Debouncer {
	return &Debouncer{searcher: searcher, window: window}
}

// Submit schedules query and supersedes any earlier task. Cancelling ctx
// resolves the task with the context error.
func (d *Debouncer) Submit(ctx context.Context, query string) *Task {
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{query: query, done: make(chan struct{}), cancel: cancel}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		t.abort(ErrDebouncerClosed)
		return t
	}
	if d.pending != nil {
		d.pending.abort(ErrSuperseded)
	}
	d.pending = t
	context.AfterFunc(runCtx, func() { t.resolve(nil, runCtx.Err()) })
	t.timer = time.AfterFunc(d.window, func() { d.execute(runCtx, t) })
	return t
}

func (d *Debouncer) execute(ctx context.Context, t *Task) {
	defer t.cancel()
	if ctx.Err() != nil {
		return
	}
	results, err := d.searcher.Search(ctx, t.query)

	d.mu.Lock()
	if d.pending == t {
		d.pending = nil
	}
	d.mu.Unlock()

	// No-op when the task was superseded or cancelled meanwhile.
	t.resolve(results, err)
}

// Close cancels the pending task and rejects later submissions.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.pending != nil {
		d.pending.abort(context.Canceled)
		d.pending = nil
	}
}
