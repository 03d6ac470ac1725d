package embedding

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// State is the readiness of a Lazy provider.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var errNotReady = errors.New("provider not ready")

// InitFunc builds the underlying provider. It may be slow (model load, network check).
type InitFunc func(ctx context.Context) (Embedder, error)

// Lazy is an Embedder with an explicit initialization step. Until Init succeeds
// every call fails with ErrEmbeddingUnavailable; it never initializes implicitly.
type Lazy struct {
	build      InitFunc
	dimensions int
	logger     *zap.Logger // optional

	mu    sync.RWMutex
	state State
	inner Embedder
	err   error
}

// LazyOption configures a Lazy provider.
type LazyOption func(*Lazy)

// WithLogger sets a logger for initialization events.
func WithLogger(l *zap.Logger) LazyOption {
	return func(p *Lazy) { p.logger = l }
}

// NewLazy returns an uninitialized provider. Init calls build to create it.
func NewLazy(dimensions int, build InitFunc, opts ...LazyOption) *Lazy {
	p := &Lazy{build: build, dimensions: dimensions}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewReady returns a Lazy that is already ready and wraps e.
func NewReady(e Embedder) *Lazy {
	return &Lazy{dimensions: e.Dimensions(), state: StateReady, inner: e}
}

// Init builds the provider. It is a no-op once ready; after a failure it may be called again.
func (p *Lazy) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateReady {
		p.mu.Unlock()
		return nil
	}
	if p.state == StateInitializing {
		p.mu.Unlock()
		return unavailable("init", errors.New("initialization already in progress"))
	}
	p.state = StateInitializing
	p.mu.Unlock()

	inner, err := p.build(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateFailed
		p.err = err
		if p.logger != nil {
			p.logger.Warn("embedding provider failed to initialize", zap.Error(err))
		}
		if errors.Is(err, ErrEmbeddingUnavailable) {
			return err
		}
		return unavailable("init", err)
	}
	p.inner = inner
	p.state = StateReady
	p.err = nil
	if inner.Dimensions() > 0 {
		p.dimensions = inner.Dimensions()
	}
	if p.logger != nil {
		p.logger.Info("embedding provider ready", zap.Int("dimensions", p.dimensions))
	}
	return nil
}

// State returns the current readiness state.
func (p *Lazy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the last initialization error, if any.
func (p *Lazy) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Lazy) ready() (Embedder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateReady {
		if p.err != nil {
			return nil, unavailable(p.state.String(), p.err)
		}
		return nil, unavailable(p.state.String(), errNotReady)
	}
	return p.inner, nil
}

// Embed delegates to the provider, or fails with ErrEmbeddingUnavailable when not ready.
func (p *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	inner, err := p.ready()
	if err != nil {
		return nil, err
	}
	return inner.Embed(ctx, text)
}

// EmbedBatch delegates to the provider, or fails with ErrEmbeddingUnavailable when not ready.
func (p *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inner, err := p.ready()
	if err != nil {
		return nil, err
	}
	return inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the configured dimension, or the provider's once ready.
func (p *Lazy) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimensions
}

// Close closes the provider if it was built and returns the wrapper to uninitialized.
func (p *Lazy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inner == nil {
		return nil
	}
	err := p.inner.Close()
	p.inner = nil
	p.state = StateUninitialized
	return err
}
