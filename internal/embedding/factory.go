package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
)

// New returns an uninitialized provider for cfg.Provider, wrapped in an LRU cache
// once built. Call Init before use.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*Lazy, error) {
	var build InitFunc
	switch cfg.Provider {
	case config.ProviderONNX:
		build = func(context.Context) (Embedder, error) {
			return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		}
	case config.ProviderOpenAI, config.ProviderOllama:
		oc := OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Dimensions:     cfg.Dimensions,
			SendDimensions: cfg.Provider == config.ProviderOpenAI,
		}
		build = func(ctx context.Context) (Embedder, error) {
			e, err := NewOpenAIEmbedder(oc)
			if err != nil {
				return nil, err
			}
			// Probe so that a wrong URL or key surfaces as a failed init, not a failed query.
			if _, err := e.Embed(ctx, "ping"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case config.ProviderMock:
		build = func(context.Context) (Embedder, error) {
			return NewMockEmbedder(cfg.Dimensions), nil
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	cacheSize := cfg.CacheSize
	initFn := func(ctx context.Context) (Embedder, error) {
		e, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if cacheSize > 0 {
			return NewCached(e, cacheSize), nil
		}
		return e, nil
	}
	opts := []LazyOption{}
	if logger != nil {
		opts = append(opts, WithLogger(logger.With(zap.String("provider", cfg.Provider))))
	}
	return NewLazy(cfg.Dimensions, initFn, opts...), nil
}
