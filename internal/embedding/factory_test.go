package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
)

func TestNew_Mock(t *testing.T) {
	p, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 12, CacheSize: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, p.State())
	require.NoError(t, p.Init(context.Background()))
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 12)
}

func TestNew_OllamaProbeFailure(t *testing.T) {
	srv := newEmbeddingServer(t, 3, 500)
	p, err := New(config.EmbeddingConfig{Provider: config.ProviderOllama, BaseURL: srv.URL, Model: "nomic", Dimensions: 3}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Init(context.Background()), ErrEmbeddingUnavailable)
	assert.Equal(t, StateFailed, p.State())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.Error(t, err)
}
