// Package embedding provides text embedding providers, an LRU cache, and an
// explicitly initialized provider wrapper.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingUnavailable is returned when the provider cannot produce an embedding,
// either because it is not ready or because the underlying model failed.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrEmbeddingUnavailable, err)
}

// embedEach implements EmbedBatch for providers that embed one text at a time.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
