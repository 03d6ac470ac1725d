package embedding

import (
	"context"
	"strings"

	"github.com/hyperjump/kioku/internal/vector"
)

// MockEmbedder is a deterministic embedder for tests and offline use. Each word is
// hashed into a bucket of a fixed-dimension bag-of-words vector, so texts sharing
// words have positive cosine similarity and identical texts embed identically.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-length hashed bag-of-words vector. Text with no words embeds to the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make(vector.Vector, e.dimensions)
	for _, w := range SplitWords(strings.ToLower(text)) {
		h := HashString(w)
		emb[h%e.dimensions] += 1
		emb[(h/e.dimensions)%e.dimensions] += 0.5
	}
	vector.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
