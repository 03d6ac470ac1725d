package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/hyperjump/kioku/internal/vector"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty for api.openai.com; e.g. http://localhost:11434/v1 for Ollama
	Model   string
	// Dimensions is the expected vector size. When SendDimensions is set it is
	// also requested from the server (supported by text-embedding-3 models).
	Dimensions     int
	SendDimensions bool
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIEmbedder creates an embedder for any OpenAI-compatible provider
// (OpenAI, Ollama, LM Studio, and similar).
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Results are returned in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.cfg.Model),
	}
	if e.cfg.SendDimensions {
		req.Dimensions = e.cfg.Dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, unavailable("create embeddings",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		if e.cfg.Dimensions > 0 {
			if err := vector.Vector(data.Embedding).CheckDim(e.cfg.Dimensions); err != nil {
				return nil, unavailable("create embeddings", err)
			}
		}
		vectors[idx] = data.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
