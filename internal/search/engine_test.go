package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableEmbedder returns fixed vectors per text and fails for anything else.
type tableEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q: %w", text, embedding.ErrEmbeddingUnavailable)
	}
	return v, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) Dimensions() int { return 3 }
func (e *tableEmbedder) Close() error    { return nil }

// countingStore counts full scans and can be made to fail.
type countingStore struct {
	storage.Storage
	scans atomic.Int32
	fail  bool
}

func (s *countingStore) All(ctx context.Context) ([]*models.PageRecord, error) {
	s.scans.Add(1)
	if s.fail {
		return nil, fmt.Errorf("failed to list pages: %w: database is locked", storage.ErrStorageUnavailable)
	}
	return s.Storage.All(ctx)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &countingStore{Storage: store}
}

func put(t *testing.T, store storage.Storage, rec *models.PageRecord) *models.PageRecord {
	t.Helper()
	_, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

var (
	e1 = vector.Vector{1, 0, 0}
	e2 = vector.Vector{0.1, 1, 0}
)

func seedRustAndPasta(t *testing.T, store storage.Storage) {
	put(t, store, &models.PageRecord{URL: "https://a.example", Title: "Rust Borrow Checker", Content: "ownership and lifetimes", Embedding: e1, Timestamp: 1})
	put(t, store, &models.PageRecord{URL: "https://b.example", Title: "Cooking Pasta", Content: "boil water", Embedding: e2, Timestamp: 2})
}

func urls(results []*models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Page.URL
	}
	return out
}

func TestEngine_SearchBlendsSemanticAndKeyword(t *testing.T) {
	store := newStore(t)
	seedRustAndPasta(t, store)
	emb := &tableEmbedder{vectors: map[string][]float32{"rust ownership": e1}}
	engine := NewEngine(store, emb, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "rust ownership")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, urls(results))

	a, b := results[0], results[1]
	assert.Greater(t, a.Score, 0.6)
	assert.InDelta(t, 1.0, a.SemanticScore, 1e-6)
	assert.InDelta(t, 1.0, a.KeywordScore, 1e-9)
	assert.LessOrEqual(t, a.Score, 1.0)
	assert.Equal(t, a.Score, a.Page.RelevanceScore)
	assert.Equal(t, 1, a.Rank)

	assert.InDelta(t, 0, b.Score, 0.1)
	assert.Greater(t, b.Score, 0.0)
	assert.Zero(t, b.KeywordScore)
	assert.Equal(t, 2, b.Rank)
}

func TestEngine_SearchBlankQueryIsNoop(t *testing.T) {
	store := newStore(t)
	emb := &tableEmbedder{}
	engine := NewEngine(store, emb, config.DefaultSearchConfig())

	for _, q := range []string{"", "   ", "\t\n"} {
		results, err := engine.Search(context.Background(), q)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Zero(t, emb.calls.Load())
	assert.Zero(t, store.scans.Load())
}

func TestEngine_SearchExactEmbeddingWithoutKeywords(t *testing.T) {
	store := newStore(t)
	eA := vector.Vector{0.2, 0.4, 0.8}
	put(t, store, &models.PageRecord{URL: "https://a.example", Title: "Alpha", Content: "first", Embedding: eA, Timestamp: 1})
	put(t, store, &models.PageRecord{URL: "https://b.example", Title: "Beta", Content: "second", Timestamp: 5})
	emb := &tableEmbedder{vectors: map[string][]float32{"zzz": eA}}
	engine := NewEngine(store, emb, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "zzz")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://a.example", results[0].Page.URL)
	assert.InDelta(t, 0.6, results[0].Score, 1e-6)
	// B has neither an embedding nor a keyword hit.
	assert.Len(t, results, 1)
}

func TestEngine_SearchDegradesWhenEmbeddingFails(t *testing.T) {
	store := newStore(t)
	seedRustAndPasta(t, store)
	collector := metrics.New()
	engine := NewEngine(store, &tableEmbedder{}, config.DefaultSearchConfig(), WithMetrics(collector))

	resp, err := engine.Query(context.Background(), &models.SearchQuery{Query: "rust ownership"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Equal(t, []string{"https://a.example"}, urls(resp.Results))
	assert.InDelta(t, 0.4, resp.Results[0].Score, 1e-9)
	assert.Zero(t, resp.Results[0].SemanticScore)
	assert.Equal(t, 1, resp.Total)
}

func TestEngine_SearchWithoutEmbedder(t *testing.T) {
	store := newStore(t)
	seedRustAndPasta(t, store)
	engine := NewEngine(store, nil, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "pasta")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example"}, urls(results))
}

func TestEngine_SearchStoreFailure(t *testing.T) {
	store := newStore(t)
	store.fail = true
	engine := NewEngine(store, &tableEmbedder{}, config.DefaultSearchConfig())

	_, err := engine.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
}

func TestEngine_SearchCancelled(t *testing.T) {
	store := newStore(t)
	seedRustAndPasta(t, store)
	engine := NewEngine(store, &tableEmbedder{vectors: map[string][]float32{"rust": e1}}, config.DefaultSearchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Search(ctx, "rust")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.scans.Load())
}

func TestEngine_SearchTieBreakAndTruncate(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 15; i++ {
		put(t, store, &models.PageRecord{
			URL:       fmt.Sprintf("https://p%d.example", i),
			Title:     "golang notes",
			Timestamp: int64(i%5) + 1,
		})
	}
	engine := NewEngine(store, nil, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1].Page, results[i].Page
		assert.Equal(t, results[i-1].Score, results[i].Score)
		if prev.Timestamp == cur.Timestamp {
			assert.Greater(t, prev.ID, cur.ID)
		} else {
			assert.Greater(t, prev.Timestamp, cur.Timestamp)
		}
	}
	assert.EqualValues(t, 5, results[0].Page.Timestamp)
}

func TestEngine_SearchScoreCap(t *testing.T) {
	store := newStore(t)
	put(t, store, &models.PageRecord{URL: "https://a.example", Title: "one two three four", Embedding: e1})
	engine := NewEngine(store, &tableEmbedder{vectors: map[string][]float32{"one two three four": e1}}, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "one two three four")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 2.0, results[0].KeywordScore)
}

func TestEngine_SearchIgnoresMismatchedDimensions(t *testing.T) {
	store := newStore(t)
	put(t, store, &models.PageRecord{URL: "https://a.example", Title: "mismatch", Embedding: vector.Vector{1, 0}})
	engine := NewEngine(store, &tableEmbedder{vectors: map[string][]float32{"mismatch": e1}}, config.DefaultSearchConfig())

	results, err := engine.Search(context.Background(), "mismatch")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].SemanticScore)
	assert.InDelta(t, 0.2, results[0].Score, 1e-9)
}

func TestEngine_QueryValidatesAndLimits(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 5; i++ {
		put(t, store, &models.PageRecord{URL: fmt.Sprintf("https://p%d.example", i), Title: "kubernetes"})
	}
	engine := NewEngine(store, nil, config.DefaultSearchConfig())

	_, err := engine.Query(context.Background(), &models.SearchQuery{Query: "  "})
	assert.Error(t, err)

	resp, err := engine.Query(context.Background(), &models.SearchQuery{Query: "Kubernetes", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, "Kubernetes", resp.Query)
}

func TestEngine_Match(t *testing.T) {
	store := newStore(t)
	seedRustAndPasta(t, store)
	engine := NewEngine(store, nil, config.DefaultSearchConfig())

	pages, err := engine.Match(context.Background(), "BOIL")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "https://b.example", pages[0].URL)

	pages, err = engine.Match(context.Background(), " ")
	require.NoError(t, err)
	assert.Empty(t, pages)
}
