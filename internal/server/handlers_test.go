package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/bookmarks"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/fetch"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

type testServer struct {
	srv      *Server
	handler  http.Handler
	store    *storage.SQLiteStorage
	pipeline *ingest.Pipeline
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	defaults := config.Defaults()
	cfg := &defaults
	cfg.Storage.DatabasePath = t.TempDir() + "/pages.db"

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewReady(embedding.NewMockEmbedder(16))
	collector := metrics.New()
	engine := search.NewEngine(store, embedder, cfg.Search, search.WithMetrics(collector))

	fetcher := fetch.FetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		return "content of " + rawURL, nil
	})
	pipeline := ingest.NewPipeline(store, embedder, fetcher, cfg.Ingest, ingest.WithMetrics(collector))
	source := bookmarks.StaticSource{
		{URL: "https://go.dev/doc", Title: "Go documentation"},
		{URL: "https://sqlite.org/wal.html", Title: "Write-Ahead Logging"},
	}

	srv := NewServer(engine, store, cfg, zap.NewNop(),
		WithIngester(pipeline, source),
		WithEmbedderStatus(embedder),
		WithMetrics(collector),
	)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &testServer{srv: srv, handler: srv.Handler(), store: store, pipeline: pipeline}
}

func (ts *testServer) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) seed(t *testing.T, pages ...*models.PageRecord) {
	t.Helper()
	emb := embedding.NewMockEmbedder(16)
	for _, p := range pages {
		if p.Embedding == nil {
			v, err := emb.Embed(context.Background(), p.Title+" "+p.Content)
			if err != nil {
				t.Fatal(err)
			}
			p.Embedding = v
		}
		if _, err := ts.store.Upsert(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return out
}

func TestHandleSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t,
		&models.PageRecord{URL: "https://a.example", Title: "Rust Borrow Checker", Content: "ownership and lifetimes", Timestamp: 1},
		&models.PageRecord{URL: "https://b.example", Title: "Cooking Pasta", Content: "boil water", Timestamp: 2},
	)

	w := ts.do(t, http.MethodPost, "/api/v1/search", `{"query":"rust ownership"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	resp := decode[models.SearchResponse](t, w)
	if len(resp.Results) == 0 || resp.Results[0].Page.URL != "https://a.example" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if resp.Degraded {
		t.Error("search should not be degraded with a ready embedder")
	}
	if strings.Contains(body, `"embedding"`) {
		t.Error("embeddings must not be serialized")
	}
}

func TestHandleSearch_badRequests(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{`not json`, `{"query":"   "}`} {
		w := ts.do(t, http.MethodPost, "/api/v1/search", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d", body, w.Code)
		}
	}
}

func TestHandleRecentPages(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t,
		&models.PageRecord{URL: "https://old.example", Title: "Old", Timestamp: 10},
		&models.PageRecord{URL: "https://new.example", Title: "New", Timestamp: 20},
		&models.PageRecord{URL: "https://mid.example", Title: "Mid", Timestamp: 15},
	)

	w := ts.do(t, http.MethodGet, "/api/v1/pages/recent?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	out := decode[struct {
		Pages []*models.PageRecord `json:"pages"`
		Total int                  `json:"total"`
	}](t, w)
	if out.Total != 2 || out.Pages[0].URL != "https://new.example" || out.Pages[1].URL != "https://mid.example" {
		t.Errorf("unexpected recent pages: %+v", out.Pages)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/pages/recent?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit: got %d", w.Code)
	}
}

func TestHandleLookupAndGetPage(t *testing.T) {
	ts := newTestServer(t)
	page := &models.PageRecord{URL: "https://a.example", Title: "A", Content: "alpha", Timestamp: 1}
	ts.seed(t, page)

	w := ts.do(t, http.MethodGet, "/api/v1/pages/lookup?url=https://a.example", "")
	if w.Code != http.StatusOK {
		t.Fatalf("lookup status: got %d", w.Code)
	}
	found := decode[models.PageRecord](t, w)
	if found.ID != page.ID || found.Title != "A" {
		t.Errorf("lookup: %+v", found)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/pages/"+strconv.FormatInt(page.ID, 10), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d", w.Code)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/pages/lookup", http.StatusBadRequest},
		{"/api/v1/pages/lookup?url=https://missing.example", http.StatusNotFound},
		{"/api/v1/pages/999", http.StatusNotFound},
		{"/api/v1/pages/nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := ts.do(t, http.MethodGet, tt.target, ""); w.Code != tt.want {
			t.Errorf("GET %s: got %d, want %d", tt.target, w.Code, tt.want)
		}
	}
}

func TestHandleMatchPages(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t,
		&models.PageRecord{URL: "https://a.example", Title: "SQLite WAL mode", Timestamp: 1},
		&models.PageRecord{URL: "https://b.example", Title: "Chi router", Timestamp: 2},
	)
	w := ts.do(t, http.MethodGet, "/api/v1/pages/match?q=wal", "")
	out := decode[struct {
		Pages []*models.PageRecord `json:"pages"`
	}](t, w)
	if len(out.Pages) != 1 || out.Pages[0].URL != "https://a.example" {
		t.Errorf("match: %+v", out.Pages)
	}
}

func TestHandleDeletePage(t *testing.T) {
	ts := newTestServer(t)
	page := &models.PageRecord{URL: "https://a.example", Title: "A", Timestamp: 1}
	ts.seed(t, page)
	target := "/api/v1/pages/" + strconv.FormatInt(page.ID, 10)

	if w := ts.do(t, http.MethodDelete, target, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, target, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", w.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/ingest", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start ingest: got %d", w.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		report := ts.pipeline.LastReport()
		if report != nil && !ts.pipeline.Running() {
			if report.Embedded != 2 {
				t.Errorf("embedded = %d, want 2", report.Embedded)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ingestion did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/ingest/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status: got %d", w.Code)
	}
	status := decode[ingestStatus](t, w)
	if status.Running || status.State != "idle" || status.Percent != 100 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.LastRun == nil || status.LastRun.Total != 2 {
		t.Errorf("last run: %+v", status.LastRun)
	}
}

func TestHandleIngest_embedderNotReady(t *testing.T) {
	ts := newTestServer(t)
	lazy := embedding.NewLazy(16, func(ctx context.Context) (embedding.Embedder, error) {
		return embedding.NewMockEmbedder(16), nil
	})
	srv := NewServer(ts.srv.engine, ts.store, ts.srv.config, nil,
		WithIngester(ts.pipeline, bookmarks.StaticSource{{URL: "https://go.dev"}}),
		WithEmbedderStatus(lazy),
	)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("start ingest: got %d, want 503", w.Code)
	}
	if ts.pipeline.LastReport() != nil {
		t.Error("no run should have started")
	}
}

func TestHandleIngest_disabled(t *testing.T) {
	ts := newTestServer(t)
	srv := NewServer(ts.srv.engine, ts.store, ts.srv.config, nil)
	h := srv.Handler()
	tests := []struct {
		method, target string
	}{
		{http.MethodPost, "/api/v1/ingest"},
		{http.MethodGet, "/api/v1/ingest/status"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, nil))
		if w.Code != http.StatusNotImplemented {
			t.Errorf("%s %s: got %d", tt.method, tt.target, w.Code)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, &models.PageRecord{URL: "https://a.example", Title: "A", Timestamp: 1})
	if _, err := ts.store.Upsert(context.Background(), &models.PageRecord{URL: "https://b.example", Title: "B"}); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	out := decode[map[string]interface{}](t, w)
	if out["pages"] != float64(2) || out["embedded_pages"] != float64(1) {
		t.Errorf("counts: pages=%v embedded=%v", out["pages"], out["embedded_pages"])
	}
	emb, ok := out["embedding"].(map[string]interface{})
	if !ok || emb["state"] != "ready" || emb["dimensions"] != float64(16) {
		t.Errorf("embedding: %v", out["embedding"])
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Error("disk_usage_bytes missing")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
	ts.do(t, http.MethodPost, "/api/v1/search", `{"query":"anything"}`)
	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "kioku_search_queries_total") {
		t.Error("search counter not exported")
	}
}
