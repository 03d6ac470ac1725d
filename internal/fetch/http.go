package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/extract"
)

const maxBodyBytes = 10 << 20

// HTTPFetcher downloads pages over HTTP(S), extracts their main text and caps its length.
// Requests are rate limited per host.
type HTTPFetcher struct {
	client    *http.Client
	extractor *extract.Extractor
	cfg       config.FetchConfig
	logger    *zap.Logger // optional

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the default client (which uses cfg.Timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithLogger sets a logger for request-level debug output.
func WithLogger(l *zap.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher from cfg. Zero fields in cfg fall back to defaults.
func NewHTTPFetcher(cfg config.FetchConfig, opts ...Option) *HTTPFetcher {
	defaults := config.Defaults()
	if cfg.MaxContentChars == 0 {
		cfg.MaxContentChars = defaults.Fetch.MaxContentChars
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Fetch.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.Fetch.UserAgent
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		extractor: extract.NewExtractor(),
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[host]; ok {
		return l
	}
	limit := rate.Inf
	if f.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(f.cfg.RequestsPerSecond)
	}
	l := rate.NewLimiter(limit, f.cfg.Burst)
	f.limiters[host] = l
	return l
}

// Fetch downloads rawURL and returns its extracted text, truncated to MaxContentChars.
// Context cancellation is returned as the context's error, not as a FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	page, err := f.FetchPage(ctx, rawURL)
	return page.Text, err
}

// FetchPage is Fetch that also returns the <title> of HTML documents.
func (f *HTTPFetcher) FetchPage(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, failed(rawURL, "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Page{}, failed(rawURL, fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, failed(rawURL, "rate limit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, failed(rawURL, "build request", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,text/plain;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, failed(rawURL, "request", err)
	}
	defer resp.Body.Close()

	if f.logger != nil {
		f.logger.Debug("fetched page", zap.String("url", rawURL), zap.Int("status", resp.StatusCode),
			zap.String("content_type", resp.Header.Get("Content-Type")))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Page{}, &FetchError{URL: rawURL, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode), StatusCode: resp.StatusCode}
	}

	kind := extract.KindFromContentType(resp.Header.Get("Content-Type"))
	if kind == "" {
		return Page{}, failed(rawURL, fmt.Sprintf("unsupported content type %q", resp.Header.Get("Content-Type")), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, failed(rawURL, "read body", err)
	}

	// Resolve relative links against the final URL after redirects.
	text, err := f.extractor.ExtractBytes(body, kind, resp.Request.URL)
	if err != nil {
		return Page{}, failed(rawURL, "extract "+string(kind), err)
	}
	page := Page{Text: strings.TrimSpace(extract.Truncate(text, f.cfg.MaxContentChars))}
	if kind == extract.KindHTML {
		page.Title = extract.HTMLTitle(body)
	}
	return page, nil
}
