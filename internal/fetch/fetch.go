// Package fetch downloads bookmarked pages and returns their extracted text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrFetchFailed matches every *FetchError via errors.Is.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError describes why a URL could not be turned into text.
type FetchError struct {
	URL        string
	Reason     string
	StatusCode int // HTTP status, when the server answered
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func failed(rawURL, reason string, err error) *FetchError {
	return &FetchError{URL: rawURL, Reason: reason, Err: err}
}

// Fetcher returns the plain text content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Page is a fetched document: its extracted text and, for HTML, its <title>.
type Page struct {
	Title string
	Text  string
}

// PageFetcher is implemented by fetchers that can also report the document title.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (Page, error)
}

// FetchPage fetches rawURL through f, using FetchPage when f supports it. Fetchers
// that only return text yield a Page without a title.
func FetchPage(ctx context.Context, f Fetcher, rawURL string) (Page, error) {
	if pf, ok := f.(PageFetcher); ok {
		return pf.FetchPage(ctx, rawURL)
	}
	text, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return Page{}, err
	}
	return Page{Text: text}, nil
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, rawURL string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (string, error) {
	return f(ctx, rawURL)
}

// Router dispatches to a Fetcher by URL scheme.
type Router struct {
	schemes map[string]Fetcher
}

// NewRouter returns a Router serving http and https with web and file with local.
// Either may be nil to leave those schemes unsupported.
func NewRouter(web, local Fetcher) *Router {
	r := &Router{schemes: make(map[string]Fetcher)}
	if web != nil {
		r.Handle("http", web)
		r.Handle("https", web)
	}
	if local != nil {
		r.Handle("file", local)
	}
	return r
}

// Handle registers f for scheme.
func (r *Router) Handle(scheme string, f Fetcher) {
	r.schemes[strings.ToLower(scheme)] = f
}

// Fetch routes rawURL to the fetcher registered for its scheme.
func (r *Router) Fetch(ctx context.Context, rawURL string) (string, error) {
	page, err := r.FetchPage(ctx, rawURL)
	return page.Text, err
}

// FetchPage routes rawURL like Fetch and keeps the title when the target reports one.
func (r *Router) FetchPage(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, failed(rawURL, "invalid url", err)
	}
	f, ok := r.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return Page{}, failed(rawURL, fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	return FetchPage(ctx, f, rawURL)
}
