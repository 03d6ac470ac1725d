package fetch

import (
	"context"
	"net/url"
	"path/filepath"

	"github.com/hyperjump/kioku/internal/extract"
)

// FileFetcher reads file:// bookmarks from the local disk.
type FileFetcher struct {
	extractor       *extract.Extractor
	maxContentChars int
}

// NewFileFetcher returns a fetcher for file:// URLs. maxContentChars <= 0 means no limit.
func NewFileFetcher(maxContentChars int) *FileFetcher {
	return &FileFetcher{extractor: extract.NewExtractor(), maxContentChars: maxContentChars}
}

// Fetch extracts the text of the local file named by rawURL.
func (f *FileFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", failed(rawURL, "invalid url", err)
	}
	if u.Scheme != "file" {
		return "", failed(rawURL, "not a file url", nil)
	}
	text, err := f.extractor.Extract(filepath.FromSlash(u.Path))
	if err != nil {
		return "", failed(rawURL, "read file", err)
	}
	return extract.Truncate(text, f.maxContentChars), nil
}
