// Package bookmarks enumerates bookmarked URLs from browser bookmark files.
package bookmarks

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
)

// Source lists bookmark items in a stable order.
type Source interface {
	List(ctx context.Context) ([]models.SourceItem, error)
}

// StaticSource serves a fixed list of items.
type StaticSource []models.SourceItem

// List returns the items, dropping unsupported and duplicate URLs.
func (s StaticSource) List(ctx context.Context) ([]models.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c collector
	for _, item := range s {
		c.add(item)
	}
	return c.items, nil
}

// Open returns the Source described by cfg.
func Open(cfg config.SourceConfig) (Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bookmark source path is required")
	}
	switch cfg.Type {
	case config.SourceChrome:
		return NewChromeSource(cfg.Path), nil
	case config.SourceNetscape:
		return NewNetscapeSource(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown bookmark source type %q", cfg.Type)
	}
}

// indexable reports whether the pipeline can fetch rawURL.
func indexable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "file":
		return u.Path != ""
	default:
		return false
	}
}

// collector keeps the first occurrence of each indexable URL.
type collector struct {
	items []models.SourceItem
	seen  map[string]struct{}
}

func (c *collector) add(item models.SourceItem) {
	item.URL = strings.TrimSpace(item.URL)
	if !indexable(item.URL) {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, dup := c.seen[item.URL]; dup {
		return
	}
	c.seen[item.URL] = struct{}{}
	item.Title = strings.TrimSpace(item.Title)
	c.items = append(c.items, item)
}
