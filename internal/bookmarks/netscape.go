package bookmarks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyperjump/kioku/internal/models"
)

// NetscapeSource reads a NETSCAPE-Bookmark-file-1 HTML export, the format every
// major browser can export to.
type NetscapeSource struct {
	path string
}

// NewNetscapeSource returns a source for the export at path.
func NewNetscapeSource(path string) *NetscapeSource {
	return &NetscapeSource{path: path}
}

// List returns every <A HREF> in document order.
func (s *NetscapeSource) List(ctx context.Context) ([]models.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	return parseNetscape(data)
}

func parseNetscape(data []byte) ([]models.SourceItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks: %w", err)
	}
	var c collector
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		var added int64
		if v, ok := a.Attr("add_date"); ok {
			if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && secs > 0 {
				added = secs * 1000
			}
		}
		c.add(models.SourceItem{URL: href, Title: a.Text(), AddedAt: added})
	})
	return c.items, nil
}
