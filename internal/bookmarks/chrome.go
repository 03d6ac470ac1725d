package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/hyperjump/kioku/internal/models"
)

// Microseconds between the Windows epoch (1601-01-01) used by Chrome and the Unix epoch.
const windowsToUnixMicros = 11644473600 * 1_000_000

// ChromeSource reads a Chrome or Chromium "Bookmarks" JSON file.
type ChromeSource struct {
	path string
}

// NewChromeSource returns a source for the Bookmarks file at path.
func NewChromeSource(path string) *ChromeSource {
	return &ChromeSource{path: path}
}

type chromeFile struct {
	Roots map[string]json.RawMessage `json:"roots"`
}

type chromeNode struct {
	Type      string       `json:"type"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	DateAdded string       `json:"date_added"`
	Children  []chromeNode `json:"children"`
}

// Chrome writes roots in this order; other keys (sync metadata) are ignored.
var chromeRoots = []string{"bookmark_bar", "other", "synced"}

// List walks every root folder depth-first in file order.
func (s *ChromeSource) List(ctx context.Context) ([]models.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	return parseChrome(data)
}

func parseChrome(data []byte) ([]models.SourceItem, error) {
	var f chromeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks: %w", err)
	}
	var c collector
	for _, name := range chromeRoots {
		raw, ok := f.Roots[name]
		if !ok {
			continue
		}
		var root chromeNode
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("failed to parse bookmark root %q: %w", name, err)
		}
		walkChrome(&root, &c)
	}
	return c.items, nil
}

func walkChrome(n *chromeNode, c *collector) {
	if n.Type == "url" {
		c.add(models.SourceItem{URL: n.URL, Title: n.Name, AddedAt: chromeTimeToUnixMilli(n.DateAdded)})
		return
	}
	for i := range n.Children {
		walkChrome(&n.Children[i], c)
	}
}

// chromeTimeToUnixMilli converts Chrome's microseconds-since-1601 string; 0 when unparseable.
func chromeTimeToUnixMilli(v string) int64 {
	micros, err := strconv.ParseInt(v, 10, 64)
	if err != nil || micros <= windowsToUnixMicros {
		return 0
	}
	return (micros - windowsToUnixMicros) / 1000
}
