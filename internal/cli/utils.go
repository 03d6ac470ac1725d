// Package cli provides output helpers for the kioku command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLen = 160

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.Degraded {
		fmt.Fprint(w, " (keyword only: embedding provider unavailable)")
	}
	fmt.Fprint(w, "\n\n")
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Semantic: %.4f, Keyword: %.4f)\n",
		result.Rank, result.Score, result.SemanticScore, result.KeywordScore)
	writePage(w, result.Page)
}

func writePage(w io.Writer, page *models.PageRecord) {
	if page.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", page.Title)
	}
	fmt.Fprintf(w, "URL: %s\n", page.URL)
	if page.Content != "" {
		fmt.Fprintf(w, "\n%s\n", Truncate(page.Content, snippetLen))
	}
	fmt.Fprintln(w)
}

// WritePages writes a page list, such as recent pages, to w.
func WritePages(w io.Writer, pages []*models.PageRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, pages)
	}
	if len(pages) == 0 {
		fmt.Fprintln(w, "No pages indexed yet.")
		return nil
	}
	for _, p := range pages {
		marker := " "
		if p.HasEmbedding() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, FormatTimestamp(p.Timestamp), p.URL)
		if p.Title != "" {
			fmt.Fprintf(w, "  %s\n", p.Title)
		}
	}
	return nil
}

// WriteIngestReport writes a summary of an ingestion run.
func WriteIngestReport(w io.Writer, report *ingest.RunReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "\nIngested %d items in %s: %d embedded, %d already indexed, %d failed\n",
		report.Total, report.Duration().Round(time.Millisecond), report.Embedded, report.Skipped, report.Failed)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  ✗ %s (%s): %s\n", f.URL, f.Stage, f.Error)
	}
	return nil
}

// ProgressPrinter returns a progress observer that rewrites one status line on w.
func ProgressPrinter(w io.Writer) func(models.Progress) {
	return func(p models.Progress) {
		fmt.Fprintf(w, "\rIngesting %d/%d (%d%%)", p.Processed, p.Total, p.Percent())
	}
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// FormatTimestamp renders unix milliseconds as a local date and time.
func FormatTimestamp(ms int64) string {
	if ms <= 0 {
		return "unknown         "
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxLen])) + "..."
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
