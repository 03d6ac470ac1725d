// Package extract turns fetched or local documents (HTML, PDF, spreadsheets, plain text)
// into the plain text that gets indexed.
package extract

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Kind is a document format.
type Kind string

const (
	KindHTML Kind = "html"
	KindPDF  Kind = "pdf"
	KindXLSX Kind = "xlsx"
	KindText Kind = "text"
)

// KindFromExtension maps a file extension (with leading dot) to a Kind.
// Unknown extensions are treated as plain text.
func KindFromExtension(ext string) Kind {
	switch strings.ToLower(ext) {
	case ".html", ".htm", ".xhtml":
		return KindHTML
	case ".pdf":
		return KindPDF
	case ".xlsx":
		return KindXLSX
	default:
		return KindText
	}
}

// KindFromContentType maps an HTTP Content-Type header to a Kind. An empty or
// unparseable header is treated as HTML, the common case for bookmarked pages.
func KindFromContentType(contentType string) Kind {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" {
		return KindHTML
	}
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return KindHTML
	case mt == "application/pdf":
		return KindPDF
	case mt == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return KindXLSX
	case strings.HasPrefix(mt, "text/"), mt == "application/json", mt == "application/xml":
		return KindText
	default:
		return ""
	}
}

// Extractor extracts plain text from documents.
type Extractor struct {
	// selectors are tried in order when readability finds no article.
	selectors string
}

// DefaultSelectors are the main-content containers tried when readability fails.
const DefaultSelectors = "main, article, .content, #content"

// NewExtractor returns an Extractor using DefaultSelectors for HTML fallback.
func NewExtractor() *Extractor {
	return &Extractor{selectors: DefaultSelectors}
}

// Extract reads the file at path and returns its text content with whitespace collapsed.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	abs, _ := filepath.Abs(path)
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return e.ExtractBytes(content, KindFromExtension(filepath.Ext(path)), pageURL)
}

// ExtractBytes extracts text from content of the given kind. pageURL is used to
// resolve relative links in HTML and may be nil. The result has its whitespace collapsed.
func (e *Extractor) ExtractBytes(content []byte, kind Kind, pageURL *url.URL) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case KindHTML:
		text, err = e.extractHTML(content, pageURL)
	case KindPDF:
		text, err = extractPDF(content)
	case KindXLSX:
		text, err = extractExcel(content)
	case KindText:
		text, err = extractPlain(content)
	default:
		return "", fmt.Errorf("unsupported document kind %q", kind)
	}
	if err != nil {
		return "", err
	}
	return CollapseWhitespace(text), nil
}

// CollapseWhitespace trims text and replaces each run of whitespace with a single space.
func CollapseWhitespace(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// Truncate returns at most maxChars runes of text. maxChars <= 0 means no limit.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}
