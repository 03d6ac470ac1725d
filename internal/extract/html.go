package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// extractHTML returns the main article text. Readability is tried first; when it
// finds nothing the first non-empty fallback selector wins, then the whole body.
func (e *Extractor) extractHTML(content []byte, pageURL *url.URL) (string, error) {
	if pageURL == nil {
		pageURL = &url.URL{}
	}
	parser := readability.NewParser()
	if article, err := parser.Parse(bytes.NewReader(content), pageURL); err == nil {
		if text := htmlText(article.Content); strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return e.selectorText(content)
}

// selectorText returns the text of the first non-empty element matching the
// fallback selectors, or the whole body.
func (e *Extractor) selectorText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var text string
	doc.Find(e.selectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = s.Text()
		return strings.TrimSpace(text) == ""
	})
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}
	return text, nil
}

// HTMLTitle returns the document's <title>, or "" when absent.
func HTMLTitle(content []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	return CollapseWhitespace(doc.Find("title").First().Text())
}

func htmlText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return doc.Text()
}
