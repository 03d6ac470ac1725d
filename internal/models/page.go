// Package models defines core data structures for pages, sources, and search results.
package models

import "github.com/hyperjump/kioku/internal/vector"

// PageRecord is one indexed page. URL is the business key; ID is assigned by the store.
type PageRecord struct {
	ID         int64         `json:"id"`
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	Embedding  vector.Vector `json:"-"`
	Timestamp  int64         `json:"timestamp"` // unix milliseconds of the last write
	IsBookmark bool          `json:"is_bookmark"`

	// RelevanceScore is set on query results only and is never persisted.
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// HasEmbedding reports whether the record carries an embedding vector.
func (p *PageRecord) HasEmbedding() bool {
	return p != nil && len(p.Embedding) > 0
}

// Clone returns a copy of p that shares no slices with it.
func (p *PageRecord) Clone() *PageRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.Embedding != nil {
		c.Embedding = append(vector.Vector(nil), p.Embedding...)
	}
	return &c
}

// SourceItem is one entry enumerated from a bookmark source.
type SourceItem struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	AddedAt int64  `json:"added_at,omitempty"` // unix milliseconds; 0 when unknown
}

// Progress reports how far an ingestion run has advanced.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Fraction returns Processed/Total, or 0 when Total is 0.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total)
}

// Percent returns the progress as a whole percentage.
func (p Progress) Percent() int {
	return int(p.Fraction() * 100)
}
