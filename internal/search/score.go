package search

import (
	"sort"
	"strings"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// Terms splits a query on whitespace and lowercases each term.
// Repeated terms are kept and each one counts toward the keyword score.
func Terms(query string) []string {
	fields := strings.Fields(query)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// KeywordScore adds perTerm for every term contained in the lowercased
// "title content" text. Terms must already be lowercased.
func KeywordScore(terms []string, title, content string, perTerm float64) float64 {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(title + " " + content)
	var score float64
	for _, t := range terms {
		if strings.Contains(text, t) {
			score += perTerm
		}
	}
	return score
}

// SemanticScore is the cosine similarity of the query and page embeddings,
// or 0 when either is missing or their dimensions differ.
func SemanticScore(query, page vector.Vector) float64 {
	if len(query) == 0 || len(page) == 0 {
		return 0
	}
	sim, err := vector.CosineSimilarity(query, page)
	if err != nil {
		return 0
	}
	return sim
}

// Blend combines the two scores with the configured weights and caps the result.
func Blend(cfg config.SearchConfig, semantic, keyword float64) float64 {
	score := cfg.SemanticWeight*semantic + cfg.KeywordWeight*keyword
	if score > cfg.ScoreCap {
		score = cfg.ScoreCap
	}
	return score
}

// Rank scores every page, keeps those with a positive score, and returns at
// most limit results ordered by score, then timestamp, then id, all descending.
func Rank(cfg config.SearchConfig, queryVec vector.Vector, terms []string, pages []*models.PageRecord, limit int) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(pages))
	for _, p := range pages {
		sem := SemanticScore(queryVec, p.Embedding)
		kw := KeywordScore(terms, p.Title, p.Content, cfg.KeywordTermScore)
		score := Blend(cfg, sem, kw)
		if score <= 0 {
			continue
		}
		results = append(results, &models.SearchResult{
			Page:          p,
			Score:         score,
			SemanticScore: sem,
			KeywordScore:  kw,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Page.Timestamp != b.Page.Timestamp {
			return a.Page.Timestamp > b.Page.Timestamp
		}
		return a.Page.ID > b.Page.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
		r.Page.RelevanceScore = r.Score
	}
	return results
}
