package models

// SearchResult is a single ranked hit with its component scores.
type SearchResult struct {
	Page          *PageRecord `json:"page"`
	Score         float64     `json:"score"`
	SemanticScore float64     `json:"semantic_score"`
	KeywordScore  float64     `json:"keyword_score"`
	Rank          int         `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Degraded  bool            `json:"degraded,omitempty"` // semantic scoring was unavailable
	QueryTime int64           `json:"query_time_ms"`
}
