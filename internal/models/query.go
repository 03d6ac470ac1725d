package models

import (
	"fmt"
	"strings"
)

// SearchQuery is the body of a search request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate rejects blank queries and clamps Limit to [1, maxLimit].
func (q *SearchQuery) Validate(maxLimit int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if maxLimit <= 0 {
		maxLimit = 10
	}
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
