package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name      string
		query     *SearchQuery
		wantErr   bool
		wantLimit int
	}{
		{"empty query", &SearchQuery{Query: ""}, true, 0},
		{"blank query", &SearchQuery{Query: "  \t"}, true, 0},
		{"sets default limit", &SearchQuery{Query: "x"}, false, 10},
		{"keeps smaller limit", &SearchQuery{Query: "x", Limit: 3}, false, 3},
		{"caps limit", &SearchQuery{Query: "x", Limit: 200}, false, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(10)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.query.Limit, tt.wantLimit)
			}
		})
	}
}

func TestProgress_Fraction(t *testing.T) {
	tests := []struct {
		p    Progress
		want float64
	}{
		{Progress{0, 0}, 0},
		{Progress{0, 3}, 0},
		{Progress{1, 4}, 0.25},
		{Progress{3, 3}, 1},
	}
	for _, tt := range tests {
		if got := tt.p.Fraction(); got != tt.want {
			t.Errorf("%+v.Fraction() = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := (Progress{1, 3}).Percent(); got != 33 {
		t.Errorf("Percent() = %d, want 33", got)
	}
}

func TestPageRecord_Clone(t *testing.T) {
	p := &PageRecord{ID: 1, URL: "https://a", Embedding: []float32{1, 2}}
	c := p.Clone()
	c.Embedding[0] = 9
	if p.Embedding[0] != 1 {
		t.Error("clone shares embedding storage with original")
	}
	if !c.HasEmbedding() {
		t.Error("clone lost embedding")
	}
	var nilPage *PageRecord
	if nilPage.HasEmbedding() || nilPage.Clone() != nil {
		t.Error("nil page handling")
	}
}
