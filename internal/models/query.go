package models

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/docqa/internal/apperr"
)

// Query request limits.
const (
	MaxQueryLength = 1000
	MinMaxResults  = 1
	MaxMaxResults  = 20
)

// QueryRequest is a question against the indexed documents.
type QueryRequest struct {
	Query               string            `json:"query"`
	MaxResults          int               `json:"max_results"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty"`
	Filters             map[string]string `json:"filters,omitempty"`
}

// Validate checks the request bounds. Query length is counted in characters.
func (q *QueryRequest) Validate() error {
	text := strings.TrimSpace(q.Query)
	if text == "" {
		return apperr.New(apperr.ValidationFailure, "query must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxQueryLength {
		return apperr.New(apperr.ValidationFailure, "query must be at most %d characters, got %d", MaxQueryLength, n)
	}
	if q.MaxResults < MinMaxResults || q.MaxResults > MaxMaxResults {
		return apperr.New(apperr.ValidationFailure, "max_results must be between %d and %d, got %d", MinMaxResults, MaxMaxResults, q.MaxResults)
	}
	if t := q.SimilarityThreshold; t != nil && (*t < 0 || *t > 1) {
		return apperr.New(apperr.ValidationFailure, "similarity_threshold must be between 0 and 1, got %g", *t)
	}
	return nil
}

// Source is a supporting chunk cited by an answer.
type Source struct {
	Filename string  `json:"filename"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
}

// Answer is the result of a question. Success is false when no answer could be
// attempted (for example, nothing has been indexed yet).
type Answer struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	TotalSources   int      `json:"total_sources"`
	ProcessingTime float64  `json:"processing_time"`
}
