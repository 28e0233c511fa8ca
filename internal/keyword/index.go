// Package keyword provides a lexical (BM25-style) index over chunk text. It is a
// derived secondary index: the vector store stays the system of record.
package keyword

import (
	"context"

	"github.com/hyperjump/docqa/internal/models"
)

// SearchOptions narrows a keyword search. Nil means defaults.
type SearchOptions struct {
	// Filename restricts hits to chunks of one document.
	Filename string
	// Fuzziness is the maximum edit distance per term (0 disables fuzzy matching, max 2).
	Fuzziness int
}

// Index defines keyword index operations over chunks.
type Index interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	// DocCount returns the number of chunks in the index.
	DocCount() (uint64, error)
	// Reset drops every entry.
	Reset() error
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ID       string
	Score    float64
	Filename string
	Text     string
}
