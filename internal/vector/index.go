// Package vector provides similarity search over embedding vectors.
package vector

import (
	"context"

	"github.com/hyperjump/docqa/internal/models"
)

// VectorIndex defines vector storage and filtered similarity search.
type VectorIndex interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, filter models.Filter) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Match(filter models.Filter) []string
	Size() int
	Close() error
}

// Entry is one vector with the metadata used for filtering.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}
