// Package storage defines the vector index store: the system of record for chunks,
// their embeddings and their metadata.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/pkg/utils"
)

// Backend names accepted by New.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// Store persists chunks and answers filtered similarity queries.
// Reads observe every write that has returned.
type Store interface {
	// Upsert inserts chunks, overwriting any chunk with the same ID.
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	// DeleteWhere removes every chunk matching filter and returns the removed IDs.
	DeleteWhere(ctx context.Context, filter models.Filter) ([]string, error)
	// GetIDsWhere returns the IDs of chunks matching filter in insertion order.
	GetIDsWhere(ctx context.Context, filter models.Filter) ([]string, error)
	// Get returns the chunks matching filter in insertion order.
	Get(ctx context.Context, filter models.Filter) ([]*models.Chunk, error)
	// Replace atomically swaps every chunk matching filter for chunks.
	// Readers see either the old set or the new set, never both or neither.
	Replace(ctx context.Context, filter models.Filter, chunks []*models.Chunk) ([]string, error)
	// Query returns up to topK chunks matching filter, highest cosine similarity first.
	Query(ctx context.Context, vector []float32, topK int, filter models.Filter) ([]*models.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	// Documents returns one entry per distinct filename, sorted by filename.
	Documents(ctx context.Context) ([]*models.DocumentInfo, error)
	// Paths returns the on-disk locations used by the store.
	Paths() []string
	Name() string
	Backend() string
	Close() error
}

// Options configures New.
type Options struct {
	Backend    string
	Dir        string
	Collection string
	Dimensions int
}

// New opens the configured backend under opts.Dir.
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(sqlitePath(opts.Dir), opts.Collection, opts.Dimensions)
	case BackendChromem:
		return NewChromemStore(chromemPath(opts.Dir), opts.Collection, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

func sqlitePath(dir string) string  { return filepath.Join(dir, "index.db") }
func chromemPath(dir string) string { return filepath.Join(dir, "chromem") }

// validateChunks checks the invariants every stored chunk must satisfy.
func validateChunks(chunks []*models.Chunk, dimensions int) error {
	seen := make(map[string]bool, len(chunks))
	for i, ch := range chunks {
		if ch == nil {
			return fmt.Errorf("chunk %d is nil", i)
		}
		if ch.ID == "" {
			return fmt.Errorf("chunk %d has an empty id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate chunk id %q in batch", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Filename() == "" {
			return fmt.Errorf("chunk %q has no %s metadata", ch.ID, models.MetaFilename)
		}
		if len(ch.Vector) != dimensions {
			return fmt.Errorf("chunk %q: vector dimension %d, expected %d", ch.ID, len(ch.Vector), dimensions)
		}
		if utils.IsDegenerate(ch.Vector) {
			return fmt.Errorf("chunk %q has a zero or non-finite vector", ch.ID)
		}
	}
	return nil
}

func requireFilter(filter models.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to match every chunk with an empty filter")
	}
	return nil
}

// summarize folds per-chunk metadata into per-document info.
func summarize(metas []map[string]string) []*models.DocumentInfo {
	byName := make(map[string]*models.DocumentInfo)
	for _, m := range metas {
		name := m[models.MetaFilename]
		info, ok := byName[name]
		if !ok {
			size, _ := strconv.ParseInt(m[models.MetaByteSize], 10, 64)
			info = &models.DocumentInfo{
				Filename:          name,
				ByteSize:          size,
				SourcePath:        m[models.MetaSourcePath],
				ModifiedTimestamp: m[models.MetaModifiedTimestamp],
			}
			byName[name] = info
		}
		info.Chunks++
	}
	out := make([]*models.DocumentInfo, 0, len(byName))
	for _, info := range byName {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}
