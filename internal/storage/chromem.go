package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hyperjump/docqa/internal/models"
)

// seqKey is the chromem metadata key holding the insertion sequence number.
const seqKey = "_seq"

// ChromemStore implements Store on a persistent chromem-go collection.
// chromem has no listing API, so the store keeps each chunk's metadata in memory
// for filter lookups and delegates similarity search to the collection.
type ChromemStore struct {
	db         *chromem.DB
	col        *chromem.Collection
	path       string
	collection string
	dimensions int
	meta       map[string]chromemEntry
	nextSeq    uint64
	mu         sync.RWMutex
}

type chromemEntry struct {
	seq  uint64
	meta map[string]string
}

// precomputedOnly is installed as the collection's embedding function. The
// pipeline always supplies vectors, so chromem must never embed on its own.
func precomputedOnly(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

// NewChromemStore opens or creates a persistent chromem database in dir.
func NewChromemStore(dir, collection string, dimensions int) (*ChromemStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chromem directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}
	col, err := db.GetOrCreateCollection(collection, map[string]string{"dimensions": strconv.Itoa(dimensions)}, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", collection, err)
	}
	s := &ChromemStore{
		db:         db,
		col:        col,
		path:       dir,
		collection: collection,
		dimensions: dimensions,
		meta:       make(map[string]chromemEntry),
	}
	if err := s.load(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// load rebuilds the metadata view from every persisted document.
func (s *ChromemStore) load(ctx context.Context) error {
	n := s.col.Count()
	if n == 0 {
		return nil
	}
	results, err := s.col.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: s.probe(),
		NResults:       n,
	})
	if err != nil {
		return fmt.Errorf("failed to read collection (dimension %d): %w", s.dimensions, err)
	}
	for _, r := range results {
		seq, _ := strconv.ParseUint(r.Metadata[seqKey], 10, 64)
		s.meta[r.ID] = chromemEntry{seq: seq, meta: stripSeq(r.Metadata)}
		if seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}
	}
	return nil
}

// probe is a unit vector used to enumerate documents; its similarity values are ignored.
func (s *ChromemStore) probe() []float32 {
	p := make([]float32, s.dimensions)
	p[0] = 1
	return p
}

// matchLocked returns matching IDs ordered by insertion sequence.
func (s *ChromemStore) matchLocked(filter models.Filter) []string {
	ids := make([]string, 0)
	for id, e := range s.meta {
		if filter.Matches(e.meta) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.meta[ids[i]].seq < s.meta[ids[j]].seq })
	return ids
}

// Upsert adds chunks, overwriting documents with the same ID.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dimensions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, chunks)
}

func (s *ChromemStore) addLocked(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	seqs := make([]uint64, len(chunks))
	next := s.nextSeq
	for i, ch := range chunks {
		seq := next
		if existing, ok := s.meta[ch.ID]; ok {
			seq = existing.seq
		} else {
			next++
		}
		seqs[i] = seq
		meta := models.CloneMetadata(ch.Metadata)
		meta[seqKey] = strconv.FormatUint(seq, 10)
		vec := make([]float32, len(ch.Vector))
		copy(vec, ch.Vector)
		docs[i] = chromem.Document{ID: ch.ID, Metadata: meta, Embedding: vec, Content: ch.Text}
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.nextSeq = next
	for i, ch := range chunks {
		s.meta[ch.ID] = chromemEntry{seq: seqs[i], meta: models.CloneMetadata(ch.Metadata)}
	}
	return nil
}

// DeleteWhere removes every chunk matching filter.
func (s *ChromemStore) DeleteWhere(ctx context.Context, filter models.Filter) ([]string, error) {
	if err := requireFilter(filter); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.matchLocked(filter)
	if err := s.deleteLocked(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *ChromemStore) deleteLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	for _, id := range ids {
		delete(s.meta, id)
	}
	return nil
}

// Replace deletes the matching chunks and adds the new ones under the write lock.
// If the add fails the old generation is written back.
func (s *ChromemStore) Replace(ctx context.Context, filter models.Filter, chunks []*models.Chunk) ([]string, error) {
	if err := requireFilter(filter); err != nil {
		return nil, err
	}
	if err := validateChunks(chunks, s.dimensions); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	oldIDs := s.matchLocked(filter)
	old, err := s.fetchLocked(ctx, oldIDs, filter)
	if err != nil {
		return nil, err
	}
	if err := s.deleteLocked(ctx, oldIDs); err != nil {
		return nil, err
	}
	if err := s.addLocked(ctx, chunks); err != nil {
		if restoreErr := s.addLocked(ctx, old); restoreErr != nil {
			return nil, fmt.Errorf("%w (restoring previous chunks also failed: %v)", err, restoreErr)
		}
		return nil, err
	}
	return oldIDs, nil
}

// GetIDsWhere returns matching IDs in insertion order.
func (s *ChromemStore) GetIDsWhere(ctx context.Context, filter models.Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchLocked(filter), nil
}

// Get returns matching chunks in insertion order.
func (s *ChromemStore) Get(ctx context.Context, filter models.Filter) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchLocked(ctx, s.matchLocked(filter), filter)
}

// fetchLocked loads the documents with ids, which must be exactly the set matching filter.
func (s *ChromemStore) fetchLocked(ctx context.Context, ids []string, filter models.Filter) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return []*models.Chunk{}, nil
	}
	results, err := s.col.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: s.probe(),
		NResults:       len(ids),
		Where:          whereOf(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	byID := make(map[string]*models.Chunk, len(results))
	for _, r := range results {
		byID[r.ID] = resultToChunk(r)
	}
	out := make([]*models.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Query runs a filtered similarity search on the collection. Equal scores are
// ordered by insertion sequence.
func (s *ChromemStore) Query(ctx context.Context, vec []float32, topK int, filter models.Filter) ([]*models.ScoredChunk, error) {
	if topK <= 0 {
		return []*models.ScoredChunk{}, nil
	}
	if len(vec) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), s.dimensions)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matching := len(s.matchLocked(filter))
	if matching == 0 {
		return []*models.ScoredChunk{}, nil
	}
	// chromem picks arbitrarily among equal scores at the NResults cut, so every
	// match is ranked here and cut to topK after the seq tie-break.
	results, err := s.col.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       matching,
		Where:          whereOf(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return s.meta[results[i].ID].seq < s.meta[results[j].ID].seq
	})
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]*models.ScoredChunk, len(results))
	for i, r := range results {
		out[i] = &models.ScoredChunk{Chunk: resultToChunk(r), Score: float64(r.Similarity)}
	}
	return out, nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count(), nil
}

// Documents returns per-filename chunk statistics.
func (s *ChromemStore) Documents(ctx context.Context) ([]*models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]map[string]string, 0, len(s.meta))
	for _, e := range s.meta {
		metas = append(metas, e.meta)
	}
	return summarize(metas), nil
}

// Paths returns the chromem directory.
func (s *ChromemStore) Paths() []string { return []string{s.path} }

// Name returns the collection name.
func (s *ChromemStore) Name() string { return s.collection }

// Backend returns "chromem".
func (s *ChromemStore) Backend() string { return BackendChromem }

// Close is a no-op; chromem persists every write as it happens.
func (s *ChromemStore) Close() error { return nil }

func whereOf(filter models.Filter) map[string]string {
	if len(filter) == 0 {
		return nil
	}
	return map[string]string(filter)
}

func resultToChunk(r chromem.Result) *models.Chunk {
	return &models.Chunk{
		ID:       r.ID,
		Text:     r.Content,
		Vector:   r.Embedding,
		Metadata: stripSeq(r.Metadata),
	}
}

func stripSeq(meta map[string]string) map[string]string {
	out := models.CloneMetadata(meta)
	delete(out, seqKey)
	return out
}
