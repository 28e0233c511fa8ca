package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/pkg/utils"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Vectors are normalized on insert, so the inner product is the cosine similarity.
// Entries keep their insertion order, which breaks ties between equal scores.
type MemoryIndex struct {
	dimensions int
	entries    []*memoryEntry
	pos        map[string]int
	mu         sync.RWMutex
}

type memoryEntry struct {
	id       string
	vector   []float32
	metadata map[string]string
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		entries:    make([]*memoryEntry, 0),
		pos:        make(map[string]int),
	}, nil
}

// Dimensions returns the vector dimension accepted by the index.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add inserts entries. An entry whose ID already exists overwrites the old one
// and keeps its original position. The batch is validated before anything is applied.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	prepared := make([]*memoryEntry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry %d has an empty id", i)
		}
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), m.dimensions)
		}
		if utils.IsDegenerate(e.Vector) {
			return fmt.Errorf("entry %q has a zero or non-finite vector", e.ID)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, e.Vector)
		utils.NormalizeL2(vec)
		prepared[i] = &memoryEntry{id: e.ID, vector: vec, metadata: models.CloneMetadata(e.Metadata)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range prepared {
		if i, ok := m.pos[e.id]; ok {
			m.entries[i] = e
			continue
		}
		m.pos[e.id] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

// Search returns up to k entries matching filter, highest cosine similarity first.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter models.Filter) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	m.mu.RLock()
	defer m.mu.RUnlock()
	scores := make([]*VectorResult, 0, len(m.entries))
	for _, e := range m.entries {
		if !filter.Matches(e.metadata) {
			continue
		}
		scores = append(scores, &VectorResult{ID: e.id, Score: InnerProduct(q, e.vector)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Remove deletes entries by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]*memoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if !removeSet[e.id] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.pos = make(map[string]int, len(kept))
	for i, e := range kept {
		m.pos[e.id] = i
	}
	return nil
}

// Match returns the IDs of entries matching filter, in insertion order.
func (m *MemoryIndex) Match(filter models.Filter) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for _, e := range m.entries {
		if filter.Matches(e.metadata) {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Metadata returns a copy of the metadata stored for id.
func (m *MemoryIndex) Metadata(id string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.pos[id]
	if !ok {
		return nil, false
	}
	return models.CloneMetadata(m.entries[i].metadata), true
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
