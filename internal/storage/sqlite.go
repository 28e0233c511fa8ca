package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/vector"
)

// fetchBatch bounds the number of host parameters per IN (...) lookup.
const fetchBatch = 500

// SQLiteStore implements Store using SQLite as the system of record. Vectors and
// metadata are mirrored in a vector.MemoryIndex that serves similarity and filter
// lookups; text is read back from SQLite. Writes commit a transaction and then
// update the mirror while holding the write lock, so readers never observe a
// half-applied replace.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
	dimensions int
	mirror     *vector.MemoryIndex
	mu         sync.RWMutex
}

// NewSQLiteStore opens or creates the database at dbPath and loads its chunks.
// Parent directories are created if they do not exist. Opening a database that
// was written with a different collection name or dimension fails.
func NewSQLiteStore(dbPath, collection string, dimensions int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	mirror, err := vector.NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		path:       dbPath,
		collection: collection,
		dimensions: dimensions,
		mirror:     mirror,
	}
	if err := s.checkCollection(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_filename ON chunks(filename);

	CREATE TABLE IF NOT EXISTS collection_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// checkCollection records the collection name and dimension on first use and
// verifies them on every later open.
func (s *SQLiteStore) checkCollection() error {
	want := map[string]string{
		"collection": s.collection,
		"dimensions": strconv.Itoa(s.dimensions),
	}
	for key, value := range want {
		var got string
		err := s.db.QueryRow(`SELECT value FROM collection_meta WHERE key = ?`, key).Scan(&got)
		if err == sql.ErrNoRows {
			if _, err := s.db.Exec(`INSERT INTO collection_meta (key, value) VALUES (?, ?)`, key, value); err != nil {
				return fmt.Errorf("failed to record %s: %w", key, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if got != value {
			return fmt.Errorf("index at %s was built with %s=%s, configured %s; remove the index directory to rebuild", s.path, key, got, value)
		}
	}
	return nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	entries := make([]vector.Entry, 0)
	for rows.Next() {
		var id, metaJSON string
		var blob []byte
		if err := rows.Scan(&id, &metaJSON, &blob); err != nil {
			return err
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", id, err)
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", id, err)
		}
		entries = append(entries, vector.Entry{ID: id, Vector: vec, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return s.mirror.Add(ctx, entries)
}

// Upsert inserts or overwrites chunks in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dimensions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, nil, chunks); err != nil {
		return err
	}
	return s.mirror.Add(ctx, toEntries(chunks))
}

// DeleteWhere removes every chunk matching filter.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, filter models.Filter) ([]string, error) {
	if err := requireFilter(filter); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.mirror.Match(filter)
	if len(ids) == 0 {
		return ids, nil
	}
	if err := s.write(ctx, ids, nil); err != nil {
		return nil, err
	}
	if err := s.mirror.Remove(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Replace deletes the chunks matching filter and inserts chunks in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, filter models.Filter, chunks []*models.Chunk) ([]string, error) {
	if err := requireFilter(filter); err != nil {
		return nil, err
	}
	if err := validateChunks(chunks, s.dimensions); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.mirror.Match(filter)
	if err := s.write(ctx, old, chunks); err != nil {
		return nil, err
	}
	if err := s.mirror.Remove(ctx, old); err != nil {
		return nil, err
	}
	if err := s.mirror.Add(ctx, toEntries(chunks)); err != nil {
		return nil, err
	}
	return old, nil
}

// write deletes ids and inserts chunks inside a single transaction.
func (s *SQLiteStore) write(ctx context.Context, deleteIDs []string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(deleteIDs) > 0 {
		del, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", err)
		}
		defer del.Close()
		for _, id := range deleteIDs {
			if _, err := del.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete chunk %s: %w", id, err)
			}
		}
	}

	if len(chunks) > 0 {
		ins, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, filename, chunk_index, content, metadata, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   filename = excluded.filename,
			   chunk_index = excluded.chunk_index,
			   content = excluded.content,
			   metadata = excluded.metadata,
			   embedding = excluded.embedding`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer ins.Close()
		now := time.Now()
		for _, ch := range chunks {
			metaJSON, err := json.Marshal(ch.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			if _, err := ins.ExecContext(ctx, ch.ID, ch.Filename(), ch.Index(), ch.Text, string(metaJSON), vector.Encode(ch.Vector), now); err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetIDsWhere returns matching chunk IDs in insertion order.
func (s *SQLiteStore) GetIDsWhere(ctx context.Context, filter models.Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror.Match(filter), nil
}

// Get returns matching chunks in insertion order.
func (s *SQLiteStore) Get(ctx context.Context, filter models.Filter) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetch(ctx, s.mirror.Match(filter))
}

// Query searches the mirror and reads the winning chunks back from SQLite.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, topK int, filter models.Filter) ([]*models.ScoredChunk, error) {
	if topK <= 0 {
		return []*models.ScoredChunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.mirror.Search(ctx, vec, topK, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ScoredChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = &models.ScoredChunk{Chunk: ch, Score: hits[i].Score}
	}
	return out, nil
}

// fetch loads chunks by ID, preserving the order of ids. Callers hold the read lock.
func (s *SQLiteStore) fetch(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	byID := make(map[string]*models.Chunk, len(ids))
	for start := 0; start < len(ids); start += fetchBatch {
		end := start + fetchBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := `SELECT id, content, metadata, embedding FROM chunks WHERE id IN (?` +
			strings.Repeat(",?", len(batch)-1) + `)`
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunks: %w", err)
		}
		for rows.Next() {
			var ch models.Chunk
			var metaJSON string
			var blob []byte
			if err := rows.Scan(&ch.ID, &ch.Text, &metaJSON, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			if ch.Metadata, err = decodeMetadata(metaJSON); err != nil {
				rows.Close()
				return nil, err
			}
			if ch.Vector, err = vector.Decode(blob); err != nil {
				rows.Close()
				return nil, err
			}
			byID[ch.ID] = &ch
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	out := make([]*models.Chunk, 0, len(ids))
	for _, id := range ids {
		ch, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("chunk %s missing from database", id)
		}
		out = append(out, ch)
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror.Size(), nil
}

// Documents returns per-filename chunk statistics.
func (s *SQLiteStore) Documents(ctx context.Context) ([]*models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.mirror.Match(nil)
	metas := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.mirror.Metadata(id); ok {
			metas = append(metas, m)
		}
	}
	return summarize(metas), nil
}

// Paths returns the database file and its WAL companions.
func (s *SQLiteStore) Paths() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// Name returns the collection name.
func (s *SQLiteStore) Name() string { return s.collection }

// Backend returns "sqlite".
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func toEntries(chunks []*models.Chunk) []vector.Entry {
	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = vector.Entry{ID: ch.ID, Vector: ch.Vector, Metadata: ch.Metadata}
	}
	return entries
}

func decodeMetadata(raw string) (map[string]string, error) {
	meta := make(map[string]string)
	if raw == "" || raw == "null" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}
