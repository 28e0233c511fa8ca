package storage

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/hyperjump/docqa/internal/models"
)

const testDims = 2

type opener func(t *testing.T, dir string) Store

func openSQLite(t *testing.T, dir string) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(dir, "index.db"), "documents", testDims)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func openChromem(t *testing.T, dir string) Store {
	t.Helper()
	s, err := NewChromemStore(filepath.Join(dir, "chromem"), "documents", testDims)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var backends = map[string]opener{
	BackendSQLite:  openSQLite,
	BackendChromem: openChromem,
}

// at returns a 2-d unit vector whose cosine with {1, 0} is cos.
func at(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func chunk(id, filename string, idx int, vec []float32) *models.Chunk {
	return &models.Chunk{
		ID:   id,
		Text: "text of " + id,
		Metadata: map[string]string{
			models.MetaFilename:   filename,
			models.MetaChunkIndex: strconv.Itoa(idx),
			models.MetaByteSize:   "42",
		},
		Vector: vec,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, open opener)) {
	for name, open := range backends {
		open := open
		t.Run(name, func(t *testing.T) { fn(t, open) })
	}
}

func TestStore_EmptyIsValid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		n, err := s.Count(ctx)
		if err != nil || n != 0 {
			t.Fatalf("Count=%d err=%v", n, err)
		}
		results, err := s.Query(ctx, []float32{1, 0}, 5, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("expected no results, got %d", len(results))
		}
		docs, err := s.Documents(ctx)
		if err != nil || len(docs) != 0 {
			t.Errorf("Documents=%v err=%v", docs, err)
		}
	})
}

func TestStore_QueryOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		err := s.Upsert(ctx, []*models.Chunk{
			chunk("c-low", "a.txt", 0, at(0.1)),
			chunk("c-high", "a.txt", 1, at(0.9)),
			chunk("c-mid", "b.txt", 0, at(0.5)),
		})
		if err != nil {
			t.Fatal(err)
		}
		results, err := s.Query(ctx, []float32{1, 0}, 2, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0].Chunk.ID != "c-high" || results[1].Chunk.ID != "c-mid" {
			t.Errorf("order: %s, %s", results[0].Chunk.ID, results[1].Chunk.ID)
		}
		if math.Abs(results[0].Score-0.9) > 1e-4 || math.Abs(results[1].Score-0.5) > 1e-4 {
			t.Errorf("scores: %f, %f", results[0].Score, results[1].Score)
		}
		if results[0].Chunk.Text != "text of c-high" || results[0].Chunk.Filename() != "a.txt" {
			t.Errorf("chunk not fully loaded: %+v", results[0].Chunk)
		}

		filtered, err := s.Query(ctx, []float32{1, 0}, 10, models.FilenameFilter("b.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if len(filtered) != 1 || filtered[0].Chunk.ID != "c-mid" {
			t.Errorf("filtered query returned %d results", len(filtered))
		}

		none, err := s.Query(ctx, []float32{1, 0}, 0, nil)
		if err != nil || len(none) != 0 {
			t.Errorf("top_k 0 should return nothing, got %d err=%v", len(none), err)
		}
	})
}

func TestStore_QueryTiesFollowInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		chunks := make([]*models.Chunk, 40)
		for i := range chunks {
			chunks[i] = chunk(fmt.Sprintf("c%02d", i), "tied.txt", i, at(0.5))
		}
		if err := s.Upsert(ctx, chunks); err != nil {
			t.Fatal(err)
		}
		for round := 0; round < 20; round++ {
			results, err := s.Query(ctx, []float32{1, 0}, 3, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, len(results))
			for i, r := range results {
				got[i] = r.Chunk.ID
			}
			if fmt.Sprint(got) != "[c00 c01 c02]" {
				t.Fatalf("round %d: tied top 3 = %v, want [c00 c01 c02]", round, got)
			}
		}
	})
}

func TestStore_DeleteWhereAndIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		_ = s.Upsert(ctx, []*models.Chunk{
			chunk("a0", "a.txt", 0, at(0.2)),
			chunk("b0", "b.txt", 0, at(0.3)),
			chunk("a1", "a.txt", 1, at(0.4)),
		})
		ids, err := s.GetIDsWhere(ctx, models.FilenameFilter("a.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(ids) != "[a0 a1]" {
			t.Errorf("GetIDsWhere=%v", ids)
		}
		deleted, err := s.DeleteWhere(ctx, models.FilenameFilter("a.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if len(deleted) != 2 {
			t.Errorf("deleted %d, want 2", len(deleted))
		}
		left, _ := s.GetIDsWhere(ctx, models.FilenameFilter("a.txt"))
		if len(left) != 0 {
			t.Errorf("chunks left after delete: %v", left)
		}
		if n, _ := s.Count(ctx); n != 1 {
			t.Errorf("Count=%d, want 1", n)
		}
		again, err := s.DeleteWhere(ctx, models.FilenameFilter("a.txt"))
		if err != nil || len(again) != 0 {
			t.Errorf("second delete should be a no-op, got %v err=%v", again, err)
		}
		if _, err := s.DeleteWhere(ctx, nil); err == nil {
			t.Error("empty filter delete should be refused")
		}
	})
}

func TestStore_Replace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		_ = s.Upsert(ctx, []*models.Chunk{
			chunk("old0", "doc1.txt", 0, at(0.2)),
			chunk("old1", "doc1.txt", 1, at(0.3)),
			chunk("other", "doc2.txt", 0, at(0.4)),
		})
		old, err := s.Replace(ctx, models.FilenameFilter("doc1.txt"), []*models.Chunk{chunk("new0", "doc1.txt", 0, at(0.5))})
		if err != nil {
			t.Fatal(err)
		}
		if len(old) != 2 {
			t.Errorf("replaced %d, want 2", len(old))
		}
		ids, _ := s.GetIDsWhere(ctx, models.FilenameFilter("doc1.txt"))
		if fmt.Sprint(ids) != "[new0]" {
			t.Errorf("ids after replace = %v", ids)
		}
		got, err := s.Get(ctx, models.FilenameFilter("doc2.txt"))
		if err != nil || len(got) != 1 || got[0].ID != "other" {
			t.Errorf("other documents must be untouched: %v err=%v", got, err)
		}
		docs, _ := s.Documents(ctx)
		if len(docs) != 2 || docs[0].Filename != "doc1.txt" || docs[0].Chunks != 1 || docs[1].Chunks != 1 {
			t.Errorf("Documents=%+v", docs)
		}
	})
}

func TestStore_RejectsInvalidChunks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		bad := []*models.Chunk{
			chunk("wrong-dims", "a.txt", 0, []float32{1, 0, 0}),
			chunk("zero", "a.txt", 0, []float32{0, 0}),
			{ID: "no-filename", Vector: []float32{1, 0}},
		}
		for _, ch := range bad {
			if err := s.Upsert(ctx, []*models.Chunk{ch}); err == nil {
				t.Errorf("chunk %s should be rejected", ch.ID)
			}
		}
		if n, _ := s.Count(ctx); n != 0 {
			t.Errorf("rejected chunks were stored: %d", n)
		}
	})
}

func TestStore_Persistence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		dir := t.TempDir()
		ctx := context.Background()
		s := open(t, dir)
		_ = s.Upsert(ctx, []*models.Chunk{
			chunk("p0", "keep.txt", 0, at(0.7)),
			chunk("p1", "keep.txt", 1, at(0.1)),
		})
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}

		reopened := open(t, dir)
		defer reopened.Close()
		if n, _ := reopened.Count(ctx); n != 2 {
			t.Fatalf("Count after reopen=%d", n)
		}
		ids, _ := reopened.GetIDsWhere(ctx, models.FilenameFilter("keep.txt"))
		if fmt.Sprint(ids) != "[p0 p1]" {
			t.Errorf("insertion order not preserved: %v", ids)
		}
		results, err := reopened.Query(ctx, []float32{1, 0}, 1, nil)
		if err != nil || len(results) != 1 || results[0].Chunk.ID != "p0" {
			t.Errorf("query after reopen: %v err=%v", results, err)
		}
	})
}

func TestStore_ConcurrentReadersDuringReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t, t.TempDir())
		defer s.Close()
		ctx := context.Background()
		gen := func(prefix string, n int) []*models.Chunk {
			out := make([]*models.Chunk, n)
			for i := range out {
				out[i] = chunk(fmt.Sprintf("%s-%d", prefix, i), "doc.txt", i, at(0.3))
			}
			return out
		}
		_ = s.Upsert(ctx, gen("g0", 3))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan string, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ids, _ := s.GetIDsWhere(ctx, models.FilenameFilter("doc.txt"))
				if len(ids) != 3 && len(ids) != 5 {
					select {
					case errs <- fmt.Sprintf("reader saw %d chunks", len(ids)):
					default:
					}
					return
				}
			}
		}()
		for i := 1; i <= 10; i++ {
			n := 5
			if i%2 == 0 {
				n = 3
			}
			if _, err := s.Replace(ctx, models.FilenameFilter("doc.txt"), gen(fmt.Sprintf("g%d", i), n)); err != nil {
				t.Fatal(err)
			}
		}
		close(stop)
		wg.Wait()
		select {
		case msg := <-errs:
			t.Error(msg)
		default:
		}
	})
}

func TestNew_unknownBackend(t *testing.T) {
	if _, err := New(Options{Backend: "faiss", Dir: t.TempDir(), Collection: "c", Dimensions: 2}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestSQLiteStore_DimensionMismatchOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	s, err := NewSQLiteStore(path, "documents", 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if _, err := NewSQLiteStore(path, "documents", 3); err == nil {
		t.Error("expected error when reopening with a different dimension")
	}
}
