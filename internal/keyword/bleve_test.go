package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docqa/internal/models"
)

func chunk(id, filename, text string) *models.Chunk {
	return &models.Chunk{
		ID:       id,
		Text:     text,
		Metadata: map[string]string{models.MetaFilename: filename},
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	err := idx.Index(ctx, []*models.Chunk{
		chunk("c1", "report.txt", "This report mentions Omnisyan and other findings."),
		chunk("c2", "notes.txt", "The Bayes app is also referenced."),
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "Omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ID != "c1" || r.Filename != "report.txt" || r.Text == "" {
		t.Errorf("unexpected hit %+v", r)
	}

	// Standard analyzer (no stemming) so "bayes" matches "Bayes".
	results, err = idx.Search(ctx, "bayes", 10, nil)
	if err != nil {
		t.Fatalf("Search bayes: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c2" {
		t.Errorf("bayes results = %+v", results)
	}
}

func TestBleveIndex_FilenameFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, []*models.Chunk{
		chunk("a1", "a.txt", "shared term"),
		chunk("b1", "b.txt", "shared term"),
	}); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "shared", 10, &SearchOptions{Filename: "b.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "b1" {
		t.Errorf("results = %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, []*models.Chunk{chunk("c1", "a.txt", "kubernetes deployment guide")}); err != nil {
		t.Fatal(err)
	}
	exact, _ := idx.Search(ctx, "kubernetis", 10, nil)
	if len(exact) != 0 {
		t.Fatalf("exact search should miss a typo, got %d", len(exact))
	}
	fuzzy, err := idx.Search(ctx, "kubernetis", 10, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 {
		t.Errorf("fuzzy search should tolerate one edit, got %d", len(fuzzy))
	}
}

func TestBleveIndex_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx1, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx1.Index(ctx, []*models.Chunk{chunk("c1", "a.txt", "uniqueword")}); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx2.Close() }()
	n, err := idx2.DocCount()
	if err != nil || n != 1 {
		t.Errorf("DocCount = %d, %v; want 1", n, err)
	}
}

func TestBleveIndex_DeleteAndReset(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, []*models.Chunk{
		chunk("c1", "a.txt", "onlyinone"),
		chunk("c2", "a.txt", "onlyintwo"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, []string{"c1", "missing"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if results, _ := idx.Search(ctx, "onlyinone", 10, nil); len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
	if err := idx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount after reset = %d", n)
	}
}

func TestNewBleveIndex_createsDir(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	idx, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	_ = idx.Close()
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index path should exist: %v", err)
	}
}

func TestSearch_emptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || results != nil {
		t.Errorf("got %v, %v", results, err)
	}
}
