package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/embedding"
	"github.com/hyperjump/docqa/internal/keyword"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/storage"
)

const testDims = 16

// poisonEmbedder fails for any batch containing the word "poison".
type poisonEmbedder struct {
	*embedding.HashEmbedder
}

func (e poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("provider rejected input")
		}
	}
	return e.HashEmbedder.EmbedBatch(ctx, texts)
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"), "documents", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func hashEmbedder(t *testing.T) *embedding.HashEmbedder {
	t.Helper()
	e, err := embedding.NewHashEmbedder(testDims)
	require.NoError(t, err)
	return e
}

func newPipeline(t *testing.T, store storage.Store, emb embedding.Embedder, opts ...PipelineOption) *Pipeline {
	t.Helper()
	if emb == nil {
		emb = hashEmbedder(t)
	}
	return NewPipeline(store, emb, PipelineConfig{ChunkSize: 2, ChunkOverlap: 0, Extension: ".txt"}, opts...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func chunksOf(t *testing.T, store storage.Store, filename string) []string {
	t.Helper()
	ids, err := store.GetIDsWhere(context.Background(), models.FilenameFilter(filename))
	require.NoError(t, err)
	return ids
}

func TestSync_ReplaceScenario(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()

	writeFile(t, dir, "doc1.txt", "A B C D")
	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"doc1.txt"}, report.NewFiles)
	assert.Equal(t, 2, report.TotalChunks)
	first := chunksOf(t, store, "doc1.txt")
	require.Len(t, first, 2)

	writeFile(t, dir, "doc1.txt", "X Y")
	report, err = p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []models.ReplacedFile{{Filename: "doc1.txt", OldChunks: 2, NewChunks: 1}}, report.ReplacedFiles)
	assert.Empty(t, report.NewFiles)

	second := chunksOf(t, store, "doc1.txt")
	require.Len(t, second, 1)
	assert.NotContains(t, first, second[0])

	chunks, err := store.Get(ctx, models.FilenameFilter("doc1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "X Y", chunks[0].Text)
	assert.Equal(t, filepath.Join(report.Directory, "doc1.txt"), chunks[0].Metadata[models.MetaSourcePath])
	assert.Equal(t, "3", chunks[0].Metadata[models.MetaByteSize])
	assert.NotEmpty(t, chunks[0].Metadata[models.MetaModifiedTimestamp])
}

func TestSync_IdempotentResync(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one two three four five")
	writeFile(t, dir, "b.txt", "six seven")

	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	firstA, firstB := len(chunksOf(t, store, "a.txt")), len(chunksOf(t, store, "b.txt"))

	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, firstA, len(chunksOf(t, store, "a.txt")))
	assert.Equal(t, firstB, len(chunksOf(t, store, "b.txt")))
	assert.Len(t, report.ReplacedFiles, 2)
	n, _ := store.Count(ctx)
	assert.Equal(t, firstA+firstB, n)
}

func TestSync_SkipUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := NewPipeline(store, hashEmbedder(t), PipelineConfig{ChunkSize: 2, Extension: "txt", SkipUnchanged: true})
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one two three")

	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	before := chunksOf(t, store, "a.txt")

	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, report.UnchangedFiles)
	assert.Equal(t, before, chunksOf(t, store, "a.txt"))

	writeFile(t, dir, "a.txt", "changed text")
	report, err = p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, report.ReplacedFiles, 1)
}

func TestSync_DirectoryErrors(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, newStore(t), nil)

	report, err := p.Sync(ctx, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, apperr.SourceUnavailable, apperr.KindOf(err))
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.Equal(t, string(apperr.SourceUnavailable), report.Kind)

	empty := t.TempDir()
	writeFile(t, empty, "notes.md", "not eligible")
	report, err = p.Sync(ctx, empty)
	assert.Equal(t, apperr.NoEligibleInput, apperr.KindOf(err))
	assert.False(t, report.Success)

	file := writeFile(t, t.TempDir(), "plain.txt", "x")
	_, err = p.Sync(ctx, file)
	assert.Equal(t, apperr.SourceUnavailable, apperr.KindOf(err))
}

func TestSync_PerFileFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, poisonEmbedder{hashEmbedder(t)})
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "good text")
	writeFile(t, dir, "b.txt", "poison pill")
	writeFile(t, dir, "c.txt", "more good text")

	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, 2, report.DocumentsProcessed)
	require.Len(t, report.FailedFiles, 1)
	assert.Equal(t, "b.txt", report.FailedFiles[0].Filename)
	assert.Equal(t, string(apperr.ProviderFailure), report.FailedFiles[0].Kind)
	assert.ElementsMatch(t, []string{"a.txt", "c.txt"}, report.NewFiles)
	assert.Empty(t, chunksOf(t, store, "b.txt"))
}

func TestSync_ProviderFailureKeepsOldGeneration(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "doc.txt", "original words here")
	_, err := newPipeline(t, store, nil).Sync(ctx, dir)
	require.NoError(t, err)
	before := chunksOf(t, store, "doc.txt")
	require.NotEmpty(t, before)

	writeFile(t, dir, "doc.txt", "poison replacement")
	report, err := newPipeline(t, store, poisonEmbedder{hashEmbedder(t)}).Sync(ctx, dir)
	require.NoError(t, err)
	require.Len(t, report.FailedFiles, 1)
	assert.Equal(t, before, chunksOf(t, store, "doc.txt"))
}

func TestSync_PrunesDeletedFiles(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "keep me")
	gone := writeFile(t, dir, "gone.txt", "remove me soon")

	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	_, err = p.UpsertDocument(ctx, "uploaded by content", "manual.txt")
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []models.RemovedFile{{Filename: "gone.txt", OldChunks: 2}}, report.RemovedFiles)
	assert.Empty(t, chunksOf(t, store, "gone.txt"))
	assert.NotEmpty(t, chunksOf(t, store, "manual.txt"), "documents without a source file are never pruned")
}

func TestSync_PrunesLastRemovedFile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	only := writeFile(t, dir, "only.txt", "the last file standing")

	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	require.NotEmpty(t, chunksOf(t, store, "only.txt"))

	require.NoError(t, os.Remove(only))
	report, err := p.Sync(ctx, dir)
	assert.Equal(t, apperr.NoEligibleInput, apperr.KindOf(err))
	assert.False(t, report.Success)
	assert.Equal(t, []models.RemovedFile{{Filename: "only.txt", OldChunks: 2}}, report.RemovedFiles)
	assert.Zero(t, report.TotalChunks)
	assert.Empty(t, chunksOf(t, store, "only.txt"))
}

func TestSync_PrunesScannedNamesWithBackslash(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslash is a path separator on windows")
	}
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "keep me")
	odd := writeFile(t, dir, `a\b.txt`, "odd name")

	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	require.NotEmpty(t, chunksOf(t, store, `a\b.txt`))

	_, err = p.DeleteDocument(ctx, `a\b.txt`)
	assert.Equal(t, apperr.ValidationFailure, apperr.KindOf(err))

	require.NoError(t, os.Remove(odd))
	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	require.Len(t, report.RemovedFiles, 1)
	assert.Equal(t, `a\b.txt`, report.RemovedFiles[0].Filename)
	assert.Empty(t, chunksOf(t, store, `a\b.txt`))
}

func TestSync_EmptyFileRemovesOldGeneration(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "doc.txt", "some words")
	_, err := p.Sync(ctx, dir)
	require.NoError(t, err)

	writeFile(t, dir, "doc.txt", "   ")
	report, err := p.Sync(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []models.ReplacedFile{{Filename: "doc.txt", OldChunks: 1, NewChunks: 0}}, report.ReplacedFiles)
	assert.Empty(t, chunksOf(t, store, "doc.txt"))
}

func TestSync_CancelledContext(t *testing.T) {
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")
	writeFile(t, dir, "b.txt", "two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.Sync(ctx, dir)
	require.Error(t, err)
	assert.False(t, report.Success)
	assert.Len(t, report.FailedFiles, 2)
	n, _ := store.Count(context.Background())
	assert.Zero(t, n)
}

func TestUpsertDocument(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)

	res, err := p.UpsertDocument(ctx, "A B C D", "doc1.txt")
	require.NoError(t, err)
	assert.Equal(t, &models.UpsertResult{Filename: "doc1.txt", NewChunks: 2}, res)

	res, err = p.UpsertDocument(ctx, "X Y", "doc1.txt")
	require.NoError(t, err)
	assert.Equal(t, &models.UpsertResult{Filename: "doc1.txt", Replaced: true, OldChunks: 2, NewChunks: 1}, res)
	assert.Len(t, chunksOf(t, store, "doc1.txt"), 1)

	for _, bad := range []string{"", " ", "../x.txt", "dir/x.txt", ".."} {
		_, err := p.UpsertDocument(ctx, "text", bad)
		assert.Equal(t, apperr.ValidationFailure, apperr.KindOf(err), "filename %q", bad)
	}
}

func TestUpsertFile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()

	res, err := p.UpsertFile(ctx, writeFile(t, dir, "a.txt", "one two three"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewChunks)

	_, err = p.UpsertFile(ctx, writeFile(t, dir, "a.md", "markdown"))
	assert.Equal(t, apperr.ValidationFailure, apperr.KindOf(err))

	_, err = p.UpsertFile(ctx, filepath.Join(dir, "missing.txt"))
	assert.Equal(t, apperr.SourceUnavailable, apperr.KindOf(err))
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	_, err := p.UpsertDocument(ctx, "A B C D E", "a.txt")
	require.NoError(t, err)
	_, err = p.UpsertDocument(ctx, "F G", "b.txt")
	require.NoError(t, err)
	before, _ := store.Count(ctx)

	res, err := p.DeleteDocument(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, &models.DeleteResult{Filename: "a.txt", Found: true, DeletedChunks: 3}, res)
	assert.Empty(t, chunksOf(t, store, "a.txt"))
	after, _ := store.Count(ctx)
	assert.Equal(t, before-3, after)

	res, err = p.DeleteDocument(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, res.DeletedChunks)
}

func TestPipeline_ConcurrentWritersNeverDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, store, nil)
	dir := t.TempDir()
	writeFile(t, dir, "shared.txt", "A B C D")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = p.Sync(ctx, dir)
		}()
		go func() {
			defer wg.Done()
			_, _ = p.UpsertFile(ctx, filepath.Join(dir, "shared.txt"))
		}()
	}
	wg.Wait()
	assert.Len(t, chunksOf(t, store, "shared.txt"), 2)
}

func TestPipeline_MirrorsKeywordIndex(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	kw, err := keyword.NewBleveIndex(filepath.Join(t.TempDir(), "kw.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	p := newPipeline(t, store, nil, WithKeywordIndex(kw))

	_, err = p.UpsertDocument(ctx, "alpha beta gamma delta", "a.txt")
	require.NoError(t, err)
	n, _ := kw.DocCount()
	assert.Equal(t, uint64(2), n)

	_, err = p.UpsertDocument(ctx, "epsilon", "a.txt")
	require.NoError(t, err)
	hits, err := kw.Search(ctx, "alpha", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = p.DeleteDocument(ctx, "a.txt")
	require.NoError(t, err)
	n, _ = kw.DocCount()
	assert.Zero(t, n)
}

func TestPipeline_NotInitialized(t *testing.T) {
	var p *Pipeline
	report, err := p.Sync(context.Background(), t.TempDir())
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))
	assert.NotNil(t, report)
	_, err = p.DeleteDocument(context.Background(), "a.txt")
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))
}
