package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/embedding"
	"github.com/hyperjump/docqa/internal/extract"
	"github.com/hyperjump/docqa/internal/keyword"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/storage"
	"github.com/hyperjump/docqa/pkg/utils"
)

// PipelineConfig controls chunking and file eligibility.
type PipelineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// Extension is the one eligible file extension, e.g. ".txt".
	Extension string
	// SkipUnchanged keeps the current generation when the content hash matches.
	SkipUnchanged bool
}

// Pipeline is the only writer of the store. Each filename maps to exactly one
// generation of chunks; re-ingesting a file swaps generations atomically.
//
// Writes for one filename are serialized and whole-directory syncs never
// interleave. Readers do not take these locks and may observe the state just
// before or just after any single replace.
type Pipeline struct {
	store     storage.Store
	embedder  embedding.Embedder
	chunker   *Chunker
	cfg       PipelineConfig
	extractor *extract.Extractor
	keywords  keyword.Index
	logger    *zap.Logger
	now       func() time.Time

	syncMu sync.Mutex
	locks  *keyedMutex
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger for per-file ingestion events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = utils.OrNop(l) }
}

// WithKeywordIndex mirrors every write into a keyword index.
func WithKeywordIndex(idx keyword.Index) PipelineOption {
	return func(p *Pipeline) { p.keywords = idx }
}

// WithExtractor overrides the text extractor.
func WithExtractor(e *extract.Extractor) PipelineOption {
	return func(p *Pipeline) { p.extractor = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates an ingestion pipeline writing to store.
func NewPipeline(store storage.Store, embedder embedding.Embedder, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	cfg.Extension = extract.NormalizeExtension(cfg.Extension)
	p := &Pipeline{
		store:     store,
		embedder:  embedder,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sync ingests every eligible file directly inside dir, then removes documents
// whose backing file in dir has disappeared.
//
// Per-file failures are recorded in the report and do not stop the run. The
// returned error is non-nil only when the run as a whole could not proceed; the
// report is always non-nil and carries the same kind.
func (p *Pipeline) Sync(ctx context.Context, dir string) (*models.SyncReport, error) {
	report := models.NewSyncReport(dir)
	if p == nil || p.store == nil || p.embedder == nil {
		err := apperr.New(apperr.NotInitialized, "ingestion pipeline is not initialized")
		report.Kind = string(err.Kind)
		report.Message = err.Message
		return report, err
	}
	start := p.now()
	fail := func(err error) (*models.SyncReport, error) {
		report.Success = false
		report.Kind = string(apperr.KindOf(err))
		report.Message = apperr.MessageOf(err)
		report.ProcessingTime = p.now().Sub(start).Seconds()
		return report, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fail(apperr.Wrap(apperr.SourceUnavailable, err, "cannot resolve directory %s", dir))
	}
	report.Directory = abs
	info, err := os.Stat(abs)
	if err != nil {
		return fail(apperr.Wrap(apperr.SourceUnavailable, err, "directory %s does not exist", abs))
	}
	if !info.IsDir() {
		return fail(apperr.New(apperr.SourceUnavailable, "%s is not a directory", abs))
	}
	paths, err := extract.ScanDir(abs, p.cfg.Extension)
	if err != nil {
		return fail(apperr.Wrap(apperr.SourceUnavailable, err, "cannot read directory %s", abs))
	}

	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	if len(paths) == 0 {
		// The last files may have been removed; their documents still go.
		p.prune(ctx, abs, nil, report)
		p.finalizeCounts(ctx, report)
		return fail(apperr.New(apperr.NoEligibleInput, "no %s files found in %s", p.cfg.Extension, abs))
	}

	p.logger.Info("sync started", zap.String("directory", abs), zap.Int("files", len(paths)))

	seen := make(map[string]bool, len(paths))
	var runErr error
	for i, path := range paths {
		filename := filepath.Base(path)
		seen[filename] = true
		if err := ctx.Err(); err != nil {
			runErr = apperr.Wrap(apperr.Internal, err, "sync interrupted")
			for _, rest := range paths[i:] {
				p.recordFailure(report, filepath.Base(rest), runErr)
			}
			break
		}
		res, err := p.ingestPath(ctx, path)
		if err != nil {
			p.recordFailure(report, filename, err)
			continue
		}
		p.recordSuccess(report, res)
	}

	if runErr == nil {
		p.prune(ctx, abs, seen, report)
	}
	p.finalizeCounts(ctx, report)

	report.ProcessingTime = p.now().Sub(start).Seconds()
	if runErr != nil {
		report.Success = false
		report.Kind = string(apperr.KindOf(runErr))
		report.Message = apperr.MessageOf(runErr)
		return report, runErr
	}
	report.Success = len(report.FailedFiles) == 0
	report.Message = fmt.Sprintf("processed %d of %d files (%d new, %d replaced, %d unchanged, %d removed, %d failed)",
		report.DocumentsProcessed, len(paths), len(report.NewFiles), len(report.ReplacedFiles),
		len(report.UnchangedFiles), len(report.RemovedFiles), len(report.FailedFiles))
	p.logger.Info("sync finished",
		zap.String("directory", abs),
		zap.Int("processed", report.DocumentsProcessed),
		zap.Int("failed", len(report.FailedFiles)),
		zap.Int("total_chunks", report.TotalChunks),
		zap.Float64("seconds", report.ProcessingTime))
	return report, nil
}

func (p *Pipeline) recordSuccess(report *models.SyncReport, res *models.UpsertResult) {
	report.DocumentsProcessed++
	fr := models.FileResult{
		Filename:  res.Filename,
		OldChunks: res.OldChunks,
		NewChunks: res.NewChunks,
		Success:   true,
	}
	switch {
	case res.Unchanged:
		fr.Status = models.FileStatusUnchanged
		report.UnchangedFiles = append(report.UnchangedFiles, res.Filename)
	case res.Replaced:
		fr.Status = models.FileStatusReplaced
		report.ReplacedFiles = append(report.ReplacedFiles, models.ReplacedFile{
			Filename:  res.Filename,
			OldChunks: res.OldChunks,
			NewChunks: res.NewChunks,
		})
	default:
		fr.Status = models.FileStatusNew
		if res.NewChunks == 0 {
			fr.Message = "no text to index"
		} else {
			report.NewFiles = append(report.NewFiles, res.Filename)
		}
	}
	report.Files = append(report.Files, fr)
}

func (p *Pipeline) recordFailure(report *models.SyncReport, filename string, err error) {
	kind := string(apperr.KindOf(err))
	msg := apperr.MessageOf(err)
	report.Files = append(report.Files, models.FileResult{
		Filename: filename,
		Status:   models.FileStatusFailed,
		Message:  msg,
		Kind:     kind,
	})
	report.FailedFiles = append(report.FailedFiles, models.FailedFile{Filename: filename, Kind: kind, Error: msg})
	p.logger.Warn("file ingestion failed", zap.String("filename", filename), zap.String("kind", kind), zap.Error(err))
}

// prune deletes documents that were ingested from dir but whose file is gone.
func (p *Pipeline) prune(ctx context.Context, dir string, seen map[string]bool, report *models.SyncReport) {
	docs, err := p.store.Documents(ctx)
	if err != nil {
		p.logger.Warn("cannot list documents for pruning", zap.Error(err))
		return
	}
	for _, doc := range docs {
		if seen[doc.Filename] || doc.SourcePath == "" || filepath.Dir(doc.SourcePath) != dir {
			continue
		}
		if _, err := os.Stat(doc.SourcePath); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		res, err := p.deleteDocument(ctx, doc.Filename)
		if err != nil {
			p.logger.Warn("cannot prune document", zap.String("filename", doc.Filename), zap.Error(err))
			continue
		}
		if res.Found {
			report.RemovedFiles = append(report.RemovedFiles, models.RemovedFile{Filename: doc.Filename, OldChunks: res.DeletedChunks})
		}
	}
}

// finalizeCounts re-reads chunk counts once every file has been written.
func (p *Pipeline) finalizeCounts(ctx context.Context, report *models.SyncReport) {
	final := make(map[string]int)
	countOf := func(filename string) (int, bool) {
		if n, ok := final[filename]; ok {
			return n, true
		}
		ids, err := p.store.GetIDsWhere(ctx, models.FilenameFilter(filename))
		if err != nil {
			return 0, false
		}
		final[filename] = len(ids)
		return len(ids), true
	}
	for i := range report.ReplacedFiles {
		if n, ok := countOf(report.ReplacedFiles[i].Filename); ok {
			report.ReplacedFiles[i].NewChunks = n
		}
	}
	for i := range report.Files {
		if report.Files[i].Success {
			if n, ok := countOf(report.Files[i].Filename); ok {
				report.Files[i].NewChunks = n
			}
		}
	}
	if n, err := p.store.Count(ctx); err == nil {
		report.TotalChunks = n
	}
}

// UpsertDocument ingests content as the document filename, replacing any
// previous generation.
func (p *Pipeline) UpsertDocument(ctx context.Context, content, filename string) (*models.UpsertResult, error) {
	if p == nil || p.store == nil || p.embedder == nil {
		return nil, apperr.New(apperr.NotInitialized, "ingestion pipeline is not initialized")
	}
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(filename)
	defer unlock()

	meta := map[string]string{
		models.MetaSourcePath:        "",
		models.MetaByteSize:          strconv.Itoa(len(content)),
		models.MetaModifiedTimestamp: p.now().UTC().Format(time.RFC3339Nano),
	}
	return p.ingest(ctx, filename, content, meta)
}

// UpsertFile ingests one eligible file, replacing any previous generation of
// the document with the same base name.
func (p *Pipeline) UpsertFile(ctx context.Context, path string) (*models.UpsertResult, error) {
	if p == nil || p.store == nil || p.embedder == nil {
		return nil, apperr.New(apperr.NotInitialized, "ingestion pipeline is not initialized")
	}
	if !extract.HasExtension(path, p.cfg.Extension) {
		return nil, apperr.New(apperr.ValidationFailure, "%s is not a %s file", filepath.Base(path), p.cfg.Extension)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "cannot resolve %s", path)
	}
	return p.ingestPath(ctx, abs)
}

func (p *Pipeline) ingestPath(ctx context.Context, path string) (*models.UpsertResult, error) {
	filename := filepath.Base(path)
	unlock := p.locks.Lock(filename)
	defer unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "cannot stat %s", filename)
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.New(apperr.SourceUnavailable, "%s is not a regular file", filename)
	}
	text, err := p.extractor.Extract(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "cannot read %s", filename)
	}
	meta := map[string]string{
		models.MetaSourcePath:        path,
		models.MetaByteSize:          strconv.FormatInt(info.Size(), 10),
		models.MetaModifiedTimestamp: info.ModTime().UTC().Format(time.RFC3339Nano),
	}
	return p.ingest(ctx, filename, text, meta)
}

// ingest builds and embeds the new generation before touching the store, so a
// provider failure leaves the current generation in place. Callers hold the
// filename lock.
func (p *Pipeline) ingest(ctx context.Context, filename, text string, meta map[string]string) (*models.UpsertResult, error) {
	filter := models.FilenameFilter(filename)
	oldIDs, err := p.store.GetIDsWhere(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot look up chunks of %s", filename)
	}
	res := &models.UpsertResult{
		Filename:  filename,
		Replaced:  len(oldIDs) > 0,
		OldChunks: len(oldIDs),
	}

	hash := contentHash(text)
	if p.cfg.SkipUnchanged && len(oldIDs) > 0 && p.sameContent(ctx, filter, hash) {
		res.Replaced = false
		res.Unchanged = true
		res.NewChunks = len(oldIDs)
		p.logger.Debug("file unchanged", zap.String("filename", filename))
		return res, nil
	}

	pieces := p.chunker.Split(text)
	chunks := make([]*models.Chunk, 0, len(pieces))
	if len(pieces) > 0 {
		vectors, err := p.embedder.EmbedBatch(ctx, pieces)
		if err != nil {
			return nil, apperr.FromProvider("embedding "+filename, err)
		}
		if len(vectors) != len(pieces) {
			return nil, apperr.New(apperr.ProviderFailure, "embedding %s: got %d vectors for %d chunks", filename, len(vectors), len(pieces))
		}
		ingestedAt := p.now().UTC().Format(time.RFC3339Nano)
		for i, piece := range pieces {
			m := models.CloneMetadata(meta)
			m[models.MetaFilename] = filename
			m[models.MetaChunkIndex] = strconv.Itoa(i)
			m[models.MetaContentHash] = hash
			m[models.MetaIngestedAt] = ingestedAt
			chunks = append(chunks, &models.Chunk{
				ID:       uuid.NewString(),
				Text:     piece,
				Vector:   vectors[i],
				Metadata: m,
			})
		}
	}

	var removed []string
	switch {
	case len(chunks) > 0:
		removed, err = p.store.Replace(ctx, filter, chunks)
	case len(oldIDs) > 0:
		removed, err = p.store.DeleteWhere(ctx, filter)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IndexWriteFailure, err, "cannot write chunks of %s", filename)
	}
	p.mirrorKeywords(ctx, removed, chunks)

	res.NewChunks = len(chunks)
	p.logger.Info("file ingested",
		zap.String("filename", filename),
		zap.Bool("replaced", res.Replaced),
		zap.Int("old_chunks", res.OldChunks),
		zap.Int("new_chunks", res.NewChunks))
	return res, nil
}

func (p *Pipeline) sameContent(ctx context.Context, filter models.Filter, hash string) bool {
	existing, err := p.store.Get(ctx, filter)
	if err != nil || len(existing) == 0 {
		return false
	}
	for _, ch := range existing {
		if ch.Metadata[models.MetaContentHash] != hash {
			return false
		}
	}
	return true
}

// DeleteDocument removes every chunk of filename. Deleting an unknown
// document succeeds with Found=false.
func (p *Pipeline) DeleteDocument(ctx context.Context, filename string) (*models.DeleteResult, error) {
	if p == nil || p.store == nil {
		return nil, apperr.New(apperr.NotInitialized, "ingestion pipeline is not initialized")
	}
	if err := validateFilename(filename); err != nil {
		return nil, err
	}
	return p.deleteDocument(ctx, filename)
}

// deleteDocument skips name validation: prune passes names that came from a
// directory scan, which may contain characters callers are not allowed to use.
func (p *Pipeline) deleteDocument(ctx context.Context, filename string) (*models.DeleteResult, error) {
	unlock := p.locks.Lock(filename)
	defer unlock()

	removed, err := p.store.DeleteWhere(ctx, models.FilenameFilter(filename))
	if err != nil {
		return nil, apperr.Wrap(apperr.IndexWriteFailure, err, "cannot delete chunks of %s", filename)
	}
	p.mirrorKeywords(ctx, removed, nil)
	if len(removed) > 0 {
		p.logger.Info("document deleted", zap.String("filename", filename), zap.Int("chunks", len(removed)))
	}
	return &models.DeleteResult{Filename: filename, Found: len(removed) > 0, DeletedChunks: len(removed)}, nil
}

// mirrorKeywords applies a store write to the keyword index. The keyword index
// is rebuilt from the store on startup, so failures are only logged.
func (p *Pipeline) mirrorKeywords(ctx context.Context, removed []string, added []*models.Chunk) {
	if p.keywords == nil {
		return
	}
	if err := p.keywords.Delete(ctx, removed); err != nil {
		p.logger.Warn("keyword index delete failed", zap.Error(err))
	}
	if err := p.keywords.Index(ctx, added); err != nil {
		p.logger.Warn("keyword index update failed", zap.Error(err))
	}
}

func validateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return apperr.New(apperr.ValidationFailure, "filename must not be empty")
	}
	if filename == "." || filename == ".." || filepath.Base(filename) != filename || strings.ContainsAny(filename, `/\`) {
		return apperr.New(apperr.ValidationFailure, "filename %q must be a base name", filename)
	}
	return nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
