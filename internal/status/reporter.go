// Package status reports on the index and compares it with the data directory.
// Nothing here mutates the store or the filesystem.
package status

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/extract"
	"github.com/hyperjump/docqa/internal/models"
	"github.com/hyperjump/docqa/internal/storage"
	"github.com/hyperjump/docqa/pkg/utils"
)

// StatusReady is reported when the store is open.
const StatusReady = "ready"

// Reporter produces read-only diagnostics.
type Reporter struct {
	store     storage.Store
	dataDir   string
	extension string
}

// NewReporter creates a reporter for store and the data directory holding eligible files.
func NewReporter(store storage.Store, dataDir, extension string) *Reporter {
	return &Reporter{store: store, dataDir: dataDir, extension: extract.NormalizeExtension(extension)}
}

// DataDir returns the configured data directory.
func (r *Reporter) DataDir() string {
	return r.dataDir
}

// Status returns chunk and document counts and the on-disk size of the store.
func (r *Reporter) Status(ctx context.Context) (*models.Status, error) {
	if r == nil || r.store == nil {
		return nil, apperr.New(apperr.NotInitialized, "index is not initialized")
	}
	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot count chunks")
	}
	docs, err := r.store.Documents(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot list documents")
	}
	size, err := storage.DiskUsageBytes(r.store.Paths()...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot measure storage size")
	}
	return &models.Status{
		Status:             StatusReady,
		DocumentChunkCount: count,
		DocumentsCount:     count,
		DocumentCount:      len(docs),
		StorageSizeBytes:   size,
		StorageSize:        utils.FormatMegabytes(size),
		CollectionName:     r.store.Name(),
		DataDirectory:      r.dataDir,
		Backend:            r.store.Backend(),
	}, nil
}

// Documents lists indexed documents with their chunk counts.
func (r *Reporter) Documents(ctx context.Context) ([]*models.DocumentInfo, error) {
	if r == nil || r.store == nil {
		return nil, apperr.New(apperr.NotInitialized, "index is not initialized")
	}
	docs, err := r.store.Documents(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot list documents")
	}
	if docs == nil {
		docs = []*models.DocumentInfo{}
	}
	return docs, nil
}

// CheckConsistency compares the eligible files in dir with the distinct
// filenames in the index. An empty dir means the configured data directory.
func (r *Reporter) CheckConsistency(ctx context.Context, dir string) (*models.ConsistencyReport, error) {
	if r == nil || r.store == nil {
		return nil, apperr.New(apperr.NotInitialized, "index is not initialized")
	}
	if dir == "" {
		dir = r.dataDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "cannot resolve %s", dir)
	}
	paths, err := extract.ScanDir(abs, r.extension)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "cannot read directory %s", abs)
	}
	docs, err := r.store.Documents(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "cannot list documents")
	}

	onDisk := make(map[string]bool, len(paths))
	for _, p := range paths {
		onDisk[filepath.Base(p)] = true
	}
	inIndex := make(map[string]bool, len(docs))
	for _, d := range docs {
		inIndex[d.Filename] = true
	}

	report := &models.ConsistencyReport{
		Directory:    abs,
		DiskFiles:    len(onDisk),
		IndexedFiles: len(inIndex),
		OnlyOnDisk:   difference(onDisk, inIndex),
		OnlyInIndex:  difference(inIndex, onDisk),
		Common:       intersection(onDisk, inIndex),
	}
	report.Consistent = len(report.OnlyOnDisk) == 0 && len(report.OnlyInIndex) == 0
	return report, nil
}

func difference(a, b map[string]bool) []string {
	out := []string{}
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func intersection(a, b map[string]bool) []string {
	out := []string{}
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
