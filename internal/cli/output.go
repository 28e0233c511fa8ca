// Package cli provides output formatting and backends for the docqa CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/docqa/internal/models"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its sources.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	if ans.Message != "" {
		fmt.Fprintf(w, "%s\n", ans.Message)
	}
	if ans.Answer != "" {
		fmt.Fprintf(w, "\n%s\n", ans.Answer)
	}
	if len(ans.Sources) > 0 {
		fmt.Fprintf(w, "\nSources (%d, %.2fs):\n", ans.TotalSources, ans.ProcessingTime)
		for i, src := range ans.Sources {
			fmt.Fprintln(w, rule)
			fmt.Fprintf(w, "[%d] %s | Score: %.4f\n", i+1, src.Filename, src.Score)
			fmt.Fprintf(w, "%s\n", src.Excerpt)
		}
	}
	return nil
}

// WriteSyncReport writes the outcome of a sync.
func WriteSyncReport(w io.Writer, r *models.SyncReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "%s\n", r.Message)
	fmt.Fprintf(w, "directory:    %s\n", r.Directory)
	fmt.Fprintf(w, "processed:    %d\n", r.DocumentsProcessed)
	fmt.Fprintf(w, "total_chunks: %d\n", r.TotalChunks)
	fmt.Fprintf(w, "took:         %.2fs\n", r.ProcessingTime)
	if len(r.NewFiles) > 0 {
		fmt.Fprintf(w, "\nnew:\n")
		for _, f := range r.NewFiles {
			fmt.Fprintf(w, "  + %s\n", f)
		}
	}
	if len(r.ReplacedFiles) > 0 {
		fmt.Fprintf(w, "\nreplaced:\n")
		for _, f := range r.ReplacedFiles {
			fmt.Fprintf(w, "  ~ %s (%d -> %d chunks)\n", f.Filename, f.OldChunks, f.NewChunks)
		}
	}
	if len(r.RemovedFiles) > 0 {
		fmt.Fprintf(w, "\nremoved:\n")
		for _, f := range r.RemovedFiles {
			fmt.Fprintf(w, "  - %s (%d chunks)\n", f.Filename, f.OldChunks)
		}
	}
	if len(r.FailedFiles) > 0 {
		fmt.Fprintf(w, "\nfailed:\n")
		for _, f := range r.FailedFiles {
			fmt.Fprintf(w, "  ! %s [%s] %s\n", f.Filename, f.Kind, f.Error)
		}
	}
	return nil
}

// WriteStatus writes an index status snapshot.
func WriteStatus(w io.Writer, s *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "status:             %s\n", s.Status)
	fmt.Fprintf(w, "chunks:             %d   # indexed chunks\n", s.DocumentChunkCount)
	fmt.Fprintf(w, "documents:          %d   # distinct filenames\n", s.DocumentCount)
	fmt.Fprintf(w, "storage_size:       %s (%d bytes)\n", s.StorageSize, s.StorageSizeBytes)
	fmt.Fprintf(w, "collection:         %s\n", s.CollectionName)
	fmt.Fprintf(w, "backend:            %s\n", s.Backend)
	fmt.Fprintf(w, "data_directory:     %s\n", s.DataDirectory)
	return nil
}

// WriteConsistency writes a disk versus index comparison.
func WriteConsistency(w io.Writer, r *models.ConsistencyReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	state := "consistent"
	if !r.Consistent {
		state = "INCONSISTENT"
	}
	fmt.Fprintf(w, "%s: %d on disk, %d indexed, %d in both (%s)\n",
		r.Directory, r.DiskFiles, r.IndexedFiles, len(r.Common), state)
	writeList(w, "only on disk (run sync to index)", r.OnlyOnDisk)
	writeList(w, "only in index (file missing)", r.OnlyInIndex)
	return nil
}

func writeList(w io.Writer, title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n  %s\n", title, strings.Join(names, "\n  "))
}

// WriteDocuments writes one line per indexed document.
func WriteDocuments(w io.Writer, docs []*models.DocumentInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "no documents indexed")
		return nil
	}
	total := 0
	for _, d := range docs {
		fmt.Fprintf(w, "%-40s %5d chunks %10d bytes  %s\n", d.Filename, d.Chunks, d.ByteSize, d.ModifiedTimestamp)
		total += d.Chunks
	}
	fmt.Fprintf(w, "\n%d documents, %d chunks\n", len(docs), total)
	return nil
}

// WriteDeleteResult writes the outcome of a delete.
func WriteDeleteResult(w io.Writer, r *models.DeleteResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if !r.Found {
		fmt.Fprintf(w, "%s is not indexed\n", r.Filename)
		return nil
	}
	fmt.Fprintf(w, "deleted %s (%d chunks)\n", r.Filename, r.DeletedChunks)
	return nil
}
