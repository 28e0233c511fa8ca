// Package models defines the data structures shared by ingestion, retrieval and reporting.
package models

import "strconv"

// Metadata keys recorded on every chunk.
const (
	MetaFilename          = "filename"
	MetaSourcePath        = "source_path"
	MetaByteSize          = "byte_size"
	MetaModifiedTimestamp = "modified_timestamp"
	MetaChunkIndex        = "chunk_index"
	MetaContentHash       = "content_hash"
	MetaIngestedAt        = "ingested_at"
)

// Chunk is the atomic unit of retrieval: a contiguous slice of a document's text
// plus its embedding and the metadata that ties it back to the source file.
type Chunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Vector   []float32         `json:"-"`
	Metadata map[string]string `json:"metadata"`
}

// Filename returns the filename metadata value (the document key).
func (c *Chunk) Filename() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaFilename]
}

// Index returns the position of the chunk within its document, or -1 if unknown.
func (c *Chunk) Index() int {
	if c == nil || c.Metadata == nil {
		return -1
	}
	n, err := strconv.Atoi(c.Metadata[MetaChunkIndex])
	if err != nil {
		return -1
	}
	return n
}

// ScoredChunk is a chunk returned by a similarity query.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// Filter is an equality predicate over chunk metadata. Every key must match;
// an empty filter matches everything.
type Filter map[string]string

// FilenameFilter returns the filter selecting every chunk of one document.
func FilenameFilter(filename string) Filter {
	return Filter{MetaFilename: filename}
}

// Matches reports whether meta satisfies every key of the filter.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f {
		if meta == nil {
			return false
		}
		got, ok := meta[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// CloneMetadata returns a copy of m that callers may modify.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DocumentInfo describes one indexed document, derived from its chunks.
type DocumentInfo struct {
	Filename          string `json:"filename"`
	Chunks            int    `json:"chunks"`
	ByteSize          int64  `json:"byte_size"`
	SourcePath        string `json:"source_path,omitempty"`
	ModifiedTimestamp string `json:"modified_timestamp,omitempty"`
}
