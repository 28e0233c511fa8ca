// Package indexer splits documents into chunks and keeps the vector store in
// step with the source directory.
package indexer

import (
	"strings"
)

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Split splits text with the chunker's size and overlap.
func (c *Chunker) Split(text string) []string {
	return Split(text, c.chunkSize, c.chunkOverlap)
}

// Split cuts text into windows of chunkSize words, consecutive windows sharing
// overlap words. The last window may be shorter. Words are re-joined with single
// spaces. Text without words yields nil. A chunkSize of zero or less keeps the
// whole text in one chunk.
func Split(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		return []string{strings.Join(words, " ")}
	}
	if overlap < 0 {
		overlap = 0
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = 1
	}
	chunks := make([]string, 0, len(words)/step+1)
	for i := 0; i < len(words); i += step {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}
