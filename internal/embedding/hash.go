package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/docqa/pkg/utils"
)

// HashEmbedder maps text to a bag-of-words vector via feature hashing. It needs
// no model or network and is used for offline runs and tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a feature-hashing embedder with the given dimension.
func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}
	return &HashEmbedder{dimensions: dimensions}, nil
}

// Embed returns the unit-length term-frequency vector of text. Text without any
// terms yields an all-zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, term := range Terms(text) {
		emb[HashString(term)%uint32(e.dimensions)]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch embeds each text in order.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
