// Package embedding turns text into vectors through a pluggable provider.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must return an
// error rather than a zero vector when they cannot embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by the configuration.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderHash   = "hash"
)
