package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings API through langchaingo.
type OpenAIEmbedder struct {
	embedder   *embeddings.EmbedderImpl
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds the client. No request is made until Embed is called.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", cfg.Dimensions)
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: emb, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed (%s): %w", e.model, err)
	}
	if len(v) != e.dimensions {
		return nil, fmt.Errorf("openai embed (%s): got %d dimensions, want %d", e.model, len(v), e.dimensions)
	}
	return v, nil
}

// EmbedBatch embeds texts in provider-sized batches.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed (%s): %w", e.model, err)
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("openai embed (%s): got %d vectors for %d texts", e.model, len(vs), len(texts))
	}
	for _, v := range vs {
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("openai embed (%s): got %d dimensions, want %d", e.model, len(v), e.dimensions)
		}
	}
	return vs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
