package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const systemPrompt = "You answer questions using only the provided context excerpts. " +
	"If the context does not contain the answer, say that the documents do not cover it. " +
	"Answer in the language of the question."

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// OpenAISynthesizer asks a chat model to answer from the retrieved context.
type OpenAISynthesizer struct {
	llm         llms.Model
	model       string
	temperature float64
}

// NewOpenAISynthesizer builds the client. No request is made until Synthesize is called.
func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai synthesizer requires an API key")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAISynthesizer{llm: llm, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Synthesize sends the question with numbered context blocks.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, BuildPrompt(question, contexts)),
	}
	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithTemperature(s.temperature))
	if err != nil {
		return "", fmt.Errorf("openai completion (%s): %w", s.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion (%s): empty response", s.model)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Name returns the model name.
func (s *OpenAISynthesizer) Name() string {
	return "openai:" + s.model
}

// BuildPrompt formats the user message sent to a chat model.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(c))
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}
