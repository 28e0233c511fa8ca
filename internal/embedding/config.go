package embedding

import "fmt"

// ONNXConfig configures a local ONNX model.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// InputNames are the model's input_ids, attention_mask and token_type_ids
	// tensors, in that order. Empty uses the BERT export names.
	InputNames []string
	OutputName string
}

var defaultONNXInputs = []string{"input_ids", "attention_mask", "token_type_ids"}

const defaultONNXOutput = "output"

// withDefaults fills unset fields and checks the rest.
func (c ONNXConfig) withDefaults() (ONNXConfig, error) {
	if c.ModelPath == "" {
		return c, fmt.Errorf("onnx embedder requires a model path")
	}
	if c.Dimensions <= 0 {
		return c, fmt.Errorf("invalid embedding dimensions: %d", c.Dimensions)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if len(c.InputNames) == 0 {
		c.InputNames = defaultONNXInputs
	}
	if len(c.InputNames) != 3 {
		return c, fmt.Errorf("onnx embedder needs 3 input names, got %d", len(c.InputNames))
	}
	if c.OutputName == "" {
		c.OutputName = defaultONNXOutput
	}
	return c, nil
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}
