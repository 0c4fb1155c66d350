package index

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
)

type OllamaConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// OllamaEmbedder is the default embedding collaborator, backed by a
// local Ollama server.
type OllamaEmbedder struct {
	config OllamaConfig
	llm    *ollama.LLM
}

func NewOllamaEmbedder(config OllamaConfig) (*OllamaEmbedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &OllamaEmbedder{config: config, llm: llm}, nil
}

func (e *OllamaEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return e.llm.CreateEmbedding(ctx, texts)
}
