package ai

import (
	"context"
)

// EmbeddingService turns prepared message text into a fixed-dimension vector.
// Implement this interface to add new embedding providers (Ollama, OpenAI, etc.)
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ProviderType represents the embedding provider type
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
)
