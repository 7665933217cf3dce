package ai

import (
	"fmt"
)

// Config holds embedding provider configuration
type Config struct {
	Provider    ProviderType // "ollama" or "openai"
	BaseURL     string
	APIKey      string
	Model       string
	Dimension   int
	MaxAttempts int
}

// NewEmbeddingService creates an EmbeddingService based on the config.
// This is the factory function - switch providers by changing config.Provider
func NewEmbeddingService(cfg Config) (EmbeddingService, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	var inner EmbeddingService
	switch cfg.Provider {
	case ProviderOllama:
		inner = NewOllamaService(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY is required for OpenAI provider")
		}
		inner = NewOpenAIService(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	return NewRetryingService(inner, cfg.MaxAttempts), nil
}
