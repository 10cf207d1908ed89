package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/manthysbr/aulerag/internal/adapters/llm"
	"github.com/manthysbr/aulerag/internal/core/domain"
)

// Build creates the chat and embedding providers from app configuration.
// It hides provider selection from callers. Anthropic has no embeddings API,
// so it is paired with a local Ollama embedder.
func Build(ctx context.Context, config *domain.AppConfig) (domain.LLMProvider, domain.EmbeddingProvider, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	cfg := config.LLM
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)

	switch cfg.Provider {
	case "", domain.ProviderOpenAI, domain.ProviderOpenRouter:
		p := llm.NewOpenAIProvider(cfg)
		return p, p, nil
	case domain.ProviderAnthropic:
		return llm.NewAnthropicProvider(cfg), llm.NewOllamaProvider(domain.LLMProviderConfig{
			BaseURL:        ollamaHost(""),
			EmbeddingModel: cfg.EmbeddingModel,
		}), nil
	case domain.ProviderGemini:
		p, err := llm.NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case domain.ProviderOllama:
		cfg.BaseURL = ollamaHost(cfg.BaseURL)
		p := llm.NewOllamaProvider(cfg)
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", config.LLM.Provider)
	}
}

// ollamaHost prefers OLLAMA_HOST over the configured URL.
func ollamaHost(configured string) string {
	if host := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); host != "" {
		configured = host
	}
	return llm.NormalizeOllamaBaseURL(configured)
}
