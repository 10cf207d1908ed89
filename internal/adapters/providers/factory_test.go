package providers

import (
	"context"
	"testing"

	"github.com/manthysbr/aulerag/internal/adapters/llm"
	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	ctx := context.Background()

	cases := map[string]struct {
		chat  interface{}
		embed interface{}
	}{
		domain.ProviderOpenAI:     {&llm.OpenAIProvider{}, &llm.OpenAIProvider{}},
		domain.ProviderOpenRouter: {&llm.OpenAIProvider{}, &llm.OpenAIProvider{}},
		domain.ProviderAnthropic:  {&llm.AnthropicProvider{}, &llm.OllamaProvider{}},
		domain.ProviderOllama:     {&llm.OllamaProvider{}, &llm.OllamaProvider{}},
	}
	for provider, want := range cases {
		cfg := domain.DefaultConfig()
		cfg.LLM.Provider = provider
		cfg.LLM.APIKey = "key"

		chat, embed, err := Build(ctx, cfg)
		require.NoError(t, err, provider)
		assert.IsType(t, want.chat, chat, provider)
		assert.IsType(t, want.embed, embed, provider)
	}

	cfg := domain.DefaultConfig()
	cfg.LLM.Provider = "cohere"
	_, _, err := Build(ctx, cfg)
	assert.ErrorContains(t, err, "unsupported llm provider: cohere")
}

func TestBuild_OpenRouterName(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.LLM.Provider = " OpenRouter "
	chat, _, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenRouter, chat.Name())
}

func TestOllamaHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434/v1")
	assert.Equal(t, "http://gpu-box:11434", ollamaHost("http://localhost:11434"))
	t.Setenv("OLLAMA_HOST", "")
	assert.Equal(t, "http://localhost:11434", ollamaHost("http://localhost:11434/"))
}
