package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider implements chat and embeddings on any OpenAI-compatible API
// (OpenAI, OpenRouter, Azure, Together, local gateways).
type OpenAIProvider struct {
	client         openai.Client
	name           string
	model          string
	embeddingModel string
	temperature    float64
}

var (
	_ domain.LLMProvider       = (*OpenAIProvider)(nil)
	_ domain.EmbeddingProvider = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider creates a provider from cfg. For OpenRouter the base URL
// defaults to OpenRouterBaseURL and the attribution headers are sent.
func NewOpenAIProvider(cfg domain.LLMProviderConfig) *OpenAIProvider {
	name := cfg.Provider
	if name == "" {
		name = domain.ProviderOpenAI
	}
	baseURL := cfg.BaseURL
	if baseURL == "" && name == domain.ProviderOpenRouter {
		baseURL = OpenRouterBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if name == domain.ProviderOpenRouter {
		if cfg.Referer != "" {
			opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
		}
		if cfg.AppTitle != "" {
			opts = append(opts, option.WithHeader("X-Title", cfg.AppTitle))
		}
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4-turbo-preview"
	}
	return &OpenAIProvider{
		client:         openai.NewClient(opts...),
		name:           name,
		model:          model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
	}
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.model }

// GenerateText completes a single user prompt.
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, userPrompt(prompt))
}

// Chat sends the conversation to the chat completions endpoint.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: toOpenAIMessages(messages),
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s chat completion: no choices in response", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Embed returns one vector per text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s embeddings: got %d vectors for %d texts", p.name, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("%s embeddings: index %d out of range", p.name, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
