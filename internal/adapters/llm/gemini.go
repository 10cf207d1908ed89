package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/manthysbr/aulerag/internal/core/domain"
	"google.golang.org/api/option"
)

// GeminiProvider implements chat and embeddings on the Gemini API.
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
	temperature    float64
}

var (
	_ domain.LLMProvider       = (*GeminiProvider)(nil)
	_ domain.EmbeddingProvider = (*GeminiProvider)(nil)
)

// NewGeminiProvider dials the Gemini API. Close releases the client.
func NewGeminiProvider(ctx context.Context, cfg domain.LLMProviderConfig) (*GeminiProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" || strings.HasPrefix(embeddingModel, "text-embedding-3") {
		embeddingModel = "text-embedding-004"
	}
	return &GeminiProvider{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
	}, nil
}

func (p *GeminiProvider) Name() string  { return domain.ProviderGemini }
func (p *GeminiProvider) Model() string { return p.model }

// Close releases the underlying client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, userPrompt(prompt))
}

// Chat replays all but the last message as history and sends the last one.
func (p *GeminiProvider) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", fmt.Errorf("gemini chat: no user message")
	}

	gm := p.client.GenerativeModel(p.model)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if p.temperature > 0 {
		gm.SetTemperature(float32(p.temperature))
	}

	history := toGeminiContents(rest)
	cs := gm.StartChat()
	cs.History = history[:len(history)-1]

	resp, err := cs.SendMessage(ctx, history[len(history)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	return geminiText(resp), nil
}

func toGeminiContents(messages []domain.Message) []*genai.Content {
	out := make([]*genai.Content, len(messages))
	for i, m := range messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		out[i] = &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}}
	}
	return out
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
		break
	}
	return sb.String()
}

// Embed embeds texts in one batch request.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := p.client.EmbeddingModel(p.embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
