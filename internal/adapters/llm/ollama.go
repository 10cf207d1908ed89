package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// DefaultOllamaURL is used when no host is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements chat and embeddings for a local Ollama instance.
type OllamaProvider struct {
	baseURL        string
	client         *http.Client
	model          string
	embeddingModel string
	temperature    float64
}

var (
	_ domain.LLMProvider       = (*OllamaProvider)(nil)
	_ domain.EmbeddingProvider = (*OllamaProvider)(nil)
)

func NewOllamaProvider(cfg domain.LLMProviderConfig) *OllamaProvider {
	baseURL := NormalizeOllamaBaseURL(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "qwen2.5:latest"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" || strings.HasPrefix(embeddingModel, "text-embedding-") {
		embeddingModel = "nomic-embed-text"
	}
	return &OllamaProvider{
		baseURL:        baseURL,
		client:         &http.Client{Timeout: 120 * time.Second},
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
	}
}

// NormalizeOllamaBaseURL strips a trailing slash and an OpenAI-style /v1 suffix.
func NormalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}

func (p *OllamaProvider) Name() string  { return domain.ProviderOllama }
func (p *OllamaProvider) Model() string { return p.model }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *OllamaProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, userPrompt(prompt))
}

// Chat calls /api/chat without streaming.
func (p *OllamaProvider) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	req := chatRequest{Model: p.model, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if p.temperature > 0 {
		req.Options = map[string]interface{}{"temperature": p.temperature}
	}

	var resp chatResponse
	if err := p.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Embed calls /api/embed with all texts in one request.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := p.post(ctx, "/api/embed", embedRequest{Model: p.embeddingModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
