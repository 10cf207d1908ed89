package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation() []domain.Message {
	return []domain.Message{
		domain.NewMessage(domain.RoleSystem, "be brief"),
		domain.NewMessage(domain.RoleUser, "hi"),
		domain.NewMessage(domain.RoleAssistant, "hello"),
		domain.NewMessage(domain.RoleUser, "2+2?"),
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem(append(conversation(), domain.NewMessage(domain.RoleSystem, "no lists")))
	assert.Equal(t, "be brief\n\nno lists", system)
	require.Len(t, rest, 3)
	assert.Equal(t, domain.RoleUser, rest[0].Role)
}

func TestOpenAIProvider_ChatAndEmbed(t *testing.T) {
	var gotHeaders http.Header
	var chatBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat/completions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&chatBody))
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"4"}}]}`))
		case "/embeddings":
			_, _ = w.Write([]byte(`{"object":"list","model":"e","data":[
				{"object":"embedding","index":1,"embedding":[0.5]},
				{"object":"embedding","index":0,"embedding":[0.25,0.75]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider(domain.LLMProviderConfig{
		Provider:       domain.ProviderOpenRouter,
		BaseURL:        srv.URL,
		APIKey:         "sk-or",
		Model:          "openai/gpt-4o",
		EmbeddingModel: "text-embedding-3-small",
		Referer:        "https://example.com",
		AppTitle:       "aule-rag",
	})
	assert.Equal(t, domain.ProviderOpenRouter, p.Name())

	out, err := p.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "4", out)
	assert.Equal(t, "Bearer sk-or", gotHeaders.Get("Authorization"))
	assert.Equal(t, "https://example.com", gotHeaders.Get("HTTP-Referer"))
	assert.Equal(t, "aule-rag", gotHeaders.Get("X-Title"))
	assert.Equal(t, "openai/gpt-4o", chatBody["model"])
	assert.Len(t, chatBody["messages"], 4)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.25, 0.75}, {0.5}}, vecs)
}

func TestOpenAIProvider_ErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(domain.LLMProviderConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := p.GenerateText(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAnthropicProvider_Chat(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"fo"},{"type":"text","text":"ur"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(domain.LLMProviderConfig{BaseURL: srv.URL, APIKey: "sk-ant", Model: "claude"})
	out, err := p.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "four", out)

	system := body["system"].([]interface{})
	assert.Equal(t, "be brief", system[0].(map[string]interface{})["text"])
	assert.Len(t, body["messages"], 3)
	assert.EqualValues(t, anthropicMaxTokens, body["max_tokens"])
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Equal(t, "system", req.Messages[0].Role)
			_ = json.NewEncoder(w).Encode(chatResponse{Message: ollamaMessage{Role: "assistant", Content: "4"}, Done: true})
		case "/api/embed":
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 0}, {0, 1}}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("model not found"))
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(domain.LLMProviderConfig{BaseURL: srv.URL + "/v1/", EmbeddingModel: "text-embedding-3-small"})
	assert.Equal(t, "qwen2.5:latest", p.Model())

	out, err := p.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	p.baseURL = srv.URL + "/missing"
	_, err = p.GenerateText(context.Background(), "x")
	assert.ErrorContains(t, err, "ollama returned status 404: model not found")
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://h:11434", NormalizeOllamaBaseURL(" http://h:11434/v1/ "))
	assert.Equal(t, "", NormalizeOllamaBaseURL(""))
}
