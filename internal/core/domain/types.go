package domain

import "context"

// ModelCall is the injected model capability used by planners: one prompt in,
// one completion out.
type ModelCall func(ctx context.Context, prompt string) (string, error)

// LLMProvider defines the interface for LLM services
type LLMProvider interface {
	// GenerateText completes a single user prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// Chat completes a conversation. A leading RoleSystem message is the system prompt.
	Chat(ctx context.Context, messages []Message) (string, error)
	// Name is the provider identifier ("openai", "anthropic", ...).
	Name() string
	// Model is the default chat model.
	Model() string
}

// EmbeddingProvider turns texts into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
