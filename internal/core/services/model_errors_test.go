package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyModelError(t *testing.T) {
	cases := []struct {
		err  string
		kind ModelErrorKind
	}{
		{"You exceeded your current quota", ModelErrorQuota},
		{"POST /v1/chat: 429 Too Many Requests", ModelErrorQuota},
		{"Incorrect API key provided", ModelErrorAuth},
		{"invalid_api_key", ModelErrorAuth},
		{"401 Unauthorized", ModelErrorAuth},
		{"dial tcp: connection refused", ModelErrorUnknown},
	}
	for _, tc := range cases {
		var me *ModelError
		require.ErrorAs(t, ClassifyModelError("openai", errors.New(tc.err)), &me, tc.err)
		assert.Equal(t, tc.kind, me.Kind, tc.err)
	}

	assert.NoError(t, ClassifyModelError("openai", nil))
}

func TestModelError_Messages(t *testing.T) {
	base := errors.New("429")
	err := ClassifyModelError("anthropic", base)
	assert.EqualError(t, err, "Anthropic API quota exceeded. Please check your billing and plan details.")
	assert.ErrorIs(t, err, base)

	// Classifying twice keeps the first classification.
	wrapped := fmt.Errorf("chat: %w", err)
	assert.Equal(t, wrapped, ClassifyModelError("openai", wrapped))

	assert.EqualError(t, ClassifyModelError("openrouter", errors.New("unauthorized")),
		"Invalid OpenRouter API key. Please check your configuration.")
	assert.EqualError(t, ClassifyModelError("gemini", errors.New("boom")), "boom")
}

func TestQueryErrorMessage(t *testing.T) {
	assert.Equal(t, "Invalid OpenAI API key. Please check your configuration.",
		QueryErrorMessage("", errors.New("401")))
	assert.Equal(t, "Error processing query: timeout", QueryErrorMessage("ollama", errors.New("timeout")))
}

func TestProviderDisplayName(t *testing.T) {
	assert.Equal(t, "Gemini", ProviderDisplayName("gemini"))
	assert.Equal(t, "Ollama", ProviderDisplayName("ollama"))
	assert.Equal(t, "custom", ProviderDisplayName("custom"))
}
