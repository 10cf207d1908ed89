package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// ModelErrorKind classifies a failed model call.
type ModelErrorKind string

const (
	ModelErrorQuota   ModelErrorKind = "quota"
	ModelErrorAuth    ModelErrorKind = "auth"
	ModelErrorUnknown ModelErrorKind = "unknown"
)

// ModelError is a model failure with a user-facing message.
type ModelError struct {
	Kind     ModelErrorKind
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	name := ProviderDisplayName(e.Provider)
	switch e.Kind {
	case ModelErrorQuota:
		return fmt.Sprintf("%s API quota exceeded. Please check your billing and plan details.", name)
	case ModelErrorAuth:
		return fmt.Sprintf("Invalid %s API key. Please check your configuration.", name)
	}
	return e.Err.Error()
}

func (e *ModelError) Unwrap() error { return e.Err }

// ClassifyModelError wraps err as a *ModelError. Already classified errors
// are returned unchanged; nil stays nil.
func ClassifyModelError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var me *ModelError
	if errors.As(err, &me) {
		return err
	}

	msg := strings.ToLower(err.Error())
	kind := ModelErrorUnknown
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "429"):
		kind = ModelErrorQuota
	case strings.Contains(msg, "api key") || strings.Contains(msg, "api_key") ||
		strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		kind = ModelErrorAuth
	}
	return &ModelError{Kind: kind, Provider: provider, Err: err}
}

// QueryErrorMessage renders a failure for the query envelope. Unclassified
// errors get the "Error processing query: " prefix.
func QueryErrorMessage(provider string, err error) string {
	var me *ModelError
	if errors.As(ClassifyModelError(provider, err), &me) && me.Kind != ModelErrorUnknown {
		return me.Error()
	}
	return "Error processing query: " + err.Error()
}

// ProviderDisplayName maps a provider id to its human-readable name.
func ProviderDisplayName(provider string) string {
	switch provider {
	case domain.ProviderOpenAI, "":
		return "OpenAI"
	case domain.ProviderOpenRouter:
		return "OpenRouter"
	case domain.ProviderAnthropic:
		return "Anthropic"
	case domain.ProviderGemini:
		return "Gemini"
	case domain.ProviderOllama:
		return "Ollama"
	}
	return provider
}
