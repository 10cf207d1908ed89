package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

const settingsKey = "app_config"

var errNoSettings = errors.New("no saved settings")

// SettingsRepository is the minimal DB interface for settings persistence.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore holds the runtime configuration. Saved settings are one JSON
// document with secrets encrypted at rest; reads for the API are masked.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewSettingsStore loads saved settings, falling back to base (normally the
// environment) until the first UpdateConfig.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo SettingsRepository, secret *SecretKey, base *domain.AppConfig) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	cfg, err := store.loadFromDB(ctx)
	switch {
	case errors.Is(err, errNoSettings):
		if base == nil {
			base = domain.DefaultConfig()
		}
		cfg = cloneConfig(base)
		logger.Info("no saved settings, using environment configuration")
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		logger.Info("loaded saved settings", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
// Used to hot-reload the LLM provider.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.config)
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := cloneConfig(s.config)
	for _, f := range secretFields(cp) {
		*f = MaskSecret(*f)
	}
	return cp
}

// UpdateConfig validates, persists and broadcasts a new config. Secrets sent
// empty or masked keep their current value.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	if update == nil {
		return fmt.Errorf("settings update is empty")
	}
	next := cloneConfig(update)

	s.mu.Lock()
	current := secretFields(s.config)
	for i, f := range secretFields(next) {
		if *f == "" || isMasked(*f) {
			*f = *current[i]
		}
	}

	if err := validate(next); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := s.saveToDB(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = next
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"provider", next.LLM.Provider,
		"model", next.LLM.Model,
		"search_configured", next.Search.Configured(),
	)

	// Callbacks run unlocked so they may read the store.
	for _, fn := range callbacks {
		fn(cloneConfig(next))
	}
	return nil
}

func validate(cfg *domain.AppConfig) error {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	switch cfg.LLM.Provider {
	case "":
		cfg.LLM.Provider = domain.ProviderOpenAI
	case domain.ProviderOpenAI, domain.ProviderOpenRouter, domain.ProviderAnthropic,
		domain.ProviderGemini, domain.ProviderOllama:
	default:
		return fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
	if !cfg.LLM.IsLocal() && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required for provider %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2, got %g", cfg.LLM.Temperature)
	}
	if cfg.Memory.ShortTermSize < 0 || cfg.Memory.MaxContextTokens < 0 {
		return fmt.Errorf("memory limits must not be negative")
	}
	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errNoSettings
	}

	cfg := domain.DefaultConfig()
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	for _, f := range secretFields(cfg) {
		if *f == "" {
			continue
		}
		plain, err := s.secret.Decrypt(*f)
		if err != nil {
			s.logger.Warn("failed to decrypt saved secret, dropping it", "error", err)
			plain = ""
		}
		*f = plain
	}
	return cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	stored := cloneConfig(cfg)
	for _, f := range secretFields(stored) {
		if *f == "" {
			continue
		}
		enc, err := s.secret.Encrypt(*f)
		if err != nil {
			return fmt.Errorf("encrypt secret: %w", err)
		}
		*f = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// secretFields lists the fields encrypted at rest, in a fixed order.
func secretFields(cfg *domain.AppConfig) []*string {
	return []*string{
		&cfg.LLM.APIKey,
		&cfg.Search.TavilyAPIKey,
		&cfg.Search.SerperAPIKey,
		&cfg.Search.BraveAPIKey,
		&cfg.Cloud.AWSSecretAccessKey,
	}
}

// cloneConfig copies cfg. AppConfig holds only value fields.
func cloneConfig(cfg *domain.AppConfig) *domain.AppConfig {
	cp := *cfg
	return &cp
}

func isMasked(s string) bool {
	return strings.HasPrefix(s, "****")
}
