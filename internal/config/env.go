package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// Env is the process configuration read at startup. App seeds the
// SettingsStore; the rest is fixed for the lifetime of the process.
type Env struct {
	App *domain.AppConfig

	Host     string
	Port     int
	LogLevel slog.Level

	DBPath     string // DuckDB file for settings, traces, documents, memories
	PluginDir  string // directory scanned for *.wasm tools
	S3Endpoint string // S3-compatible endpoint override (minio, localstack)

	MaxIterations      int
	EmbeddingCacheSize int
	EmbeddingCacheTTL  time.Duration
}

// Addr is the listen address.
func (e *Env) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Load reads the given .env files (default ".env"), then the process
// environment, and applies defaults. Missing .env files are ignored;
// variables already set in the environment win over file values.
func Load(files ...string) (*Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds an Env from a lookup function.
func FromEnv(getenv func(string) string) (*Env, error) {
	r := &reader{getenv: getenv}
	app := domain.DefaultConfig()

	app.LLM.Provider = strings.ToLower(r.str("LLM_PROVIDER", ""))
	app.LLM.BaseURL = r.str("OPENAI_BASE_URL", "")
	if app.LLM.Provider == "" {
		app.LLM.Provider = domain.ProviderOpenAI
		if strings.Contains(app.LLM.BaseURL, "openrouter.ai") {
			app.LLM.Provider = domain.ProviderOpenRouter
		}
	}
	app.LLM.APIKey = r.str("OPENAI_API_KEY", "")
	switch app.LLM.Provider {
	case domain.ProviderAnthropic:
		app.LLM.APIKey = r.str("ANTHROPIC_API_KEY", app.LLM.APIKey)
	case domain.ProviderGemini:
		app.LLM.APIKey = r.str("GEMINI_API_KEY", app.LLM.APIKey)
	case domain.ProviderOllama:
		app.LLM.BaseURL = r.str("OLLAMA_HOST", app.LLM.BaseURL)
	}
	app.LLM.Model = r.str("OPENAI_MODEL", app.LLM.Model)
	app.LLM.EmbeddingModel = r.str("OPENAI_EMBEDDING_MODEL", app.LLM.EmbeddingModel)
	app.LLM.Temperature = r.float("LLM_TEMPERATURE", app.LLM.Temperature)
	app.LLM.Referer = r.str("OPENROUTER_HTTP_REFERER", "")
	app.LLM.AppTitle = r.str("OPENROUTER_TITLE", "")

	app.Search.TavilyAPIKey = r.str("TAVILY_API_KEY", "")
	app.Search.SerperAPIKey = r.str("SERPER_API_KEY", "")
	app.Search.BraveAPIKey = r.str("BRAVE_API_KEY", "")

	app.Cloud.AWSAccessKeyID = r.str("AWS_ACCESS_KEY_ID", "")
	app.Cloud.AWSSecretAccessKey = r.str("AWS_SECRET_ACCESS_KEY", "")
	app.Cloud.AWSRegion = r.str("AWS_REGION", app.Cloud.AWSRegion)
	app.Cloud.S3Bucket = r.str("AWS_S3_BUCKET", "")
	app.Cloud.GCSCredentialsFile = r.str("GOOGLE_APPLICATION_CREDENTIALS", "")
	app.Cloud.GCSBucket = r.str("GCS_BUCKET_NAME", "")

	app.Memory.ShortTermSize = r.int("SHORT_TERM_MEMORY_SIZE", app.Memory.ShortTermSize)
	app.Memory.LongTermEnabled = r.bool("LONG_TERM_MEMORY_ENABLED", app.Memory.LongTermEnabled)
	app.Memory.MaxContextTokens = r.int("MAX_CONTEXT_TOKENS", app.Memory.MaxContextTokens)

	app.Data.DatabaseURL = r.str("DATABASE_URL", "")
	app.Data.WarehouseURL = r.str("WAREHOUSE_URL", "")
	app.Data.Collection = r.str("COLLECTION_NAME", app.Data.Collection)

	env := &Env{
		App:                app,
		Host:               r.str("API_HOST", "0.0.0.0"),
		Port:               r.int("API_PORT", 8000),
		LogLevel:           r.level("LOG_LEVEL", slog.LevelInfo),
		DBPath:             r.str("AULE_RAG_DB", "./data/aule-rag.duckdb"),
		PluginDir:          r.str("PLUGIN_DIR", "./plugins"),
		S3Endpoint:         r.str("AWS_S3_ENDPOINT", ""),
		MaxIterations:      r.int("MAX_ITERATIONS", 5),
		EmbeddingCacheSize: r.int("EMBEDDING_CACHE_SIZE", 1024),
		EmbeddingCacheTTL:  r.duration("EMBEDDING_CACHE_TTL", time.Hour),
	}
	if r.err != nil {
		return nil, r.err
	}
	if env.Port <= 0 || env.Port > 65535 {
		return nil, fmt.Errorf("API_PORT out of range: %d", env.Port)
	}
	return env, nil
}

// reader collects the first parse error so FromEnv can stay linear.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

func (r *reader) level(key string, def slog.Level) slog.Level {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		r.fail(key, v, err)
		return def
	}
	return l
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
