package domain

// LLM provider identifiers understood by the provider factory.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// LLMProviderConfig configures the chat + embedding provider
type LLMProviderConfig struct {
	Provider       string  `json:"provider"`        // openai, openrouter, anthropic, gemini, ollama
	BaseURL        string  `json:"base_url"`        // empty = provider default
	APIKey         string  `json:"api_key"`         // Encrypted in storage
	Model          string  `json:"model"`           // "gpt-4-turbo-preview"
	EmbeddingModel string  `json:"embedding_model"` // "text-embedding-3-small"
	Temperature    float64 `json:"temperature"`
	Referer        string  `json:"referer,omitempty"` // OpenRouter HTTP-Referer
	AppTitle       string  `json:"app_title,omitempty"`
}

// IsLocal reports whether the provider needs no API key.
func (c LLMProviderConfig) IsLocal() bool {
	return c.Provider == ProviderOllama
}

// SearchConfig holds web search credentials. The first configured backend wins
// in the order Tavily, Serper, Brave.
type SearchConfig struct {
	TavilyAPIKey string `json:"tavily_api_key"`
	SerperAPIKey string `json:"serper_api_key"`
	BraveAPIKey  string `json:"brave_api_key"`
}

// Configured reports whether any backend has a key.
func (c SearchConfig) Configured() bool {
	return c.TavilyAPIKey != "" || c.SerperAPIKey != "" || c.BraveAPIKey != ""
}

// CloudConfig selects the object store backing the cloud agent.
type CloudConfig struct {
	AWSAccessKeyID     string `json:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key"`
	AWSRegion          string `json:"aws_region"`
	S3Bucket           string `json:"s3_bucket"`
	GCSCredentialsFile string `json:"gcs_credentials_file"`
	GCSBucket          string `json:"gcs_bucket"`
}

// MemoryConfig tunes conversation memory.
type MemoryConfig struct {
	ShortTermSize    int  `json:"short_term_size"`
	LongTermEnabled  bool `json:"long_term_enabled"`
	MaxContextTokens int  `json:"max_context_tokens"`
}

// DataConfig points at the SQL sources used by tools and the warehouse agent.
type DataConfig struct {
	DatabaseURL  string `json:"database_url"`  // duckdb:// or sqlite3:// for database_query
	WarehouseURL string `json:"warehouse_url"` // enables the warehouse agent
	Collection   string `json:"collection"`    // documents collection name
}

// AppConfig is the main application configuration
type AppConfig struct {
	LLM    LLMProviderConfig `json:"llm"`
	Search SearchConfig      `json:"search"`
	Cloud  CloudConfig       `json:"cloud"`
	Memory MemoryConfig      `json:"memory"`
	Data   DataConfig        `json:"data"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		LLM: LLMProviderConfig{
			Provider:       ProviderOpenAI,
			Model:          "gpt-4-turbo-preview",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.7,
		},
		Cloud: CloudConfig{
			AWSRegion: "us-east-1",
		},
		Memory: MemoryConfig{
			ShortTermSize:    10,
			LongTermEnabled:  true,
			MaxContextTokens: 4000,
		},
		Data: DataConfig{
			Collection: "documents",
		},
	}
}
