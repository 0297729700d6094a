package embedder

import (
	"cmp"
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables read by NewFromEnv. The PYCONTEXT_EMBEDDING_ names
// match the embedding.* keys of the application config.
const (
	EnvProvider     = "PYCONTEXT_EMBEDDING_PROVIDER"
	EnvModel        = "PYCONTEXT_EMBEDDING_MODEL"
	EnvBaseURL      = "PYCONTEXT_EMBEDDING_BASE_URL"
	EnvAPIKey       = "PYCONTEXT_EMBEDDING_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaURL    = "OLLAMA_HOST"
)

// DefaultCacheSize bounds the embedding cache when none is configured
const DefaultCacheSize = 10000

// Config holds embedder configuration
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string // Optional: override the provider endpoint
	Model       string // Optional: override the provider default model
	Dimension   int    // Optional: requested vector dimension
	Timeout     time.Duration
	CacheSize   int
	MaxAttempts int
}

// NewFromEnv creates an embedder from environment variables. The provider
// comes from DetectProvider. PYCONTEXT_EMBEDDING_API_KEY and
// PYCONTEXT_EMBEDDING_BASE_URL win over the vendor variables.
func NewFromEnv() (Embedder, error) {
	cfg := Config{
		Provider:  DetectProvider(),
		Model:     os.Getenv(EnvModel),
		BaseURL:   os.Getenv(EnvBaseURL),
		APIKey:    os.Getenv(EnvAPIKey),
		CacheSize: DefaultCacheSize,
	}
	switch cfg.Provider {
	case ProviderJina:
		cfg.APIKey = cmp.Or(cfg.APIKey, os.Getenv(EnvJinaAPIKey))
	case ProviderOpenAI:
		cfg.APIKey = cmp.Or(cfg.APIKey, os.Getenv(EnvOpenAIAPIKey))
	case ProviderOllama:
		cfg.BaseURL = cmp.Or(cfg.BaseURL, os.Getenv(EnvOllamaURL))
	}
	return New(cfg)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
