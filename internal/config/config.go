package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/internal/parser"
	"github.com/dshills/pycontext-mcp/internal/searcher"
	"github.com/dshills/pycontext-mcp/internal/storage/chroma"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "PYCONTEXT"

// Store backends
const (
	BackendSQLite = "sqlite"
	BackendChroma = "chroma"
)

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	DBPath    string          `mapstructure:"db_path"`
	Store     StoreConfig     `mapstructure:"store"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

// StoreConfig selects the vector store backend
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	ChromaURL string `mapstructure:"chroma_url"`
}

// LLMConfig configures the summarization model
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// EmbeddingConfig configures the embedding model
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Dimension int           `mapstructure:"dimension"`
	CacheSize int           `mapstructure:"cache_size"`
}

// IndexConfig controls source discovery and cleaning
type IndexConfig struct {
	Extensions  []string `mapstructure:"extensions"`
	ExcludeDirs []string `mapstructure:"exclude_dirs"`
	PurgeStale  bool     `mapstructure:"purge_stale"`
}

// SearchConfig controls retrieval
type SearchConfig struct {
	TopK     int           `mapstructure:"top_k"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"db-path":         "db_path",
	"store":           "store.backend",
	"chroma-url":      "store.chroma_url",
	"llm-provider":    "llm.provider",
	"llm-model":       "llm.model",
	"llm-base-url":    "llm.base_url",
	"concurrency":     "llm.max_concurrency",
	"embedding":       "embedding.provider",
	"embedding-model": "embedding.model",
	"top-k":           "search.top_k",
	"purge-stale":     "index.purge_stale",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// RegisterFlags adds the flags read by Load to flags
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("db-path", "", "SQLite database file")
	flags.String("store", BackendSQLite, "vector store backend (sqlite, chroma)")
	flags.String("chroma-url", chroma.DefaultURL, "Chroma server URL")
	flags.String("llm-provider", llm.ProviderOpenAI, "completion provider (openai, ollama)")
	flags.String("llm-model", "", "completion model")
	flags.String("llm-base-url", "", "completion endpoint override")
	flags.Int("concurrency", DefaultMaxConcurrency, "concurrent summarization requests per pipeline")
	flags.String("embedding", "", "embedding provider (jina, openai, ollama, local)")
	flags.String("embedding-model", "", "embedding model")
	flags.Int("top-k", searcher.DefaultTopK, "documents retrieved per partition")
	flags.Bool("purge-stale", true, "remove documents of changed units on re-index")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", LogFormatConsole, "log format (console, json)")
}

// DefaultMaxConcurrency bounds in-flight completions per pipeline
const DefaultMaxConcurrency = 8

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.chroma_url", chroma.DefaultURL)

	v.SetDefault("llm.provider", llm.ProviderOpenAI)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", llm.DefaultTimeout)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_second", 0.0)
	v.SetDefault("llm.max_concurrency", DefaultMaxConcurrency)
	v.SetDefault("llm.max_retries", llm.DefaultMaxAttempts)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)

	v.SetDefault("index.extensions", []string{".py"})
	v.SetDefault("index.exclude_dirs", parser.DefaultExcludeDirs)
	v.SetDefault("index.purge_stale", true)

	v.SetDefault("search.top_k", searcher.DefaultTopK)
	// Off by default: another process may rewrite the store while serving
	v.SetDefault("search.cache_ttl", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatConsole)
}

// Load reads configuration. Priority: CLI flags > environment variables
// (including .env) > config file > defaults. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// .env in the working directory fills unset environment variables,
	// ignored when absent
	_ = gotenv.Load()

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolve()
	return &cfg, nil
}

// resolve fills provider fallbacks that depend on other settings
func (c *Config) resolve() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = embedder.DetectProvider()
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	c.Store.Backend = strings.ToLower(c.Store.Backend)

	if c.LLM.APIKey == "" && c.LLM.Provider == llm.ProviderOpenAI {
		c.LLM.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
	}
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case embedder.ProviderJina:
			c.Embedding.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == embedder.ProviderOllama {
		c.Embedding.BaseURL = os.Getenv(embedder.EnvOllamaURL)
	}

	c.DBPath = expandHomeDir(c.DBPath)
}

// Validate checks for unknown providers and out of range values
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db_path cannot be empty", ErrInvalidConfig)
		}
	case BackendChroma:
		if c.Store.ChromaURL == "" {
			return fmt.Errorf("%w: store.chroma_url cannot be empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	switch c.LLM.Provider {
	case llm.ProviderOpenAI, llm.ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be positive", ErrInvalidConfig)
	}
	if c.LLM.MaxConcurrency < 0 {
		return fmt.Errorf("%w: llm.max_concurrency cannot be negative", ErrInvalidConfig)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: llm.requests_per_second cannot be negative", ErrInvalidConfig)
	}

	switch c.Embedding.Provider {
	case embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("%w: embedding.timeout must be positive", ErrInvalidConfig)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("%w: search.top_k must be positive, got %d", ErrInvalidConfig, c.Search.TopK)
	}
	if len(c.Index.Extensions) == 0 {
		return fmt.Errorf("%w: index.extensions cannot be empty", ErrInvalidConfig)
	}

	switch c.Log.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// LLMProviderConfig converts the llm section for llm.New
func (c *Config) LLMProviderConfig() llm.Config {
	return llm.Config{
		Provider:          c.LLM.Provider,
		APIKey:            c.LLM.APIKey,
		BaseURL:           c.LLM.BaseURL,
		Model:             c.LLM.Model,
		Timeout:           c.LLM.Timeout,
		MaxAttempts:       c.LLM.MaxRetries,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
	}
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:    c.Embedding.Provider,
		APIKey:      c.Embedding.APIKey,
		BaseURL:     c.Embedding.BaseURL,
		Model:       c.Embedding.Model,
		Dimension:   c.Embedding.Dimension,
		Timeout:     c.Embedding.Timeout,
		CacheSize:   c.Embedding.CacheSize,
		MaxAttempts: c.LLM.MaxRetries,
	}
}

// defaultDBPath returns the default database file
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pycontext", "index.db")
	}
	return filepath.Join(home, ".pycontext", "index.db")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
