package llm

import (
	"fmt"
	"strings"
	"time"
)

// Provider names
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Default configuration values
const (
	DefaultTimeout     = 120 * time.Second
	DefaultMaxAttempts = 3
)

// Config selects and configures a completion provider
type Config struct {
	Provider string

	// APIKey is required for openai, ignored by ollama
	APIKey string

	// BaseURL overrides the provider endpoint for Azure OpenAI, LiteLLM or
	// any compatible gateway
	BaseURL string

	Model   string
	Timeout time.Duration

	// MaxAttempts bounds tries per request including the first
	MaxAttempts int

	// RequestsPerSecond throttles outgoing requests, 0 disables throttling
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// New creates a completer for cfg.Provider
func New(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg)
	case ProviderOllama:
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
