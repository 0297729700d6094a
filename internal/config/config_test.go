package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/llm"
)

// isolate runs the test in an empty directory with no provider keys set
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{
		embedder.EnvProvider, embedder.EnvJinaAPIKey, embedder.EnvOpenAIAPIKey, embedder.EnvOllamaURL,
		"PYCONTEXT_DB_PATH", "PYCONTEXT_LLM_MODEL", "PYCONTEXT_SEARCH_TOP_K", "PYCONTEXT_STORE_BACKEND",
		"PYCONTEXT_SEARCH_CACHE_TTL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return dir
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "http://localhost:8000", cfg.Store.ChromaURL)
	assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, llm.DefaultTimeout, cfg.LLM.Timeout)
	assert.Equal(t, DefaultMaxConcurrency, cfg.LLM.MaxConcurrency)
	assert.Equal(t, embedder.ProviderLocal, cfg.Embedding.Provider)
	assert.Equal(t, []string{".py"}, cfg.Index.Extensions)
	assert.NotEmpty(t, cfg.Index.ExcludeDirs)
	assert.True(t, cfg.Index.PurgeStale)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Zero(t, cfg.Search.CacheTTL, "result cache is opt-in")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, LogFormatConsole, cfg.Log.Format)
	assert.Equal(t, "index.db", filepath.Base(cfg.DBPath))
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PYCONTEXT_SEARCH_TOP_K", "7")
	t.Setenv("PYCONTEXT_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("PYCONTEXT_STORE_BACKEND", "Chroma")
	t.Setenv("PYCONTEXT_SEARCH_CACHE_TTL", "2m")
	t.Setenv(embedder.EnvOpenAIAPIKey, "sk-test")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, 2*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, BackendChroma, cfg.Store.Backend)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	// An OpenAI key selects OpenAI embeddings when no provider is set
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PYCONTEXT_LLM_MODEL=from-dotenv\nPYCONTEXT_SEARCH_TOP_K=5\n"), 0o644))

	// Real environment variables win over .env
	t.Setenv("PYCONTEXT_SEARCH_TOP_K", "9")
	t.Cleanup(func() { _ = os.Unsetenv("PYCONTEXT_LLM_MODEL") })

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.LLM.Model)
	assert.Equal(t, 9, cfg.Search.TopK)
}

func TestLoadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "pycontext.yaml")
	content := `
db_path: /tmp/custom.db
llm:
  provider: ollama
  model: llama3.1
  timeout: 45s
  max_concurrency: 2
embedding:
  provider: ollama
  dimension: 768
index:
  extensions: [".py", ".pyi"]
  purge_stale: false
search:
  top_k: 4
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, llm.ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.LLM.MaxConcurrency)
	assert.Equal(t, embedder.ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, []string{".py", ".pyi"}, cfg.Index.Extensions)
	assert.False(t, cfg.Index.PurgeStale)
	assert.Equal(t, 4, cfg.Search.TopK)
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingConfigFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(newFlags(t, "--config", filepath.Join(dir, "missing.yaml")))
	assert.Error(t, err)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PYCONTEXT_SEARCH_TOP_K", "7")

	cfg, err := Load(newFlags(t, "--top-k", "2", "--store", "chroma", "--purge-stale=false", "--db-path", "~/idx.db"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Search.TopK)
	assert.Equal(t, BackendChroma, cfg.Store.Backend)
	assert.False(t, cfg.Index.PurgeStale)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "idx.db"), cfg.DBPath)
}

func TestLoadUnchangedFlagsKeepEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PYCONTEXT_SEARCH_TOP_K", "7")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.TopK)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	isolate(t)
	cfg, err := Load(nil)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "qdrant" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"empty chroma url", func(c *Config) { c.Store.Backend = BackendChroma; c.Store.ChromaURL = "" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "anthropic" }},
		{"zero llm timeout", func(c *Config) { c.LLM.Timeout = 0 }},
		{"negative concurrency", func(c *Config) { c.LLM.MaxConcurrency = -1 }},
		{"negative rate", func(c *Config) { c.LLM.RequestsPerSecond = -1 }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero embedding timeout", func(c *Config) { c.Embedding.Timeout = 0 }},
		{"zero top k", func(c *Config) { c.Search.TopK = 0 }},
		{"no extensions", func(c *Config) { c.Index.Extensions = nil }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestProviderConfigs(t *testing.T) {
	cfg := validConfig(t)
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxRetries = 5
	cfg.LLM.RequestsPerSecond = 2
	cfg.Embedding.Dimension = 32

	lc := cfg.LLMProviderConfig()
	assert.Equal(t, "gpt-4o", lc.Model)
	assert.Equal(t, 5, lc.MaxAttempts)
	assert.Equal(t, 2.0, lc.RequestsPerSecond)

	ec := cfg.EmbedderConfig()
	assert.Equal(t, embedder.ProviderLocal, ec.Provider)
	assert.Equal(t, 32, ec.Dimension)
	assert.Equal(t, embedder.DefaultCacheSize, ec.CacheSize)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogConfig{Level: "warn", Format: LogFormatJSON})

	logger.Info().Msg("hidden")
	logger.Warn().Str("partition", "code_file").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"partition":"code_file"`)
	assert.Contains(t, out, `"message":"shown"`)
}

func TestNewLoggerConsoleAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogConfig{Level: "loud", Format: LogFormatConsole})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("indexing started")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "indexing started")
	assert.NotContains(t, out, "{")
}
