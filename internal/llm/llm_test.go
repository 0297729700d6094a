package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

type codeSummary struct {
	Summary string `json:"summary"`
}

func TestSchemaFor(t *testing.T) {
	rs := SchemaFor("code_summary", &codeSummary{})

	assert.Equal(t, "code_summary", rs.Name)
	assert.True(t, rs.Strict)

	raw, err := json.Marshal(rs.Schema)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "object", doc["type"])
	assert.NotContains(t, doc, "$ref")
	assert.NotContains(t, doc, "$schema")
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Equal(t, []any{"summary"}, doc["required"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	summary, ok := props["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", summary["type"])
}

func TestValidateRequest(t *testing.T) {
	noop := func(Chunk) {}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "valid", req: Request{Prompt: "hi"}},
		{name: "valid stream", req: Request{Prompt: "hi", Stream: noop}},
		{name: "valid stream n=1", req: Request{Prompt: "hi", N: 1, Stream: noop}},
		{name: "valid n=3", req: Request{Prompt: "hi", N: 3}},
		{name: "empty prompt", req: Request{}, wantErr: ErrEmptyPrompt},
		{name: "stream with n=2", req: Request{Prompt: "hi", N: 2, Stream: noop}, wantErr: types.ErrStreamingMisuse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckFinishReason(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	CheckFinishReason(ctx, []Meta{
		{Index: 0, FinishReason: FinishStop},
		{Index: 1, FinishReason: FinishLength},
		{Index: 2, FinishReason: FinishContentFilter},
	})

	out := buf.String()
	assert.Contains(t, out, "increase max_tokens")
	assert.Contains(t, out, "content filter")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestCheckFinishReason_NoLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		CheckFinishReason(context.Background(), []Meta{{FinishReason: FinishLength}})
	})
}

func TestNew(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		c, err := New(Config{Provider: "OpenAI", APIKey: "k"})
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, DefaultOpenAIModel, c.Model())
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := New(Config{Provider: ProviderOpenAI})
		assert.Error(t, err)
	})

	t.Run("ollama", func(t *testing.T) {
		c, err := New(Config{Provider: ProviderOllama, Model: "qwen2.5-coder"})
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, "qwen2.5-coder", c.Model())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(Config{Provider: "bard"})
		assert.Error(t, err)
	})
}
