package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Finish reasons reported by chat completion APIs
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// ErrEmptyPrompt is returned for a request without a user prompt
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Completer generates text completions from a prompt
type Completer interface {
	// Complete runs one generation request. When req.Stream is set the
	// callback receives every delta as it arrives and the completion holds
	// a single concatenated reply.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Model returns the model name requests are sent to
	Model() string

	// Close releases any resources held by the completer
	Close() error
}

// Request describes one generation call
type Request struct {
	SystemPrompt string
	Prompt       string
	Schema       *ResponseSchema // Optional: constrain replies to a JSON schema
	N            int             // Number of replies, defaults to 1
	MaxTokens    int
	Temperature  float64     // Always sent, so 0 means greedy decoding
	Stream       func(Chunk) // Optional: enables streaming mode
}

// Usage reports token accounting for a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Meta describes one reply
type Meta struct {
	Model        string `json:"model"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Chunk is one streamed delta
type Chunk struct {
	Content      string
	Index        int
	FinishReason string
}

// Completion holds the replies of a request with one Meta per reply
type Completion struct {
	Replies []string
	Meta    []Meta
}

// ResponseSchema constrains replies to structured JSON
type ResponseSchema struct {
	Name   string
	Strict bool
	Schema *jsonschema.Schema
}

// SchemaFor reflects v into an inline JSON schema named name.
// Fields without omitempty are required and unknown properties are rejected.
func SchemaFor(name string, v any) *ResponseSchema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	schema.ID = ""

	return &ResponseSchema{
		Name:   name,
		Strict: true,
		Schema: schema,
	}
}

// ValidateRequest checks a request before any provider work is done
func ValidateRequest(req Request) error {
	if req.Prompt == "" {
		return ErrEmptyPrompt
	}
	if req.N < 0 {
		return fmt.Errorf("invalid reply count %d", req.N)
	}
	if req.Stream != nil && req.N > 1 {
		return types.ErrStreamingMisuse
	}
	return nil
}

// replyCount returns the effective N of a request
func replyCount(req Request) int {
	if req.N <= 0 {
		return 1
	}
	return req.N
}

// CheckFinishReason logs a warning when a reply stopped early.
// It never fails; callers decide whether a truncated reply is usable.
func CheckFinishReason(ctx context.Context, meta []Meta) {
	logger := zerolog.Ctx(ctx)
	for _, m := range meta {
		switch m.FinishReason {
		case FinishLength:
			logger.Warn().
				Err(types.ErrTruncatedGeneration).
				Int("index", m.Index).
				Str("model", m.Model).
				Msg("reply was truncated before a natural stopping point, increase max_tokens")
		case FinishContentFilter:
			logger.Warn().
				Err(types.ErrTruncatedGeneration).
				Int("index", m.Index).
				Str("model", m.Model).
				Msg("reply was omitted or truncated by the content filter")
		}
	}
}
