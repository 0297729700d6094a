package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Ensure OpenAI implements the interface.
var _ Completer = (*OpenAI)(nil)

// OpenAI defaults
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
)

// OpenAI generates completions with the /chat/completions API
type OpenAI struct {
	transport *transport
	baseURL   string
	model     string
}

// chatCompletionRequest is the OpenAI /chat/completions request format.
type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []chatCompletionMsg `json:"messages"`
	N              int                 `json:"n,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

// chatCompletionMsg is the OpenAI chat message format.
type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string             `json:"name"`
	Strict bool               `json:"strict,omitempty"`
	Schema *jsonschema.Schema `json:"schema"`
}

// chatCompletionResponse is the OpenAI /chat/completions response format.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// chatCompletionChunk is one server-sent event in streaming mode
type chatCompletionChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAI creates an OpenAI completer. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	return &OpenAI{
		transport: newTransport(cfg, map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}),
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
	}, nil
}

// Complete sends one chat completion request
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	body := chatCompletionRequest{
		Model:       o.model,
		Messages:    buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: &req.Temperature,
		Stream:      req.Stream != nil,
	}
	if n := replyCount(req); n > 1 {
		body.N = n
	}
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   req.Schema.Name,
				Strict: req.Schema.Strict,
				Schema: req.Schema.Schema,
			},
		}
	}

	resp, err := o.transport.post(ctx, o.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", types.ErrGenerationFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var completion *Completion
	if req.Stream != nil {
		completion, err = o.readStream(resp.Body, req.Stream)
	} else {
		completion, err = o.readResponse(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", types.ErrGenerationFailure, err)
	}
	return completion, nil
}

func (o *OpenAI) readResponse(r io.Reader) (*Completion, error) {
	var chatResp chatCompletionResponse
	if err := json.NewDecoder(r).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("openai error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choices := chatResp.Choices
	sort.SliceStable(choices, func(i, j int) bool {
		return choices[i].Index < choices[j].Index
	})

	completion := &Completion{
		Replies: make([]string, len(choices)),
		Meta:    make([]Meta, len(choices)),
	}
	for i, choice := range choices {
		completion.Replies[i] = choice.Message.Content
		completion.Meta[i] = Meta{
			Model:        chatResp.Model,
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
			Usage:        chatResp.Usage,
		}
	}
	return completion, nil
}

// readStream consumes server-sent events until [DONE] and folds every delta
// into a single reply
func (o *OpenAI) readStream(r io.Reader, callback func(Chunk)) (*Completion, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	meta := Meta{Model: o.model}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte(sseDataPrefix)) {
			continue
		}
		data := bytes.TrimSpace(line[len(sseDataPrefix):])
		if string(data) == sseDone {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Model != "" {
			meta.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			c := Chunk{Content: choice.Delta.Content, Index: choice.Index}
			if choice.FinishReason != nil {
				c.FinishReason = *choice.FinishReason
				meta.FinishReason = c.FinishReason
			}
			content.WriteString(c.Content)
			callback(c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	return &Completion{
		Replies: []string{content.String()},
		Meta:    []Meta{meta},
	}, nil
}

// Model returns the configured model
func (o *OpenAI) Model() string {
	return o.model
}

// Close releases idle connections
func (o *OpenAI) Close() error {
	o.transport.close()
	return nil
}

func buildMessages(req Request) []chatCompletionMsg {
	messages := make([]chatCompletionMsg, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, chatCompletionMsg{Role: "system", Content: req.SystemPrompt})
	}
	return append(messages, chatCompletionMsg{Role: "user", Content: req.Prompt})
}
