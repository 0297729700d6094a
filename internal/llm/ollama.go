package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Ensure Ollama implements the interface.
var _ Completer = (*Ollama)(nil)

// Ollama defaults
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.2"
)

// Ollama generates completions with a local Ollama server
type Ollama struct {
	transport *transport
	baseURL   string
	model     string
}

// ollamaChatRequest is the Ollama /api/chat request format.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []chatCompletionMsg `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   any                 `json:"format,omitempty"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

// ollamaOptions holds generation parameters.
type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ollamaChatResponse is one /api/chat response object. Streaming sends one
// per line with Done set on the last.
type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         chatCompletionMsg `json:"message"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
	Error           string            `json:"error,omitempty"`
}

// NewOllama creates an Ollama completer
func NewOllama(cfg Config) (*Ollama, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	return &Ollama{
		transport: newTransport(cfg, nil),
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
	}, nil
}

// Complete sends one request per reply since Ollama has no n parameter
func (o *Ollama) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	body := ollamaChatRequest{
		Model:    o.model,
		Messages: buildMessages(req),
		Stream:   req.Stream != nil,
	}
	if req.Schema != nil {
		body.Format = req.Schema.Schema
	}
	body.Options = &ollamaOptions{
		NumPredict:  req.MaxTokens,
		Temperature: &req.Temperature,
	}

	n := replyCount(req)
	completion := &Completion{
		Replies: make([]string, 0, n),
		Meta:    make([]Meta, 0, n),
	}
	for i := 0; i < n; i++ {
		reply, meta, err := o.chat(ctx, body, req.Stream)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %w", types.ErrGenerationFailure, err)
		}
		meta.Index = i
		completion.Replies = append(completion.Replies, reply)
		completion.Meta = append(completion.Meta, meta)
	}
	return completion, nil
}

func (o *Ollama) chat(ctx context.Context, body ollamaChatRequest, callback func(Chunk)) (string, Meta, error) {
	resp, err := o.transport.post(ctx, o.baseURL+"/api/chat", body)
	if err != nil {
		return "", Meta{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if callback == nil {
		var chatResp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", Meta{}, fmt.Errorf("decode response: %w", err)
		}
		if chatResp.Error != "" {
			return "", Meta{}, fmt.Errorf("ollama error: %s", chatResp.Error)
		}
		return chatResp.Message.Content, o.meta(chatResp), nil
	}

	return o.readStream(resp.Body, callback)
}

// readStream consumes newline-delimited JSON objects until one reports done
func (o *Ollama) readStream(r io.Reader, callback func(Chunk)) (string, Meta, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	meta := Meta{Model: o.model}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", Meta{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", Meta{}, fmt.Errorf("ollama error: %s", chunk.Error)
		}

		c := Chunk{Content: chunk.Message.Content}
		if chunk.Done {
			meta = o.meta(chunk)
			meta.Usage = Usage{}
			c.FinishReason = meta.FinishReason
		}
		content.WriteString(c.Content)
		callback(c)

		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", Meta{}, fmt.Errorf("read stream: %w", err)
	}

	return content.String(), meta, nil
}

func (o *Ollama) meta(resp ollamaChatResponse) Meta {
	model := resp.Model
	if model == "" {
		model = o.model
	}
	return Meta{
		Model:        model,
		FinishReason: resp.DoneReason,
		Usage: Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
}

// Model returns the configured model
func (o *Ollama) Model() string {
	return o.model
}

// Close releases idle connections
func (o *Ollama) Close() error {
	o.transport.close()
	return nil
}
