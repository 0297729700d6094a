package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dshills/pycontext-mcp/internal/retry"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "local-embeddings"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultTimeout = 120 * time.Second
)

var (
	_ Embedder = (*JinaProvider)(nil)
	_ Embedder = (*OpenAIProvider)(nil)
	_ Embedder = (*OllamaProvider)(nil)
	_ Embedder = (*LocalProvider)(nil)
)

// httpProvider implements Embedder against an OpenAI-compatible
// /embeddings endpoint. Jina and OpenAI share the wire format.
type httpProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	dimParam   bool // send the dimensions request field
	httpClient *http.Client
	cache      *Cache
	retry      retry.Config
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func newHTTPProvider(name string, cfg Config, cache *Cache, defaultURL, defaultModel string, defaultDim int) httpProvider {
	p := httpProvider{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		dimParam:   cfg.Dimension > 0,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		retry:      retry.DefaultConfig().WithAttempts(cfg.MaxAttempts),
	}
	if p.baseURL == "" {
		p.baseURL = defaultURL
	}
	if p.model == "" {
		p.model = defaultModel
	}
	if p.dimension <= 0 {
		p.dimension = defaultDim
	}
	if cfg.Timeout <= 0 {
		p.httpClient.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		p.retry = retry.DefaultConfig()
	}
	return p
}

func (p *httpProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	// Use batch API for consistency
	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (p *httpProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	embeddings, err := batchWithCache(ctx, p.cache, model, req.Texts, func(texts []string) ([]*Embedding, error) {
		return retry.Do(ctx, p.retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, texts, model)
		})
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

func (p *httpProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := embeddingsRequest{
		Input: texts,
		Model: model,
	}
	if p.dimParam {
		reqBody.Dimensions = p.dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, retry.Permanent(fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(apiResp.Data), len(texts)))
	}

	// The API may return data out of order, index is authoritative
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	if apiResp.Model == "" {
		apiResp.Model = model
	}
	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     apiResp.Model,
		}
	}

	return embeddings, nil
}

func (p *httpProvider) Dimension() int {
	return p.dimension
}

func (p *httpProvider) Provider() string {
	return p.name
}

func (p *httpProvider) Model() string {
	return p.model
}

func (p *httpProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// JinaProvider implements Embedder using Jina AI API
type JinaProvider struct {
	httpProvider
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(cfg Config, cache *Cache) (*JinaProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}

	return &JinaProvider{
		httpProvider: newHTTPProvider(ProviderJina, cfg, cache, DefaultJinaBaseURL, DefaultJinaModel, JinaDimension),
	}, nil
}

// OpenAIProvider implements Embedder using OpenAI API or any compatible
// gateway reachable under BaseURL
type OpenAIProvider struct {
	httpProvider
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	return &OpenAIProvider{
		httpProvider: newHTTPProvider(ProviderOpenAI, cfg, cache, DefaultOpenAIBaseURL, DefaultOpenAIModel, OpenAIDimension),
	}, nil
}

// OllamaProvider implements Embedder using a local Ollama server
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      retry.Config
}

// NewOllamaProvider creates a new Ollama embedder
func NewOllamaProvider(cfg Config, cache *Cache) (*OllamaProvider, error) {
	p := newHTTPProvider(ProviderOllama, cfg, cache, DefaultOllamaBaseURL, DefaultOllamaModel, OllamaDimension)
	return &OllamaProvider{
		baseURL:    p.baseURL,
		model:      p.model,
		dimension:  p.dimension,
		httpClient: p.httpClient,
		cache:      cache,
		retry:      p.retry,
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	embeddings, err := batchWithCache(ctx, o.cache, model, req.Texts, func(texts []string) ([]*Embedding, error) {
		return retry.Do(ctx, o.retry, func() ([]*Embedding, error) {
			return o.callAPI(ctx, texts, model)
		})
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      model,
	}, nil
}

// callAPI uses the batch /api/embed endpoint
func (o *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": model,
		"input": texts,
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var apiResp struct {
		Model      string      `json:"model"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embeddings) != len(texts) {
		return nil, retry.Permanent(fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(apiResp.Embeddings), len(texts)))
	}

	embeddings := make([]*Embedding, len(apiResp.Embeddings))
	for i, vector := range apiResp.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    vector,
			Dimension: len(vector),
			Provider:  ProviderOllama,
			Model:     model,
		}
	}
	return embeddings, nil
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives deterministic vectors from SHA-256 of the text.
// It needs no network and is meant for offline use and tests; vectors carry
// no semantic similarity beyond exact text equality.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cfg Config, cache *Cache) (*LocalProvider, error) {
	l := &LocalProvider{
		model:     cfg.Model,
		dimension: cfg.Dimension,
		cache:     cache,
	}
	if l.model == "" {
		l.model = DefaultLocalModel
	}
	if l.dimension <= 0 {
		l.dimension = LocalDimension
	}
	return l, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.cache != nil {
		if emb, ok := l.cache.Get(l.model, req.Text); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    localVector(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ComputeHash(req.Text),
	}

	if l.cache != nil {
		l.cache.Set(l.model, req.Text, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// localVector expands SHA-256 in counter mode to fill dim components in
// [-1, 1], then normalizes to unit length
func localVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	var block [sha256.Size]byte
	var counter [4]byte
	for i := 0; i < dim; i++ {
		offset := (i * 2) % sha256.Size
		if offset == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i))
			h := sha256.New()
			h.Write(counter[:])
			h.Write([]byte(text))
			copy(block[:], h.Sum(nil))
		}
		v := binary.BigEndian.Uint16(block[offset : offset+2])
		vector[i] = float32(v)/float32(math.MaxUint16)*2 - 1
	}
	return NormalizeVector(vector)
}

// batchWithCache serves cached texts from cache and sends the rest to fetch
// in chunks of at most MaxBatchSize, preserving input order
func batchWithCache(ctx context.Context, cache *Cache, model string, texts []string, fetch func([]string) ([]*Embedding, error)) ([]*Embedding, error) {
	embeddings := make([]*Embedding, len(texts))
	var missing []int
	for i, text := range texts {
		if cache != nil {
			if emb, ok := cache.Get(model, text); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := missing[start:min(start+MaxBatchSize, len(missing))]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		fetched, err := fetch(batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}
		if len(fetched) != len(batch) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(fetched), len(batch))
		}

		for j, i := range idx {
			emb := fetched[j]
			emb.Hash = ComputeHash(texts[i])
			if cache != nil {
				cache.Set(model, texts[i], emb)
			}
			embeddings[i] = emb
		}
	}

	return embeddings, nil
}

// checkStatus turns a non-200 response into an error. 429 and 5xx are
// retryable, other statuses are permanent.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bytes.TrimSpace(bodyBytes)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return retry.Permanent(err)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
