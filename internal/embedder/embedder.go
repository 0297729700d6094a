package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Errors returned by providers
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrCountMismatch     = errors.New("embedding count does not match input count")
)

// Embedding is one vector and the model that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // hex SHA-256 of the embedded text
}

// EmbeddingRequest asks for the vector of a single text
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest asks for the vectors of many texts at once
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse carries one embedding per requested text, in
// request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns text into vectors. Summaries are embedded with
// GenerateBatch and queries with GenerateEmbedding, so both must produce
// vectors in the same space.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch accepts any number of texts. Providers split them
	// into API-sized requests internally.
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// cacheKey scopes a text digest by model so switching models never
// returns vectors from another embedding space
type cacheKey struct {
	model  string
	digest [sha256.Size]byte
}

func newCacheKey(model, text string) cacheKey {
	return cacheKey{model: model, digest: sha256.Sum256([]byte(text))}
}

// Cache is an LRU of embeddings keyed by model and text. It stores and
// hands out copies, so callers may modify the vectors they get.
type Cache struct {
	lru *lru.Cache[cacheKey, *Embedding]
}

// NewCache creates a cache holding at most maxLen embeddings
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, *Embedding](maxLen)
	if err != nil {
		panic(fmt.Sprintf("embedding cache: %v", err))
	}
	return &Cache{lru: c}
}

// Get returns a copy of the embedding of text under model
func (c *Cache) Get(model, text string) (*Embedding, bool) {
	emb, ok := c.lru.Get(newCacheKey(model, text))
	if !ok {
		return nil, false
	}
	return emb.clone(), true
}

// Set stores a copy of emb as the embedding of text under model
func (c *Cache) Set(model, text string, emb *Embedding) {
	c.lru.Add(newCacheKey(model, text), emb.clone())
}

// Size returns the number of cached embeddings
func (c *Cache) Size() int {
	return c.lru.Len()
}

// Clear drops every cached embedding
func (c *Cache) Clear() {
	c.lru.Purge()
}

func (e *Embedding) clone() *Embedding {
	dup := *e
	dup.Vector = append([]float32(nil), e.Vector...)
	return &dup
}

// ComputeHash returns the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects an empty text
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects an empty batch or any empty text in it
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
