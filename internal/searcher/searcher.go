package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

const (
	// DefaultTopK is the number of documents retrieved per partition
	DefaultTopK = 3

	defaultCacheSize = 1000
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrIncompleteResults is returned with a partial result when at least
	// one partition search failed
	ErrIncompleteResults = errors.New("incomplete results")
)

// Config contains configuration for the searcher
type Config struct {
	TopK      int           // Documents per partition (default: 3)
	CacheSize int           // Cached results, 0 uses the default
	CacheTTL  time.Duration // 0 disables result caching
}

// Result holds the documents retrieved from every partition. Partitions
// are independent: documents are ranked within their partition only.
type Result struct {
	Query      string
	Partitions map[types.Partition][]types.Document
	Errors     map[types.Partition]string
	Complete   bool
	Duration   time.Duration
	CacheHit   bool
}

// MarshalJSON renders each partition under its retrieval key, for example
// code_function_retrieval
func (r *Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"query":    r.Query,
		"complete": r.Complete,
	}
	for p, docs := range r.Partitions {
		out[p.RetrievalKey()] = docs
	}
	if len(r.Errors) > 0 {
		errs := make(map[string]string, len(r.Errors))
		for p, msg := range r.Errors {
			errs[p.RetrievalKey()] = msg
		}
		out["errors"] = errs
	}
	return json.Marshal(out)
}

// cacheEntry represents a cached result with expiration time
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Searcher embeds a query once and searches every partition concurrently
type Searcher struct {
	embedder embedder.Embedder
	stores   []storage.DocumentStore
	topK     int
	cacheTTL time.Duration
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// New creates a searcher over stores
func New(emb embedder.Embedder, cfg Config, stores ...storage.DocumentStore) *Searcher {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		embedder: emb,
		stores:   stores,
		topK:     cfg.TopK,
		cacheTTL: cfg.CacheTTL,
		cache:    cache,
	}
}

// TopK returns the number of documents retrieved per partition
func (s *Searcher) TopK() int {
	return s.topK
}

// partitionResult holds the outcome of one partition search
type partitionResult struct {
	index int
	docs  []types.Document
	err   error
}

// Retrieve embeds query exactly once and runs one search per partition
// with the same vector. When a partition fails the result still carries
// the other partitions, Complete is false and the returned error wraps
// ErrIncompleteResults.
func (s *Searcher) Retrieve(ctx context.Context, query string) (*Result, error) {
	return s.RetrieveTopK(ctx, query, s.topK)
}

// RetrieveTopK is Retrieve with an explicit per-partition limit.
// A non-positive topK uses the configured one.
func (s *Searcher) RetrieveTopK(ctx context.Context, query string, topK int) (*Result, error) {
	startTime := time.Now()
	if topK <= 0 {
		topK = s.topK
	}

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	if cached := s.checkCache(query, topK); cached != nil {
		cached.CacheHit = true
		cached.Duration = time.Since(startTime)
		return cached, nil
	}

	vector, err := embedder.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	resultChan := make(chan partitionResult, len(s.stores))
	for i, store := range s.stores {
		go func() {
			docs, err := store.Search(ctx, vector, topK)
			resultChan <- partitionResult{index: i, docs: docs, err: err}
		}()
	}

	results := make([]partitionResult, len(s.stores))
	for range s.stores {
		select {
		case res := <-resultChan:
			results[res.index] = res
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := &Result{
		Query:      query,
		Partitions: make(map[types.Partition][]types.Document, len(s.stores)),
		Complete:   true,
	}
	var errs []error
	for i, res := range results {
		partition := s.stores[i].Partition()
		if res.err != nil {
			if result.Errors == nil {
				result.Errors = make(map[types.Partition]string)
			}
			result.Errors[partition] = res.err.Error()
			result.Complete = false
			errs = append(errs, fmt.Errorf("%s: %w", partition, res.err))
			continue
		}
		if res.docs == nil {
			res.docs = []types.Document{}
		}
		result.Partitions[partition] = res.docs
	}
	result.Duration = time.Since(startTime)

	if !result.Complete {
		zerolog.Ctx(ctx).Warn().
			Str("query", query).
			Int("failed", len(errs)).
			Msg("retrieval incomplete")
		return result, fmt.Errorf("%w: %w", ErrIncompleteResults, errors.Join(errs...))
	}

	s.storeInCache(query, topK, result)
	return result, nil
}

// checkCache returns a copy of a live cached result, or nil
func (s *Searcher) checkCache(query string, topK int) *Result {
	if s.cacheTTL <= 0 {
		return nil
	}
	hash := queryHash(query, topK)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		// Remove expired entry - need write lock
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	result := copyResult(entry.result)
	s.cacheMu.RUnlock()
	return result
}

// storeInCache saves a copy of a complete result
func (s *Searcher) storeInCache(query string, topK int, result *Result) {
	if s.cacheTTL <= 0 {
		return
	}
	entry := &cacheEntry{
		result:    copyResult(result),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(queryHash(query, topK), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached result. Call it after re-indexing.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached results
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

func queryHash(query string, topK int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, topK)))
}

// copyResult creates a deep copy of a Result
func copyResult(src *Result) *Result {
	dst := &Result{
		Query:      src.Query,
		Partitions: make(map[types.Partition][]types.Document, len(src.Partitions)),
		Complete:   src.Complete,
		Duration:   src.Duration,
		CacheHit:   src.CacheHit,
	}
	for p, docs := range src.Partitions {
		copied := make([]types.Document, len(docs))
		for i, d := range docs {
			d.Meta = d.Meta.Clone()
			copied[i] = d
		}
		dst.Partitions[p] = copied
	}
	if src.Errors != nil {
		dst.Errors = make(map[types.Partition]string, len(src.Errors))
		for p, msg := range src.Errors {
			dst.Errors[p] = msg
		}
	}
	return dst
}
