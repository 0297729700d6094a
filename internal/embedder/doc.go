// Package embedder generates vector embeddings for summaries and queries.
//
// The embedder supports multiple embedding providers (Jina AI, OpenAI,
// Ollama, local) and provides batching, caching, and retries for
// production use.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vector, err := embedder.EmbedQuery(ctx, emb, "where is the CSV parser")
//
// # Documents
//
// EmbedDocuments embeds the content of a batch of documents with one logical
// call and returns copies carrying their vectors:
//
//	embedded, err := embedder.EmbedDocuments(ctx, emb, docs)
//
// GenerateBatch accepts any number of texts. Remote providers split them into
// requests of at most MaxBatchSize and skip texts already in the cache.
//
// # Provider Selection
//
// NewFromEnv selects a provider based on environment variables:
//
//  1. If PYCONTEXT_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → fallback to local provider (offline mode)
//
// Explicit configuration goes through New:
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "openai",
//	    APIKey:    key,
//	    BaseURL:   "https://gateway.internal/v1",
//	    Model:     "text-embedding-3-large",
//	    Dimension: 1024,
//	    CacheSize: 10000,
//	})
//
// # Provider Comparison
//
// Jina AI:
//   - Dimensions: 1024
//   - Endpoint: /v1/embeddings
//
// OpenAI (or any compatible gateway):
//   - Dimensions: 1536, reducible with Config.Dimension
//   - Endpoint: /v1/embeddings
//
// Ollama:
//   - Dimensions: 768 (nomic-embed-text)
//   - Endpoint: /api/embed
//
// Local:
//   - Dimensions: 384
//   - Deterministic SHA-256 derived vectors, no network
//
// # Caching
//
// Embeddings are cached in an LRU keyed by model and SHA-256 of the text.
// Cached values are deep copies, so callers may modify returned vectors.
//
// # Error Handling
//
// Transport errors, 429 and 5xx responses are retried with exponential
// backoff. Other statuses fail immediately:
//
//	resp, err := emb.GenerateBatch(ctx, req)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // API unavailable after retries
//	}
package embedder
