package embedder

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// shortEmbedder answers every batch with one embedding too few
type shortEmbedder struct {
	LocalProvider
}

func (s *shortEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	resp, err := s.LocalProvider.GenerateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Embeddings = resp.Embeddings[:len(resp.Embeddings)-1]
	return resp, nil
}

func summaries(n int) []types.Document {
	docs := make([]types.Document, n)
	for i := range docs {
		docs[i] = types.Document{
			Content: fmt.Sprintf("summary %d", i),
			Meta:    types.Metadata{types.MetaName: fmt.Sprintf("f%d", i)},
		}
	}
	return docs
}

func TestEmbedDocuments_CountMismatch(t *testing.T) {
	local, err := NewLocalProvider(Config{Dimension: 4}, nil)
	require.NoError(t, err)
	docs := summaries(3)

	out, err := EmbedDocuments(t.Context(), &shortEmbedder{LocalProvider: *local}, docs)
	assert.ErrorIs(t, err, ErrCountMismatch)
	assert.Contains(t, err.Error(), "got 2, want 3")
	assert.Nil(t, out)
	for _, doc := range docs {
		assert.Nil(t, doc.Embedding, "input documents are left untouched")
	}
}

func TestEmbedDocuments_SplitsLargeBatches(t *testing.T) {
	var calls atomic.Int32
	server := fakeEmbeddingsServer(t, &calls, true)
	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL}, NewCache(MaxBatchSize*3))
	require.NoError(t, err)

	docs := summaries(MaxBatchSize + 7)
	out, err := EmbedDocuments(t.Context(), provider, docs)
	require.NoError(t, err)
	require.Len(t, out, len(docs))
	assert.Equal(t, int32(2), calls.Load())

	for i, doc := range out {
		assert.Equal(t, docs[i].Content, doc.Content)
		assert.Equal(t, float32(len(docs[i].Content)), doc.Embedding[1], "document %d paired with its own vector", i)
	}

	// A second pass over the same summaries is served from the cache
	_, err = EmbedDocuments(t.Context(), provider, docs)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
