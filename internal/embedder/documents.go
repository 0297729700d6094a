package embedder

import (
	"context"
	"fmt"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// EmbedDocuments embeds the content of every document in a single logical
// batch call and returns copies with vectors attached, in input order.
// The input documents are not modified.
func EmbedDocuments(ctx context.Context, emb Embedder, docs []types.Document) ([]types.Document, error) {
	if len(docs) == 0 {
		return []types.Document{}, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.Content == "" {
			return nil, fmt.Errorf("%w: document %d", types.ErrEmptyContent, i)
		}
		texts[i] = doc.Content
	}

	resp, err := emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(resp.Embeddings), len(docs))
	}

	out := make([]types.Document, len(docs))
	for i, doc := range docs {
		doc.Meta = doc.Meta.Clone()
		doc.Embedding = resp.Embeddings[i].Vector
		out[i] = doc
	}
	return out, nil
}

// EmbedQuery embeds a single query text
func EmbedQuery(ctx context.Context, emb Embedder, text string) ([]float32, error) {
	e, err := emb.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return e.Vector, nil
}
