package indexer

import (
	"context"
	"fmt"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Writer embeds documents and upserts them into one partition
type Writer struct {
	embedder embedder.Embedder
	store    storage.DocumentStore
}

// NewWriter creates a writer for store
func NewWriter(emb embedder.Embedder, store storage.DocumentStore) *Writer {
	return &Writer{embedder: emb, store: store}
}

// Embed attaches vectors to docs with one batch embedding call
func (w *Writer) Embed(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	if len(docs) == 0 {
		return []types.Document{}, nil
	}
	return embedder.EmbedDocuments(ctx, w.embedder, docs)
}

// Store upserts embedded documents, last write wins
func (w *Writer) Store(ctx context.Context, docs []types.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for i := range docs {
		if !docs[i].HasEmbedding() {
			return 0, fmt.Errorf("%w: document %d", types.ErrMissingEmbedding, i)
		}
	}
	return w.store.Upsert(ctx, docs, storage.PolicyOverwrite)
}

// Write embeds docs and stores them
func (w *Writer) Write(ctx context.Context, docs []types.Document) (int, error) {
	embedded, err := w.Embed(ctx, docs)
	if err != nil {
		return 0, err
	}
	return w.Store(ctx, embedded)
}
