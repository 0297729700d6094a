package indexer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/internal/parser"
	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// mockCompleter implements llm.Completer for testing. By default every
// reply is {"summary": "summary of <content>"}.
type mockCompleter struct {
	mu        sync.Mutex
	prompts   []string
	requests  []llm.Request
	callCount int

	delay  func(content string) time.Duration
	reply  func(content string) (string, error)
	finish string
}

func newMockCompleter() *mockCompleter {
	return &mockCompleter{}
}

func promptContent(prompt string) string {
	content := strings.TrimPrefix(prompt, "Code: ")
	return strings.TrimSuffix(content, "\n\nPlease generate a summary of the code.")
}

func summaryOf(content string) string {
	return "summary of " + content
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	m.callCount++
	m.prompts = append(m.prompts, req.Prompt)
	m.requests = append(m.requests, req)
	delay, reply, finish := m.delay, m.reply, m.finish
	m.mu.Unlock()

	content := promptContent(req.Prompt)
	if delay != nil {
		select {
		case <-time.After(delay(content)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var text string
	if reply != nil {
		var err error
		if text, err = reply(content); err != nil {
			return nil, err
		}
	} else {
		b, _ := json.Marshal(map[string]string{"summary": summaryOf(content)})
		text = string(b)
	}

	if finish == "" {
		finish = llm.FinishStop
	}
	return &llm.Completion{
		Replies: []string{text},
		Meta:    []llm.Meta{{Model: "mock", FinishReason: finish}},
	}, nil
}

func (m *mockCompleter) Model() string { return "mock" }

func (m *mockCompleter) Close() error { return nil }

func (m *mockCompleter) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// mockEmbedder wraps the local provider and counts calls
type mockEmbedder struct {
	local *embedder.LocalProvider

	mu               sync.Mutex
	batchCalls       int
	batchSizes       []int
	generateBatchErr error
}

func newMockEmbedder(t testing.TB) *mockEmbedder {
	t.Helper()
	local, err := embedder.NewLocalProvider(embedder.Config{Dimension: 16}, nil)
	require.NoError(t, err)
	return &mockEmbedder{local: local}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return m.local.GenerateEmbedding(ctx, req)
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.batchCalls++
	m.batchSizes = append(m.batchSizes, len(req.Texts))
	err := m.generateBatchErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.local.GenerateBatch(ctx, req)
}

func (m *mockEmbedder) Dimension() int   { return m.local.Dimension() }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) getBatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// mockStore records calls and can be made to fail
type mockStore struct {
	partition types.Partition

	mu        sync.Mutex
	deletes   []storage.Filter
	upserts   [][]types.Document
	deleteErr error
	upsertErr error
}

func (m *mockStore) Partition() types.Partition { return m.partition }

func (m *mockStore) Upsert(_ context.Context, docs []types.Document, _ storage.DuplicatePolicy) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.upserts = append(m.upserts, docs)
	return len(docs), nil
}

func (m *mockStore) Delete(_ context.Context, filter storage.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deletes = append(m.deletes, filter)
	return 0, nil
}

func (m *mockStore) Search(context.Context, []float32, int) ([]types.Document, error) {
	return []types.Document{}, nil
}

func (m *mockStore) Count(context.Context) (int, error) { return 0, nil }

func setupTestDB(t testing.TB) *storage.DB {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parseSource(t testing.TB, path, src string) types.ParsedFile {
	t.Helper()
	p := parser.New()
	defer p.Close()
	file, err := p.ParseSource(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return *file
}

const sampleSource = `import os
from pkg import helper

class Greeter:
    def greet(self):
        return "hi"

class Farewell:
    pass

def main():
    Greeter().greet()
`
