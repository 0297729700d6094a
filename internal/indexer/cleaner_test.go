package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

func TestCleaner_DeletesMatchingRawData(t *testing.T) {
	file := parseSource(t, "app.py", sampleSource)
	stores := []*mockStore{{partition: types.PartitionFile}, {partition: types.PartitionClass}}
	cleaner := NewCleaner(false, stores[0], stores[1])

	out, _, err := cleaner.Clean(context.Background(), []types.ParsedFile{file})
	require.NoError(t, err)
	assert.Equal(t, []types.ParsedFile{file}, out, "batch passes through unchanged")

	want := storage.Where(types.MetaRawData, storage.OpIn, []string{
		file.Content,
		file.Classes[0].Content,
		file.Classes[1].Content,
		file.Functions[0].Content,
	})
	for _, s := range stores {
		require.Len(t, s.deletes, 1, s.partition)
		assert.Equal(t, want, s.deletes[0])
	}
}

func TestCleaner_DeduplicatesTexts(t *testing.T) {
	a := parseSource(t, "a.py", "def f():\n    pass\n")
	b := parseSource(t, "b.py", "def f():\n    pass\n")
	store := &mockStore{partition: types.PartitionFunction}

	_, _, err := NewCleaner(false, store).Clean(context.Background(), []types.ParsedFile{a, b})
	require.NoError(t, err)
	require.Len(t, store.deletes, 1)
	assert.Equal(t, []string{"def f():\n    pass\n", "def f():\n    pass"}, store.deletes[0].Conditions[0].Value)
}

func TestCleaner_PurgeStale(t *testing.T) {
	file := parseSource(t, "app.py", "x = 1\n")
	store := &mockStore{partition: types.PartitionFile}

	_, _, err := NewCleaner(true, store).Clean(context.Background(), []types.ParsedFile{file})
	require.NoError(t, err)
	require.Len(t, store.deletes, 2)
	assert.Equal(t, storage.And(
		storage.Where(types.MetaPath, storage.OpIn, []string{"app.py"}),
		storage.Where(types.MetaRawData, storage.OpNotIn, []string{"x = 1\n"}),
	), store.deletes[1])
}

func TestCleaner_EmptyBatch(t *testing.T) {
	store := &mockStore{partition: types.PartitionFile}
	out, n, err := NewCleaner(true, store).Clean(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, n)
	assert.Empty(t, store.deletes)
}

func TestCleaner_StoreFailure(t *testing.T) {
	file := parseSource(t, "app.py", "x = 1\n")
	boom := errors.New("boom")
	ok := &mockStore{partition: types.PartitionFile}
	bad := &mockStore{partition: types.PartitionClass, deleteErr: boom}

	_, _, err := NewCleaner(false, ok, bad).Clean(context.Background(), []types.ParsedFile{file})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.deletes, 1, "the healthy store is still cleaned")
}

func TestCleaner_ReplacesModifiedFunction(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFunction)
	emb := newMockEmbedder(t)

	v1 := parseSource(t, "app.py", "def f():\n    return 1\n\ndef g():\n    return 2\n")
	p, err := NewPipeline(PipelineConfig{
		Granularity: types.GranularityFunction,
		Store:       store,
		Completer:   newMockCompleter(),
		Embedder:    emb,
		PurgeStale:  true,
	})
	require.NoError(t, err)
	_, err = p.Run(ctx, []types.ParsedFile{v1})
	require.NoError(t, err)

	v2 := parseSource(t, "app.py", "def f():\n    return 10\n\ndef g():\n    return 2\n")
	stats, err := p.Run(ctx, []types.ParsedFile{v2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted, "unchanged g and stale f")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := store.Delete(ctx, storage.Where(types.MetaRawData, storage.OpEqual, "def f():\n    return 1"))
	require.NoError(t, err)
	assert.Zero(t, n, "previous generation of f is gone")
}
