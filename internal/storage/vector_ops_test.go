package storage

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// seedVectors writes count documents with distinct 384-dimension vectors
func seedVectors(tb testing.TB, store *Store, count int) {
	tb.Helper()
	docs := make([]types.Document, count)
	for i := range docs {
		vector := make([]float32, 384)
		for j := range vector {
			vector[j] = float32(math.Sin(float64(i*384+j) * 0.01))
		}
		docs[i] = testDoc(fmt.Sprintf("summary %d", i), fmt.Sprintf("def f%d(): pass", i), vector...)
	}
	_, err := store.Upsert(context.Background(), docs, PolicyOverwrite)
	require.NoError(tb, err)
}

func queryVector384() []float32 {
	v := make([]float32, 384)
	for i := range v {
		v[i] = float32(i) * 0.01
	}
	return v
}

func TestSearch_Ranking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFunction)

	_, err := store.Upsert(ctx, []types.Document{
		testDoc("exact", "a", 1, 0, 0),
		testDoc("orthogonal", "b", 0, 1, 0),
		testDoc("close", "c", 0.9, 0.1, 0),
		testDoc("opposite", "d", -1, 0, 0),
	}, PolicyOverwrite)
	require.NoError(t, err)

	results, err := store.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Content)
	assert.Equal(t, "close", results[1].Content)
	assert.Equal(t, "orthogonal", results[2].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "a", results[0].Meta.String(types.MetaRawData))
	assert.Empty(t, results[0].Embedding)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_FewerThanTopK(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionClass)

	_, err := store.Upsert(ctx, []types.Document{testDoc("only", "class A: pass", 1, 1)}, PolicyOverwrite)
	require.NoError(t, err)

	results, err := store.Search(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_SkipsDimensionMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFile)

	_, err := store.Upsert(ctx, []types.Document{
		testDoc("three", "a", 1, 0, 0),
		testDoc("two", "b", 1, 0),
	}, PolicyOverwrite)
	require.NoError(t, err)

	results, err := store.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "three", results[0].Content)
}

func TestSearch_EdgeCases(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFunction)
	seedVectors(t, store, 5)

	t.Run("empty partition", func(t *testing.T) {
		results, err := db.Partition(types.PartitionClass).Search(ctx, queryVector384(), 3)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("zero top k", func(t *testing.T) {
		results, err := store.Search(ctx, queryVector384(), 0)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("negative top k", func(t *testing.T) {
		results, err := store.Search(ctx, queryVector384(), -1)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty query vector", func(t *testing.T) {
		_, err := store.Search(ctx, []float32{}, 3)
		assert.ErrorIs(t, err, types.ErrStoreFailure)
	})

	t.Run("negative limit below the store", func(t *testing.T) {
		results, err := searchVector(ctx, db.db, types.PartitionFunction, queryVector384(), -1)
		require.NoError(t, err)
		assert.NotNil(t, results)
	})
}

func TestSearch_Deterministic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFunction)

	// Identical vectors tie on score and rank by id
	_, err := store.Upsert(ctx, []types.Document{
		testDoc("one", "x", 1, 0),
		testDoc("two", "y", 1, 0),
		testDoc("three", "z", 1, 0),
	}, PolicyOverwrite)
	require.NoError(t, err)

	first, err := store.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	second, err := store.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].ID, first[i].ID)
	}
}

// TestVectorSearchOptimization verifies that the optimized vector search
// agrees with the fallback implementation
func TestVectorSearchOptimization(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	db := setupTestDB(t)
	ctx := context.Background()
	seedVectors(t, db.Partition(types.PartitionFunction), 30)

	for _, limit := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			optimized, err := searchVectorOptimized(ctx, db.db, types.PartitionFunction, queryVector384(), limit)
			require.NoError(t, err)
			fallback, err := searchVectorFallback(ctx, db.db, types.PartitionFunction, queryVector384(), limit)
			require.NoError(t, err)

			require.Equal(t, len(fallback), len(optimized))
			// sqlite-vec computes in float32, so compare scores with a tolerance
			for i := range optimized {
				assert.InDelta(t, fallback[i].Score, optimized[i].Score, 1e-3)
			}
		})
	}
}

func TestVectorSerialization(t *testing.T) {
	vector := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := SerializeVector(vector)
	assert.Len(t, blob, 16)
	assert.Equal(t, vector, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

// BenchmarkVectorSearchFallback benchmarks the fallback vector search
func BenchmarkVectorSearchFallback(b *testing.B) {
	db, err := OpenMemory()
	require.NoError(b, err)
	defer db.Close()

	ctx := context.Background()
	seedVectors(b, db.Partition(types.PartitionFunction), 300)
	query := queryVector384()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := searchVectorFallback(ctx, db.db, types.PartitionFunction, query, 3)
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkVectorSearchOptimized benchmarks the optimized vector search
func BenchmarkVectorSearchOptimized(b *testing.B) {
	if !VectorExtensionAvailable {
		b.Skip("Skipping benchmark: sqlite-vec extension not available")
	}

	db, err := OpenMemory()
	require.NoError(b, err)
	defer db.Close()

	ctx := context.Background()
	seedVectors(b, db.Partition(types.PartitionFunction), 300)
	query := queryVector384()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := searchVectorOptimized(ctx, db.db, types.PartitionFunction, query, 3)
		if err != nil {
			b.Fatal(err)
		}
	}
}
