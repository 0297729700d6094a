package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	// Use in-memory database for testing
	db, err := OpenMemory()
	require.NoError(t, err)
	require.NotNil(t, db)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testDoc(content, rawData string, vector ...float32) types.Document {
	return types.Document{
		Content: content,
		Meta: types.Metadata{
			types.MetaPath:    "pkg/" + rawData + ".py",
			types.MetaName:    rawData,
			types.MetaRawData: rawData,
		},
		Embedding: vector,
	}
}

func TestOpen(t *testing.T) {
	db := setupTestDB(t)
	assert.NotNil(t, db.db)

	version, err := SchemaVersion(context.Background(), db.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	n, err := db.Partition(types.PartitionFile).Upsert(ctx, []types.Document{testDoc("a", "a", 1, 0)}, PolicyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, db.Close())

	// Reopening keeps the data and does not re-run migrations
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	count, err := db.Partition(types.PartitionFile).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "index.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStoreFailure)
}

func TestUpsert_Overwrite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFunction)

	doc := testDoc("first summary", "def f(): pass", 1, 0, 0)
	doc.ID = "fixed"
	n, err := store.Upsert(ctx, []types.Document{doc}, PolicyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc.Content = "second summary"
	doc.Embedding = []float32{0, 1, 0}
	_, err = store.Upsert(ctx, []types.Document{doc}, PolicyOverwrite)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "second summary", got.Content)
	assert.Equal(t, []float32{0, 1, 0}, got.Embedding)
	assert.Equal(t, "def f(): pass", got.Meta.String(types.MetaRawData))
}

func TestUpsert_AssignsDeterministicIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionClass)

	doc := testDoc("summary", "class A: pass", 1, 1)
	_, err := store.Upsert(ctx, []types.Document{doc, doc}, PolicyOverwrite)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, DocumentID(doc))
	require.NoError(t, err)
	assert.Equal(t, "summary", got.Content)
}

func TestUpsert_Skip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFile)

	doc := testDoc("original", "x = 1", 1, 0)
	doc.ID = "same"
	_, err := store.Upsert(ctx, []types.Document{doc}, PolicyOverwrite)
	require.NoError(t, err)

	doc.Content = "replacement"
	n, err := store.Upsert(ctx, []types.Document{doc}, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestUpsert_Fail(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFile)

	doc := testDoc("original", "x = 1", 1, 0)
	doc.ID = "same"
	_, err := store.Upsert(ctx, []types.Document{doc}, PolicyFail)
	require.NoError(t, err)

	other := testDoc("new", "y = 2", 0, 1)
	_, err = store.Upsert(ctx, []types.Document{other, doc}, PolicyFail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateDocument)
	assert.ErrorIs(t, err, types.ErrStoreFailure)

	// The whole batch is rolled back
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsert_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFile)

	tests := []struct {
		name string
		doc  types.Document
		want error
	}{
		{"empty content", testDoc("", "x", 1), types.ErrEmptyContent},
		{"missing raw data", types.Document{Content: "c", Embedding: []float32{1}}, types.ErrMissingRawData},
		{"missing embedding", testDoc("c", "x"), types.ErrMissingEmbedding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upsert(ctx, []types.Document{testDoc("ok", "ok", 1), tt.doc}, PolicyOverwrite)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, types.ErrStoreFailure)
		})
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsert_Empty(t *testing.T) {
	db := setupTestDB(t)
	n, err := db.Partition(types.PartitionFile).Upsert(context.Background(), nil, PolicyOverwrite)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsert_UnknownPolicy(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Partition(types.PartitionFile).Upsert(context.Background(),
		[]types.Document{testDoc("c", "x", 1)}, DuplicatePolicy(42))
	assert.ErrorIs(t, err, types.ErrStoreFailure)
}

func TestPartitionsAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	doc := testDoc("shared", "raw", 1, 0)
	doc.ID = "same-id"
	for _, p := range types.AllPartitions() {
		_, err := db.Partition(p).Upsert(ctx, []types.Document{doc}, PolicyOverwrite)
		require.NoError(t, err)
	}

	n, err := db.Partition(types.PartitionClass).Delete(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, p := range types.AllPartitions() {
		count, err := db.Partition(p).Count(ctx)
		require.NoError(t, err)
		if p == types.PartitionClass {
			assert.Zero(t, count, p)
		} else {
			assert.Equal(t, 1, count, p)
		}
	}
}

func TestDelete_Filters(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Store {
		db := setupTestDB(t)
		store := db.Partition(types.PartitionFunction)
		docs := []types.Document{
			testDoc("a", "alpha", 1, 0),
			testDoc("b", "beta", 0, 1),
			testDoc("c", "gamma", 1, 1),
		}
		docs[2].Meta["owner"] = "team"
		_, err := store.Upsert(ctx, docs, PolicyOverwrite)
		require.NoError(t, err)
		return store
	}

	tests := []struct {
		name      string
		filter    Filter
		deleted   int
		remaining int
	}{
		{"in on raw data", Where(types.MetaRawData, OpIn, []string{"alpha", "gamma"}), 2, 1},
		{"in with no match", Where(types.MetaRawData, OpIn, []string{"delta"}), 0, 3},
		{"in empty list", Where(types.MetaRawData, OpIn, []string{}), 0, 3},
		{"equal on name", Where(types.MetaName, OpEqual, "beta"), 1, 2},
		{"not equal", Where(types.MetaName, OpNotEqual, "beta"), 2, 1},
		{"not in", Where(types.MetaRawData, OpNotIn, []string{"alpha"}), 2, 1},
		{"json field", Where("owner", OpEqual, "team"), 1, 2},
		{"not equal on missing json field", Where("owner", OpNotEqual, "team"), 2, 1},
		{"conjunction", And(Where(types.MetaPath, OpEqual, "pkg/alpha.py"), Where(types.MetaName, OpEqual, "beta")), 0, 3},
		{"everything", Filter{}, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t)
			n, err := store.Delete(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.deleted, n)

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, count)
		})
	}
}

func TestDelete_InvalidFilter(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Partition(types.PartitionFile).Delete(context.Background(),
		Where("raw_data; DROP TABLE documents", OpEqual, "x"))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Partition(types.PartitionFile).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Partition(types.PartitionFile)

	doc := testDoc("file summary", "import os\n", 1, 0)
	doc.ID = "file"
	doc.Meta[types.MetaImports] = []string{"os", "sys.path"}
	doc.Meta[types.MetaGlobalClasses] = []string{}
	_, err := store.Upsert(ctx, []types.Document{doc}, PolicyOverwrite)
	require.NoError(t, err)

	got, err := store.Get(ctx, "file")
	require.NoError(t, err)
	assert.Equal(t, []string{"os", "sys.path"}, got.Meta.Strings(types.MetaImports))
	assert.Empty(t, got.Meta.Strings(types.MetaGlobalClasses))
	assert.Equal(t, "pkg/import os\n.py", got.Meta.String(types.MetaPath))
}

func TestStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Partition(types.PartitionFunction).Upsert(ctx, []types.Document{
		testDoc("a", "a", 1), testDoc("b", "b", 1),
	}, PolicyOverwrite)
	require.NoError(t, err)

	status, err := db.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.Equal(t, DriverName, status.Driver)
	assert.Positive(t, status.SizeBytes)
	require.Len(t, status.Partitions, 3)

	counts := map[types.Partition]int{}
	for _, p := range status.Partitions {
		counts[p.Partition] = p.Documents
	}
	assert.Equal(t, map[types.Partition]int{
		types.PartitionFile:     0,
		types.PartitionClass:    0,
		types.PartitionFunction: 2,
	}, counts)
}

func TestRollbackMigration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, db.db))

	var n int
	err := db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='documents'").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, ApplyMigrations(ctx, db.db))
	version, err := SchemaVersion(ctx, db.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestDuplicatePolicyString(t *testing.T) {
	assert.Equal(t, "overwrite", PolicyOverwrite.String())
	assert.Equal(t, "skip", PolicySkip.String())
	assert.Equal(t, "fail", PolicyFail.String())
	assert.Equal(t, "unknown", DuplicatePolicy(9).String())
}

func TestDocumentID(t *testing.T) {
	a := testDoc("summary", "raw", 1)
	b := testDoc("summary", "raw", 2)
	c := testDoc("summary", "other", 1)

	assert.Equal(t, DocumentID(a), DocumentID(b), "embedding does not affect the id")
	assert.NotEqual(t, DocumentID(a), DocumentID(c))
	assert.Len(t, DocumentID(a), 36)
}
