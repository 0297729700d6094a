package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// memoryPath opens a private in-memory database
const memoryPath = ":memory:"

// columnFields maps metadata fields to their generated lookup columns
var columnFields = map[string]string{
	"id":              "id",
	types.MetaPath:    "path",
	types.MetaName:    "name",
	types.MetaRawData: "raw_data",
}

// DB is a SQLite database holding every partition in one documents table
type DB struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrency
	if dbPath != memoryPath {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Open opens or creates the database at path and applies pending migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrStoreFailure, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply migrations: %v", types.ErrStoreFailure, err)
	}

	return &DB{db: db, path: path}, nil
}

// OpenMemory opens a private in-memory database
func OpenMemory() (*DB, error) {
	return Open(memoryPath)
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Partition returns the store for one partition. Handles are cheap and
// share the underlying connection.
func (d *DB) Partition(name types.Partition) *Store {
	return &Store{db: d, partition: name}
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn inside a transaction, rolling back when it fails
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Store is the SQLite DocumentStore of one partition
type Store struct {
	db        *DB
	partition types.Partition
}

var _ DocumentStore = (*Store)(nil)

// Partition returns the partition name
func (s *Store) Partition() types.Partition {
	return s.partition
}

const (
	insertDocument = `
		INSERT INTO documents (partition, id, content, meta, vector, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	onConflictOverwrite = `
		ON CONFLICT(partition, id) DO UPDATE SET
			content = excluded.content,
			meta = excluded.meta,
			vector = excluded.vector,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	onConflictSkip = ` ON CONFLICT(partition, id) DO NOTHING`
)

// Upsert writes docs in a single transaction
func (s *Store) Upsert(ctx context.Context, docs []types.Document, policy DuplicatePolicy) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	docs = withIDs(docs)
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return 0, fmt.Errorf("%w: document %d: %w", types.ErrStoreFailure, i, err)
		}
	}

	query := insertDocument
	switch policy {
	case PolicyOverwrite:
		query += onConflictOverwrite
	case PolicySkip:
		query += onConflictSkip
	case PolicyFail:
	default:
		return 0, fmt.Errorf("%w: unknown duplicate policy %d", types.ErrStoreFailure, policy)
	}

	written := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for _, doc := range docs {
			if policy == PolicyFail {
				exists, err := s.exists(ctx, tx, doc.ID)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s in %s", ErrDuplicateDocument, doc.ID, s.partition)
				}
			}

			meta, err := encodeMeta(doc.Meta)
			if err != nil {
				return err
			}
			result, err := stmt.ExecContext(ctx,
				string(s.partition), doc.ID, doc.Content, meta,
				serializeVector(doc.Embedding), len(doc.Embedding), now, now)
			if err != nil {
				return fmt.Errorf("write document %s: %w", doc.ID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrStoreFailure, err)
	}

	return written, nil
}

func (s *Store) exists(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE partition = ? AND id = ?",
		string(s.partition), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return true, nil
}

// Delete removes the documents of this partition matching filter. The zero
// Filter removes every document in the partition.
func (s *Store) Delete(ctx context.Context, filter Filter) (int, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}

	query := "DELETE FROM documents WHERE partition = ?" + where
	args = append([]any{string(s.partition)}, args...)

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete documents: %v", types.ErrStoreFailure, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrStoreFailure, err)
	}
	return int(n), nil
}

// Search ranks the documents of this partition by cosine similarity
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]types.Document, error) {
	if topK <= 0 {
		return []types.Document{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrStoreFailure)
	}

	docs, err := searchVector(ctx, s.db.db, s.partition, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreFailure, err)
	}
	return docs, nil
}

// Count returns the number of documents in this partition
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE partition = ?",
		string(s.partition)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count documents: %v", types.ErrStoreFailure, err)
	}
	return n, nil
}

// Get returns one document by id
func (s *Store) Get(ctx context.Context, id string) (*types.Document, error) {
	var content, meta string
	var blob []byte
	err := s.db.db.QueryRowContext(ctx,
		"SELECT content, meta, vector FROM documents WHERE partition = ? AND id = ?",
		string(s.partition), id).Scan(&content, &meta, &blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", types.ErrStoreFailure, err)
	}

	decoded, err := decodeMeta(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreFailure, err)
	}
	return &types.Document{
		ID:        id,
		Content:   content,
		Meta:      decoded,
		Embedding: deserializeVector(blob),
	}, nil
}

// compileFilter turns filter into an SQL fragment starting with " AND".
// List values are bound as one JSON array and expanded with json_each, so
// the number of placeholders does not depend on the list size.
func compileFilter(filter Filter) (string, []any, error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := make([]any, 0, len(filter.Conditions))
	for _, c := range filter.Conditions {
		col := fieldExpr(c.Field)
		switch c.Operator {
		case OpEqual:
			fmt.Fprintf(&b, " AND %s = ?", col)
			args = append(args, c.Value)
		case OpNotEqual:
			fmt.Fprintf(&b, " AND %s IS NOT ?", col)
			args = append(args, c.Value)
		case OpIn, OpNotIn:
			values, _ := listValues(c.Value)
			list, err := json.Marshal(values)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
			}
			if c.Operator == OpIn {
				fmt.Fprintf(&b, " AND %s IN (SELECT value FROM json_each(?))", col)
			} else {
				fmt.Fprintf(&b, " AND (%s IS NULL OR %s NOT IN (SELECT value FROM json_each(?)))", col, col)
			}
			args = append(args, string(list))
		}
	}
	return b.String(), args, nil
}

// fieldExpr resolves a validated field name to a column or JSON path
func fieldExpr(field string) string {
	if col, ok := columnFields[field]; ok {
		return col
	}
	return fmt.Sprintf("json_extract(meta, '$.%s')", field)
}

func encodeMeta(meta types.Metadata) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (types.Metadata, error) {
	meta := types.Metadata{}
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// PartitionStatus reports the size of one partition
type PartitionStatus struct {
	Partition types.Partition `json:"partition"`
	Documents int             `json:"documents"`
}

// Status describes the database and its partitions
type Status struct {
	Path          string            `json:"path"`
	SchemaVersion string            `json:"schema_version"`
	BuildMode     string            `json:"build_mode"`
	Driver        string            `json:"driver"`
	VectorSearch  string            `json:"vector_search"`
	SizeBytes     int64             `json:"size_bytes"`
	Partitions    []PartitionStatus `json:"partitions"`
}

// Status reports document counts for the known partitions and database
// details
func (d *DB) Status(ctx context.Context) (*Status, error) {
	version, err := SchemaVersion(ctx, d.db)
	if err != nil {
		return nil, fmt.Errorf("%w: read schema version: %v", types.ErrStoreFailure, err)
	}

	var pageCount, pageSize int64
	if err := d.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("%w: read page count: %v", types.ErrStoreFailure, err)
	}
	if err := d.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("%w: read page size: %v", types.ErrStoreFailure, err)
	}

	status := &Status{
		Path:          d.path,
		SchemaVersion: version,
		BuildMode:     BuildMode,
		Driver:        DriverName,
		VectorSearch:  "go",
		SizeBytes:     pageCount * pageSize,
	}
	if VectorExtensionAvailable {
		status.VectorSearch = "sqlite-vec"
	}

	for _, p := range types.AllPartitions() {
		n, err := d.Partition(p).Count(ctx)
		if err != nil {
			return nil, err
		}
		status.Partitions = append(status.Partitions, PartitionStatus{Partition: p, Documents: n})
	}
	return status, nil
}
