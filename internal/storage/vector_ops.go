package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// searchVector performs vector similarity search using cosine similarity.
// Only documents whose dimension matches the query are ranked.
func searchVector(ctx context.Context, db *sql.DB, partition types.Partition, queryVector []float32, limit int) ([]types.Document, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, partition, queryVector, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, partition, queryVector, limit)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, partition types.Partition, queryVector []float32, limit int) ([]types.Document, error) {
	// Note: sqlite-vec's vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT
			id, content, meta,
			1.0 - vec_distance_cosine(vector, ?) as similarity
		FROM documents
		WHERE partition = ? AND dimension = ?
		ORDER BY similarity DESC, id
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query,
		serializeVector(queryVector), string(partition), len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Results are already sorted and limited by SQL
	results := make([]candidate, 0, max(limit, 0))
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.content, &c.meta, &c.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return buildDocuments(results, limit)
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, db *sql.DB, partition types.Partition, queryVector []float32, limit int) ([]types.Document, error) {
	query := `
		SELECT id, content, meta, vector
		FROM documents
		WHERE partition = ? AND dimension = ?
	`
	rows, err := db.QueryContext(ctx, query, string(partition), len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Compute similarity scores and rank in Go
	candidates, err := computeSimilarityScores(rows, queryVector)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	return buildDocuments(candidates, limit)
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var c candidate
		var vectorBlob []byte
		if err := rows.Scan(&c.id, &c.content, &c.meta, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		c.score = cosineSimilarity(queryVector, vector)
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// buildDocuments decodes the first limit candidates
func buildDocuments(candidates []candidate, limit int) ([]types.Document, error) {
	if limit > len(candidates) {
		limit = len(candidates)
	}
	if limit < 0 {
		limit = 0
	}

	docs := make([]types.Document, limit)
	for i := 0; i < limit; i++ {
		meta, err := decodeMeta(candidates[i].meta)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", candidates[i].id, err)
		}
		docs[i] = types.Document{
			ID:      candidates[i].id,
			Content: candidates[i].content,
			Meta:    meta,
			Score:   candidates[i].score,
		}
	}
	return docs, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a scored document row
type candidate struct {
	id      string
	content string
	meta    string
	score   float64
}

// sortCandidates sorts candidates by score in descending order, ties broken
// by id so equal scores rank the same way every time
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
