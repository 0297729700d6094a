package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateDocument is returned by PolicyFail when an id already exists
	ErrDuplicateDocument = errors.New("duplicate document")
	// ErrInvalidFilter is returned for filters that cannot be evaluated
	ErrInvalidFilter = errors.New("invalid filter")
)

// DocumentStore holds the documents of one named partition
type DocumentStore interface {
	// Partition returns the partition this store reads and writes
	Partition() types.Partition

	// Upsert writes docs atomically and returns how many were written.
	// Every document must carry an embedding. Documents without an ID get
	// one from DocumentID.
	Upsert(ctx context.Context, docs []types.Document, policy DuplicatePolicy) (int, error)

	// Delete removes every document matching filter and returns the count
	Delete(ctx context.Context, filter Filter) (int, error)

	// Search returns up to topK documents ordered by descending similarity
	Search(ctx context.Context, vector []float32, topK int) ([]types.Document, error)

	// Count returns the number of documents in the partition
	Count(ctx context.Context) (int, error)
}

// DuplicatePolicy decides what Upsert does when an id already exists
type DuplicatePolicy int

const (
	// PolicyOverwrite replaces the stored document, last write wins
	PolicyOverwrite DuplicatePolicy = iota
	// PolicySkip keeps the stored document
	PolicySkip
	// PolicyFail aborts the write with ErrDuplicateDocument
	PolicyFail
)

func (p DuplicatePolicy) String() string {
	switch p {
	case PolicyOverwrite:
		return "overwrite"
	case PolicySkip:
		return "skip"
	case PolicyFail:
		return "fail"
	default:
		return "unknown"
	}
}

// documentNamespace scopes document ids generated by DocumentID
var documentNamespace = uuid.MustParse("6f1c8a52-3d0e-5b8f-9a47-2c4e1d7b9f03")

// DocumentID returns a deterministic id for doc derived from its content and
// metadata. Metadata maps are serialized with sorted keys, so equal documents
// always map to the same id.
func DocumentID(doc types.Document) string {
	meta, err := json.Marshal(doc.Meta)
	if err != nil {
		meta = nil
	}
	name := make([]byte, 0, len(doc.Content)+len(meta)+1)
	name = append(name, doc.Content...)
	name = append(name, 0)
	name = append(name, meta...)
	return uuid.NewSHA1(documentNamespace, name).String()
}

// withIDs returns a copy of docs where every document has an id
func withIDs(docs []types.Document) []types.Document {
	out := make([]types.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = DocumentID(doc)
		}
		out[i] = doc
	}
	return out
}
