package chroma

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromago "github.com/amikos-tech/chroma-go"
	"github.com/amikos-tech/chroma-go/collection"
	chromatypes "github.com/amikos-tech/chroma-go/types"

	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// DefaultURL is the address of a locally running Chroma server
const DefaultURL = "http://localhost:8000"

// listKeysField names the metadata keys whose values were JSON-encoded
// lists. Chroma only stores scalar metadata.
const listKeysField = "_list_keys"

// Collection is the subset of a Chroma collection the store uses
type Collection interface {
	Upsert(ctx context.Context, embeddings []*chromatypes.Embedding, metadatas []map[string]interface{}, documents []string, ids []string) (*chromago.Collection, error)
	Get(ctx context.Context, where map[string]interface{}, whereDocuments map[string]interface{}, ids []string, include []chromatypes.QueryEnum) (*chromago.GetResults, error)
	Delete(ctx context.Context, ids []string, where map[string]interface{}, whereDocuments map[string]interface{}) ([]string, error)
	QueryWithOptions(ctx context.Context, queryOptions ...chromatypes.CollectionQueryOption) (*chromago.QueryResults, error)
	Count(ctx context.Context) (int32, error)
}

// Client opens one collection per partition on a Chroma server
type Client struct {
	client *chromago.Client

	mu     sync.Mutex
	stores map[types.Partition]*Store
}

// NewClient connects to the Chroma server at url
func NewClient(url string) (*Client, error) {
	if url == "" {
		url = DefaultURL
	}
	client, err := chromago.NewClient(chromago.WithBasePath(url))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create chroma client: %v", types.ErrStoreFailure, err)
	}
	return &Client{client: client, stores: make(map[types.Partition]*Store)}, nil
}

// Partition returns the store for one partition, creating its collection
// with cosine distance on first use
func (c *Client) Partition(ctx context.Context, name types.Partition) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.stores[name]; ok {
		return s, nil
	}

	col, err := c.client.NewCollection(
		ctx,
		string(name),
		collection.WithHNSWDistanceFunction(chromatypes.COSINE),
		collection.WithCreateIfNotExist(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create or get collection %s: %v", types.ErrStoreFailure, name, err)
	}

	s := NewStore(name, col)
	c.stores[name] = s
	return s, nil
}

// Close releases the client. The underlying HTTP client holds no resources
// that need explicit cleanup.
func (c *Client) Close() error {
	return nil
}

// Store is the Chroma DocumentStore of one partition
type Store struct {
	partition types.Partition
	col       Collection
}

var _ storage.DocumentStore = (*Store)(nil)

// NewStore wraps an open collection
func NewStore(partition types.Partition, col Collection) *Store {
	return &Store{partition: partition, col: col}
}

// Partition returns the partition name
func (s *Store) Partition() types.Partition {
	return s.partition
}

// Upsert writes docs with ids from storage.DocumentID. Chroma upserts always
// replace, so PolicySkip and PolicyFail check for existing ids first.
func (s *Store) Upsert(ctx context.Context, docs []types.Document, policy storage.DuplicatePolicy) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(docs))
	byID := make(map[string]types.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = storage.DocumentID(doc)
		}
		if err := doc.Validate(); err != nil {
			return 0, fmt.Errorf("%w: document %d: %w", types.ErrStoreFailure, i, err)
		}
		if _, dup := byID[doc.ID]; !dup {
			ids = append(ids, doc.ID)
		}
		byID[doc.ID] = doc
	}

	switch policy {
	case storage.PolicyOverwrite:
	case storage.PolicySkip, storage.PolicyFail:
		existing, err := s.col.Get(ctx, nil, nil, ids, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: check existing documents: %v", types.ErrStoreFailure, err)
		}
		if len(existing.Ids) > 0 && policy == storage.PolicyFail {
			return 0, fmt.Errorf("%w: %w: %s in %s", types.ErrStoreFailure, storage.ErrDuplicateDocument, existing.Ids[0], s.partition)
		}
		ids = without(ids, existing.Ids)
	default:
		return 0, fmt.Errorf("%w: unknown duplicate policy %d", types.ErrStoreFailure, policy)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	embeddings := make([]*chromatypes.Embedding, len(ids))
	metadatas := make([]map[string]interface{}, len(ids))
	documents := make([]string, len(ids))
	for i, id := range ids {
		doc := byID[id]
		meta, err := encodeMeta(doc.Meta)
		if err != nil {
			return 0, fmt.Errorf("%w: document %s: %v", types.ErrStoreFailure, id, err)
		}
		embeddings[i] = chromatypes.NewEmbeddingFromFloat32(doc.Embedding)
		metadatas[i] = meta
		documents[i] = doc.Content
	}

	if _, err := s.col.Upsert(ctx, embeddings, metadatas, documents, ids); err != nil {
		return 0, fmt.Errorf("%w: upsert into %s: %v", types.ErrStoreFailure, s.partition, err)
	}
	return len(ids), nil
}

// Delete removes the documents matching filter. Matching ids are resolved
// first so the deleted count is exact.
func (s *Store) Delete(ctx context.Context, filter storage.Filter) (int, error) {
	where, err := compileWhere(filter)
	if err != nil {
		return 0, err
	}

	matched, err := s.col.Get(ctx, where, nil, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: find documents in %s: %v", types.ErrStoreFailure, s.partition, err)
	}
	if len(matched.Ids) == 0 {
		return 0, nil
	}

	if _, err := s.col.Delete(ctx, matched.Ids, nil, nil); err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %v", types.ErrStoreFailure, s.partition, err)
	}
	return len(matched.Ids), nil
}

// Search queries the collection with one embedding
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]types.Document, error) {
	if topK <= 0 {
		return []types.Document{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrStoreFailure)
	}

	results, err := s.col.QueryWithOptions(ctx,
		chromatypes.WithQueryEmbeddings([]*chromatypes.Embedding{chromatypes.NewEmbeddingFromFloat32(vector)}),
		chromatypes.WithNResults(int32(topK)),
		chromatypes.WithInclude(chromatypes.IDocuments, chromatypes.IMetadatas, chromatypes.IDistances),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", types.ErrStoreFailure, s.partition, err)
	}

	docs := []types.Document{}
	if results == nil || len(results.Ids) == 0 {
		return docs, nil
	}
	for i, id := range results.Ids[0] {
		doc := types.Document{ID: id, Meta: types.Metadata{}}
		if len(results.Documents) > 0 && len(results.Documents[0]) > i {
			doc.Content = results.Documents[0][i]
		}
		if len(results.Metadatas) > 0 && len(results.Metadatas[0]) > i && results.Metadatas[0][i] != nil {
			meta, err := decodeMeta(results.Metadatas[0][i])
			if err != nil {
				return nil, fmt.Errorf("%w: document %s: %v", types.ErrStoreFailure, id, err)
			}
			doc.Meta = meta
		}
		if len(results.Distances) > 0 && len(results.Distances[0]) > i {
			// Cosine distance
			doc.Score = 1 - float64(results.Distances[0][i])
		}
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	return docs, nil
}

// Count returns the number of documents in the collection
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", types.ErrStoreFailure, s.partition, err)
	}
	return int(n), nil
}

// compileWhere translates a filter into a Chroma where document
func compileWhere(filter storage.Filter) (map[string]interface{}, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.IsEmpty() {
		return nil, nil
	}

	clauses := make([]map[string]interface{}, 0, len(filter.Conditions))
	for _, c := range filter.Conditions {
		var op string
		switch c.Operator {
		case storage.OpEqual:
			op = "$eq"
		case storage.OpNotEqual:
			op = "$ne"
		case storage.OpIn:
			op = "$in"
		case storage.OpNotIn:
			op = "$nin"
		}
		clauses = append(clauses, map[string]interface{}{c.Field: map[string]interface{}{op: c.Value}})
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	and := make([]interface{}, len(clauses))
	for i, c := range clauses {
		and[i] = c
	}
	return map[string]interface{}{"$and": and}, nil
}

// encodeMeta flattens list values into JSON strings
func encodeMeta(meta types.Metadata) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(meta)+1)
	var listKeys []string
	for k, v := range meta {
		switch v.(type) {
		case []string, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", k, err)
			}
			out[k] = string(b)
			listKeys = append(listKeys, k)
		default:
			out[k] = v
		}
	}
	if len(listKeys) > 0 {
		sort.Strings(listKeys)
		out[listKeysField] = strings.Join(listKeys, ",")
	}
	return out, nil
}

// decodeMeta restores the lists flattened by encodeMeta
func decodeMeta(raw map[string]interface{}) (types.Metadata, error) {
	meta := make(types.Metadata, len(raw))
	for k, v := range raw {
		if k != listKeysField {
			meta[k] = v
		}
	}

	keys, _ := raw[listKeysField].(string)
	if keys == "" {
		return meta, nil
	}
	for _, k := range strings.Split(keys, ",") {
		s, ok := meta[k].(string)
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		meta[k] = list
	}
	return meta, nil
}

// without returns ids minus the ones in drop, keeping order
func without(ids, drop []string) []string {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
