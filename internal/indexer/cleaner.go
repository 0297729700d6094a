package indexer

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Cleaner removes the previous generation of documents for a batch of files
// before new summaries are written
type Cleaner struct {
	stores     []storage.DocumentStore
	purgeStale bool
}

// NewCleaner creates a cleaner over the given stores. With purgeStale set,
// documents of a file in the batch whose raw_data no longer occurs in the
// file are removed as well.
func NewCleaner(purgeStale bool, stores ...storage.DocumentStore) *Cleaner {
	return &Cleaner{stores: stores, purgeStale: purgeStale}
}

// Clean deletes every document whose raw_data equals the content of a file
// in the batch or of one of its units. Stores are cleaned concurrently. The
// batch is returned unchanged together with the number of deleted documents.
func (c *Cleaner) Clean(ctx context.Context, files []types.ParsedFile) ([]types.ParsedFile, int, error) {
	if len(files) == 0 || len(c.stores) == 0 {
		return files, 0, nil
	}

	texts := rawTexts(files)
	matching := storage.Where(types.MetaRawData, storage.OpIn, texts)

	var stale storage.Filter
	if c.purgeStale {
		paths := make([]string, len(files))
		for i := range files {
			paths[i] = files[i].Path
		}
		stale = storage.And(
			storage.Where(types.MetaPath, storage.OpIn, paths),
			storage.Where(types.MetaRawData, storage.OpNotIn, texts),
		)
	}

	var deleted atomic.Int64
	var g errgroup.Group
	for _, store := range c.stores {
		g.Go(func() error {
			n, err := store.Delete(ctx, matching)
			if err != nil {
				return err
			}
			deleted.Add(int64(n))

			if !c.purgeStale {
				return nil
			}
			n, err = store.Delete(ctx, stale)
			if err != nil {
				return err
			}
			if n > 0 {
				zerolog.Ctx(ctx).Debug().
					Str("partition", string(store.Partition())).
					Int("documents", n).
					Msg("purged stale documents")
			}
			deleted.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(deleted.Load()), err
	}

	return files, int(deleted.Load()), nil
}

// rawTexts collects the distinct raw texts of a batch in traversal order
func rawTexts(files []types.ParsedFile) []string {
	seen := make(map[string]struct{})
	var texts []string
	for i := range files {
		for _, t := range files[i].RawTexts() {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			texts = append(texts, t)
		}
	}
	return texts
}
