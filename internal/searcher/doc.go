// Package searcher retrieves documents for a free-text query from every
// partition.
//
// The query is embedded exactly once and the same vector is searched in
// code_file, code_class and code_function concurrently. Each partition
// returns its own top-k (3 by default); results are not fused or re-ranked
// across partitions.
//
//	s := searcher.New(emb, searcher.Config{}, fileStore, classStore, funcStore)
//	result, err := s.Retrieve(ctx, "where are sessions refreshed?")
//	if errors.Is(err, searcher.ErrIncompleteResults) {
//	    // result holds the partitions that succeeded
//	}
//
// Result marshals to JSON with one key per partition:
//
//	{"code_file_retrieval": [...], "code_class_retrieval": [...],
//	 "code_function_retrieval": [...], "complete": true, "query": "..."}
//
// Complete results may be cached for Config.CacheTTL. InvalidateCache
// must be called after re-indexing.
package searcher
