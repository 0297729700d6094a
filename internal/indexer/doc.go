// Package indexer turns a Python source tree into summarized, embedded
// documents in three partitions.
//
// # Pipelines
//
// Each granularity (file, class, function) has its own Pipeline writing
// its own partition:
//
//  1. Clean: delete documents whose raw_data equals text in the batch
//  2. Summarize: one completion per unit, all dispatched at once
//  3. Assemble: build documents with path/name/raw_data metadata
//  4. Embed: one batch embedding call
//  5. Write: upsert with overwrite semantics
//
// # Basic Usage
//
//	idx := indexer.New(parser.New(), filePipeline, classPipeline, funcPipeline)
//	stats, err := idx.Index(ctx, "/path/to/project")
//
// The three pipelines run concurrently and share no mutable state. When
// one fails the others still finish; Index then returns the statistics of
// the successful pipelines together with an error joining every
// *types.PipelineError.
//
// # Re-indexing
//
// Running Index twice over an unchanged tree leaves the same documents in
// place: the cleaner removes the previous generation before the new one is
// written. With stale purging enabled, the old document of a modified
// function is removed even though its raw_data no longer matches.
//
// Reindex empties all partitions first.
//
// # Concurrency
//
// Only one run may be active per Indexer; overlapping calls fail with
// ErrIndexingInProgress.
package indexer
