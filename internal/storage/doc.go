// Package storage persists embedded documents in named partitions.
//
// Every partition (code_file, code_class, code_function) is a logical slice
// of one SQLite documents table keyed by (partition, id). Metadata is stored
// as JSON with generated columns for the fields used in filters, so queries
// such as "raw_data in [...]" hit an index.
//
// # Basic Usage
//
//	db, err := storage.Open("~/.pycontext/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	files := db.Partition(types.PartitionFile)
//	n, err := files.Upsert(ctx, docs, storage.PolicyOverwrite)
//
//	// Remove stale documents for one source file
//	_, err = files.Delete(ctx, storage.Where(types.MetaRawData, storage.OpIn, []string{src}))
//
//	// Top three by cosine similarity
//	hits, err := files.Search(ctx, queryVector, 3)
//
// # Filters
//
// Filters are conjunctions of conditions over metadata fields. Supported
// operators are ==, !=, in and not in. The zero Filter matches everything.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Ranks with vec_distance_cosine inside SQLite
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Ranks in Go after scanning the partition
//
//     CGO_ENABLED=0 go build -tags "purego"
//
// The chroma subpackage implements DocumentStore on a Chroma server.
package storage
