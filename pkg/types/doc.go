// Package types provides shared type definitions for the pycontext MCP server.
//
// This package defines the domain types used across the parser, the
// indexing pipelines and the retrieval path.
//
// # Structural Records
//
// ParsedFile is the structural record of one Python source file. It carries
// the full text, the dotted import paths, and the module-level classes and
// functions as Units:
//
//	file := &types.ParsedFile{
//	    Path:    "pkg/service.py",
//	    Content: src,
//	    Imports: []string{"os.path", "typing.Any"},
//	    Classes: []types.Unit{{Kind: types.KindClass, Name: "Service", Content: "class Service: ..."}},
//	}
//
// Units are immutable once parsed. Summarization returns new Summarized
// records instead of attaching summaries to units.
//
// # Documents and Partitions
//
// Document is what the vector store holds: the summary as searchable
// content, metadata describing the source, and the embedding vector.
// Documents live in one of three partitions, one per granularity:
//
//	types.GranularityFile.Partition()     // code_file
//	types.GranularityClass.Partition()    // code_class
//	types.GranularityFunction.Partition() // code_function
//
// The raw_data metadata field holds the exact source text a summary was
// generated from and is the identity used to clean stale documents before
// re-indexing.
//
// # Errors
//
// Failures are reported with sentinel errors wrapped with context:
//
//	if errors.Is(err, types.ErrGenerationFailure) { ... }
//
// PipelineError annotates a failure with the partition and stage where it
// occurred.
package types
