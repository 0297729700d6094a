// Package parser extracts module-level structure from Python source files
// using tree-sitter.
//
// The parser walks only the top level of each module body and records
// imports, classes and functions. Nested definitions inside class or
// function bodies are never collected.
//
// # Basic Usage
//
//	p := parser.New()
//	defer p.Close()
//
//	files, err := p.ParseDir(ctx, "/path/to/project")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, f := range files {
//	    fmt.Println(f.Path, f.Imports, f.ClassNames(), f.FunctionNames())
//	}
//
// Files are discovered recursively and processed in lexicographic path
// order, so summaries generated downstream pair with their units the same
// way on every run.
//
// # Imports
//
// Every imported name produces its own dotted entry:
//
//	import a.b                  -> "a.b"
//	import f as f_alias         -> "f"
//	from d import d_1, d_2      -> "d.d_1", "d.d_2"
//	from . import sibling       -> ".sibling"
//
// Wildcard imports produce no entry.
//
// # Decorated Definitions
//
// A decorated class or function is unwrapped one level and recorded once.
// Its content is the span of the definition itself, which starts with
// "class " or "def ". Decorator lines are not part of the content.
//
// # Error Handling
//
// A file that cannot be read or is not valid UTF-8 fails with
// types.ErrParseFailure and aborts ParseDir. Syntax errors are tolerated:
// tree-sitter recovers and the well-formed definitions are still recorded.
//
// # Thread Safety
//
// A Parser owns one tree-sitter parser and serializes access to it, so it is
// safe to share between goroutines.
package parser
