package indexer

import (
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Assemble turns summarized units into documents for granularity
func Assemble(granularity types.Granularity, summarized []types.Summarized) []types.Document {
	docs := make([]types.Document, len(summarized))
	for i, s := range summarized {
		if granularity == types.GranularityFile {
			docs[i] = FileDocument(s)
		} else {
			docs[i] = UnitDocument(s)
		}
	}
	return docs
}

// FileDocument builds the document of a whole file. Metadata carries the
// names of the file's classes and functions, never their content.
func FileDocument(s types.Summarized) types.Document {
	imports := append([]string{}, s.File.Imports...)
	return types.Document{
		Content: s.Summary,
		Meta: types.Metadata{
			types.MetaPath:            s.File.Path,
			types.MetaRawData:         s.File.Content,
			types.MetaImports:         imports,
			types.MetaGlobalClasses:   s.File.ClassNames(),
			types.MetaGlobalFunctions: s.File.FunctionNames(),
		},
	}
}

// UnitDocument builds the document of a class or function
func UnitDocument(s types.Summarized) types.Document {
	return types.Document{
		Content: s.Summary,
		Meta: types.Metadata{
			types.MetaPath:    s.File.Path,
			types.MetaName:    s.Name,
			types.MetaRawData: s.Content,
		},
	}
}
