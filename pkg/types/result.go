package types

import "fmt"

// Granularity is the level at which documents are produced
type Granularity string

const (
	GranularityFile     Granularity = "file"
	GranularityClass    Granularity = "class"
	GranularityFunction Granularity = "function"
)

// Partition names an independently addressable subset of the vector store
type Partition string

const (
	PartitionFile     Partition = "code_file"
	PartitionClass    Partition = "code_class"
	PartitionFunction Partition = "code_function"
)

// AllGranularities returns every granularity in indexing order
func AllGranularities() []Granularity {
	return []Granularity{GranularityFile, GranularityClass, GranularityFunction}
}

// AllPartitions returns every partition in indexing order
func AllPartitions() []Partition {
	return []Partition{PartitionFile, PartitionClass, PartitionFunction}
}

// Partition returns the store partition dedicated to the granularity
func (g Granularity) Partition() Partition {
	switch g {
	case GranularityFile:
		return PartitionFile
	case GranularityClass:
		return PartitionClass
	case GranularityFunction:
		return PartitionFunction
	default:
		return Partition("code_" + string(g))
	}
}

// Kind returns the unit kind summarized at this granularity.
// File granularity has no unit kind.
func (g Granularity) Kind() Kind {
	switch g {
	case GranularityClass:
		return KindClass
	case GranularityFunction:
		return KindFunction
	default:
		return ""
	}
}

// Validate checks that the granularity is one of the known values
func (g Granularity) Validate() error {
	switch g {
	case GranularityFile, GranularityClass, GranularityFunction:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownGranularity, string(g))
	}
}

// RetrievalKey is the key a partition's results are reported under
func (p Partition) RetrievalKey() string {
	return string(p) + "_retrieval"
}

// Metadata keys
const (
	MetaPath            = "path"
	MetaName            = "name"
	MetaRawData         = "raw_data"
	MetaImports         = "imports"
	MetaGlobalClasses   = "global_classes"
	MetaGlobalFunctions = "global_functions"
)

// Metadata is the document metadata stored next to the summary
type Metadata map[string]any

// String returns the string value stored under key, or ""
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Strings returns the string list stored under key. Lists decoded from
// JSON arrive as []any and are converted.
func (m Metadata) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy of the metadata with list values copied
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Document is a retrievable record: a summary plus source metadata
type Document struct {
	ID        string    `json:"id,omitempty"`
	Content   string    `json:"content"`
	Meta      Metadata  `json:"meta"`
	Embedding []float32 `json:"-"`
	Score     float64   `json:"score,omitempty"`
}

// HasEmbedding reports whether a vector is attached
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Validate checks that the document can be persisted
func (d *Document) Validate() error {
	if d.Content == "" {
		return ErrEmptyContent
	}
	if d.Meta.String(MetaRawData) == "" {
		return ErrMissingRawData
	}
	if !d.HasEmbedding() {
		return ErrMissingEmbedding
	}
	return nil
}
