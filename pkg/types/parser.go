package types

// Kind identifies the kind of a structural unit
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
)

// Unit is a module-level class or function definition
type Unit struct {
	Kind    Kind
	Name    string // Identifier as written in source
	Content string // Exact source span of the definition
}

// ParsedFile is the structural record of one source file
type ParsedFile struct {
	Path      string
	Content   string
	Imports   []string // Dotted module paths, first-seen order, duplicates kept
	Classes   []Unit
	Functions []Unit
}

// ClassNames returns the names of the top-level classes in source order
func (f *ParsedFile) ClassNames() []string {
	return unitNames(f.Classes)
}

// FunctionNames returns the names of the top-level functions in source order
func (f *ParsedFile) FunctionNames() []string {
	return unitNames(f.Functions)
}

// Units returns the units of the given kind
func (f *ParsedFile) Units(kind Kind) []Unit {
	switch kind {
	case KindClass:
		return f.Classes
	case KindFunction:
		return f.Functions
	default:
		return nil
	}
}

// RawTexts returns the file content followed by the content of every
// class and function, in traversal order.
func (f *ParsedFile) RawTexts() []string {
	texts := make([]string, 0, 1+len(f.Classes)+len(f.Functions))
	texts = append(texts, f.Content)
	for _, c := range f.Classes {
		texts = append(texts, c.Content)
	}
	for _, fn := range f.Functions {
		texts = append(texts, fn.Content)
	}
	return texts
}

func unitNames(units []Unit) []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	return names
}

// Summarized pairs a summarized source artifact with its generated summary.
// File is the owning file; for file granularity Content equals File.Content.
type Summarized struct {
	File    *ParsedFile
	Kind    Kind // Empty for whole-file summaries
	Name    string
	Content string
	Summary string
}
