package parser

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Tree-sitter node types the traversal classifies
const (
	nodeImport         = "import_statement"
	nodeImportFrom     = "import_from_statement"
	nodeClass          = "class_definition"
	nodeFunction       = "function_definition"
	nodeDecorated      = "decorated_definition"
	nodeDottedName     = "dotted_name"
	nodeAliasedImport  = "aliased_import"
	nodeRelativeImport = "relative_import"
	nodeIdentifier     = "identifier"
)

const defaultPyExtension = ".py"

// DefaultExcludeDirs lists directory names never descended into
var DefaultExcludeDirs = []string{
	".git", ".hg", ".svn",
	"__pycache__", ".mypy_cache", ".pytest_cache", ".ruff_cache", ".tox",
	".venv", "venv", "node_modules",
}

// Parser extracts module-level structure from Python source files.
// A single tree-sitter parser is reused for every file; calls are serialized.
type Parser struct {
	mu         sync.Mutex
	ts         *sitter.Parser
	extensions []string
	exclude    map[string]struct{}
}

// Option configures a Parser
type Option func(*Parser)

// WithExtensions sets the file extensions treated as source files
func WithExtensions(exts ...string) Option {
	return func(p *Parser) {
		if len(exts) == 0 {
			return
		}
		p.extensions = make([]string, 0, len(exts))
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			p.extensions = append(p.extensions, ext)
		}
	}
}

// WithExcludeDirs sets directory names skipped during discovery
func WithExcludeDirs(dirs ...string) Option {
	return func(p *Parser) {
		p.exclude = make(map[string]struct{}, len(dirs))
		for _, d := range dirs {
			p.exclude[d] = struct{}{}
		}
	}
}

// New creates a new Parser instance
func New(opts ...Option) *Parser {
	ts := sitter.NewParser()
	ts.SetLanguage(python.GetLanguage())

	p := &Parser{
		ts:         ts,
		extensions: []string{defaultPyExtension},
	}
	WithExcludeDirs(DefaultExcludeDirs...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close releases the underlying tree-sitter parser
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ts.Close()
}

// ParseDir parses every source file under root in lexicographic path order.
// The first file that fails to parse aborts the run.
func (p *Parser) ParseDir(ctx context.Context, root string) ([]types.ParsedFile, error) {
	paths, err := p.Discover(ctx, root)
	if err != nil {
		return nil, err
	}

	files := make([]types.ParsedFile, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := p.ParseFile(ctx, path)
		if err != nil {
			return nil, err
		}
		files = append(files, *parsed)
	}

	zerolog.Ctx(ctx).Debug().
		Str("root", root).
		Int("files", len(files)).
		Msg("parsed source tree")

	return files, nil
}

// Discover returns the sorted paths of all source files under root
func (p *Parser) Discover(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root {
				if _, skip := p.exclude[d.Name()]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if d.Type().IsRegular() && p.isSource(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

func (p *Parser) isSource(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range p.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseFile reads and parses a single source file
func (p *Parser) ParseFile(ctx context.Context, path string) (*types.ParsedFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", types.ErrParseFailure, path, err)
	}
	return p.ParseSource(ctx, path, content)
}

// ParseSource parses source text already in memory
func (p *Parser) ParseSource(ctx context.Context, path string, src []byte) (*types.ParsedFile, error) {
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", types.ErrParseFailure, path)
	}

	tree, err := p.parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrParseFailure, path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		// Syntax errors are non-fatal, tree-sitter still yields the well-formed parts
		zerolog.Ctx(ctx).Warn().
			Str("path", path).
			Msg("source contains syntax errors, extracting partial structure")
	}

	file := &types.ParsedFile{
		Path:      path,
		Content:   string(src),
		Imports:   []string{},
		Classes:   []types.Unit{},
		Functions: []types.Unit{},
	}
	v := &visitor{src: src, file: file}
	v.traverse(root)

	return file, nil
}

func (p *Parser) parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ts.ParseCtx(ctx, nil, src)
}

// visitor walks the module body of one syntax tree
type visitor struct {
	src  []byte
	file *types.ParsedFile
}

// traverse classifies the direct children of n. Only decorated definitions
// are descended into, and only by one level.
func (v *visitor) traverse(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case nodeImport:
			v.plainImport(child)
		case nodeImportFrom:
			v.fromImport(child)
		case nodeClass:
			v.unit(child, types.KindClass)
		case nodeFunction:
			v.unit(child, types.KindFunction)
		case nodeDecorated:
			v.traverse(child)
		}
	}
}

// plainImport handles `import a.b, c as d`
func (v *visitor) plainImport(n *sitter.Node) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case nodeDottedName:
			v.addImport(child.Content(v.src))
		case nodeAliasedImport:
			if name := aliasedName(child); name != nil {
				v.addImport(name.Content(v.src))
			}
		}
	}
}

// fromImport handles `from x import a, b as c` as one entry per imported name
func (v *visitor) fromImport(n *sitter.Node) {
	module := ""
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		var name string
		switch child.Type() {
		case nodeDottedName, nodeRelativeImport:
			if module == "" {
				module = child.Content(v.src)
				continue
			}
			name = child.Content(v.src)
		case nodeAliasedImport:
			if module == "" {
				continue
			}
			if orig := aliasedName(child); orig != nil {
				name = orig.Content(v.src)
			}
		default:
			continue
		}
		if name != "" {
			v.addImport(joinModule(module, name))
		}
	}
}

func (v *visitor) unit(n *sitter.Node, kind types.Kind) {
	name := firstChildOfType(n, nodeIdentifier)
	if name == nil {
		return
	}
	u := types.Unit{
		Kind:    kind,
		Name:    name.Content(v.src),
		Content: n.Content(v.src),
	}
	switch kind {
	case types.KindClass:
		v.file.Classes = append(v.file.Classes, u)
	case types.KindFunction:
		v.file.Functions = append(v.file.Functions, u)
	}
}

func (v *visitor) addImport(path string) {
	v.file.Imports = append(v.file.Imports, path)
}

// aliasedName returns the original dotted path of an `x as y` node
func aliasedName(n *sitter.Node) *sitter.Node {
	if name := n.ChildByFieldName("name"); name != nil {
		return name
	}
	return firstChildOfType(n, nodeDottedName)
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil && child.Type() == typ {
			return child
		}
	}
	return nil
}

// joinModule qualifies name with module. Relative modules that are only
// dots join without a separator.
func joinModule(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}
