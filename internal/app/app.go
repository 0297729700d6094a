// Package app wires configuration into the stores, providers, indexer and
// searcher shared by the CLI and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/pycontext-mcp/internal/config"
	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/indexer"
	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/internal/parser"
	"github.com/dshills/pycontext-mcp/internal/searcher"
	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/internal/storage/chroma"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// App owns every long-lived component
type App struct {
	cfg       *config.Config
	db        *storage.DB
	chroma    *chroma.Client
	stores    []storage.DocumentStore
	completer llm.Completer
	embedder  embedder.Embedder
	parser    *parser.Parser
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher

	mu      sync.RWMutex
	lastRun *indexer.Statistics
}

// Option overrides a component built from configuration
type Option func(*App)

// WithCompleter uses c instead of the configured completion provider
func WithCompleter(c llm.Completer) Option {
	return func(a *App) { a.completer = c }
}

// WithEmbedder uses e instead of the configured embedding provider
func WithEmbedder(e embedder.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// New builds an App from cfg. cfg must be valid.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.completer == nil {
		if a.completer, err = llm.New(cfg.LLMProviderConfig()); err != nil {
			return nil, fmt.Errorf("failed to initialize llm: %w", err)
		}
	}
	if a.embedder == nil {
		if a.embedder, err = embedder.New(cfg.EmbedderConfig()); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	a.parser = parser.New(
		parser.WithExtensions(cfg.Index.Extensions...),
		parser.WithExcludeDirs(cfg.Index.ExcludeDirs...),
	)

	pipelines := make([]*indexer.Pipeline, 0, len(a.stores))
	for i, g := range types.AllGranularities() {
		p, err := indexer.NewPipeline(indexer.PipelineConfig{
			Granularity:    g,
			Store:          a.stores[i],
			Completer:      a.completer,
			Embedder:       a.embedder,
			PurgeStale:     cfg.Index.PurgeStale,
			MaxConcurrency: cfg.LLM.MaxConcurrency,
			MaxTokens:      cfg.LLM.MaxTokens,
			Temperature:    cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	a.indexer = indexer.New(a.parser, pipelines...)

	a.searcher = searcher.New(a.embedder, searcher.Config{
		TopK:     cfg.Search.TopK,
		CacheTTL: cfg.Search.CacheTTL,
	}, a.stores...)

	zerolog.Ctx(ctx).Debug().
		Str("backend", cfg.Store.Backend).
		Str("embedder", a.embedder.Provider()+"/"+a.embedder.Model()).
		Str("llm", a.completer.Model()).
		Msg("components ready")
	return a, nil
}

// openStores opens one store per partition in granularity order
func (a *App) openStores(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendChroma:
		client, err := chroma.NewClient(a.cfg.Store.ChromaURL)
		if err != nil {
			return fmt.Errorf("failed to connect to chroma: %w", err)
		}
		a.chroma = client
		for _, g := range types.AllGranularities() {
			store, err := client.Partition(ctx, g.Partition())
			if err != nil {
				return err
			}
			a.stores = append(a.stores, store)
		}
	default:
		if dir := filepath.Dir(a.cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := storage.Open(a.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.db = db
		for _, g := range types.AllGranularities() {
			a.stores = append(a.stores, db.Partition(g.Partition()))
		}
	}
	return nil
}

// Index parses root and runs every pipeline. With reindex every partition
// is emptied first. Cached search results are dropped whenever anything
// was written.
func (a *App) Index(ctx context.Context, root string, reindex bool) (*indexer.Statistics, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	var stats *indexer.Statistics
	if reindex {
		stats, err = a.indexer.Reindex(ctx, abs)
	} else {
		stats, err = a.indexer.Index(ctx, abs)
	}
	if stats != nil {
		a.searcher.InvalidateCache()
		a.mu.Lock()
		a.lastRun = stats
		a.mu.Unlock()
	}
	return stats, err
}

// Search retrieves the top documents of every partition for query.
// A non-positive topK uses the configured search.top_k.
func (a *App) Search(ctx context.Context, query string, topK int) (*searcher.Result, error) {
	return a.searcher.RetrieveTopK(ctx, query, topK)
}

// TopK returns the configured number of documents per partition
func (a *App) TopK() int {
	return a.searcher.TopK()
}

// Status describes the configured components and what is indexed
type Status struct {
	Backend    string                    `json:"backend"`
	Indexing   bool                      `json:"indexing"`
	Embedder   string                    `json:"embedder"`
	LLM        string                    `json:"llm"`
	TopK       int                       `json:"top_k"`
	Partitions []storage.PartitionStatus `json:"partitions"`
	Database   *storage.Status           `json:"database,omitempty"`
	LastRun    *indexer.Statistics       `json:"last_run,omitempty"`
}

// Status reports partition sizes and the most recent indexing run
func (a *App) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Backend:  a.cfg.Store.Backend,
		Indexing: a.indexer.Running(),
		Embedder: a.embedder.Provider() + "/" + a.embedder.Model(),
		LLM:      a.completer.Model(),
		TopK:     a.searcher.TopK(),
	}

	if a.db != nil {
		dbStatus, err := a.db.Status(ctx)
		if err != nil {
			return nil, err
		}
		status.Database = dbStatus
		status.Partitions = dbStatus.Partitions
	} else {
		for _, store := range a.stores {
			n, err := store.Count(ctx)
			if err != nil {
				return nil, err
			}
			status.Partitions = append(status.Partitions, storage.PartitionStatus{Partition: store.Partition(), Documents: n})
		}
	}

	a.mu.RLock()
	status.LastRun = a.lastRun
	a.mu.RUnlock()
	return status, nil
}

// Close releases every component
func (a *App) Close() error {
	var errs []error
	if a.parser != nil {
		a.parser.Close()
	}
	if a.completer != nil {
		errs = append(errs, a.completer.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.chroma != nil {
		errs = append(errs, a.chroma.Close())
	}
	return errors.Join(errs...)
}
