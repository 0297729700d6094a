package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pycontext-mcp/internal/parser"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// ErrIndexingInProgress is returned when a run is already active
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Indexer parses a source tree once and feeds it to every pipeline
type Indexer struct {
	parser    *parser.Parser
	pipelines []*Pipeline
	lock      IndexLock
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	Root      string           `json:"root"`
	Files     int              `json:"files"`
	Pipelines []*PipelineStats `json:"pipelines"`
	Failed    []string         `json:"failed,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Written sums the documents written by the successful pipelines
func (s *Statistics) Written() int {
	n := 0
	for _, p := range s.Pipelines {
		n += p.Written
	}
	return n
}

// New creates an indexer running pipelines over files parsed by p
func New(p *parser.Parser, pipelines ...*Pipeline) *Indexer {
	return &Indexer{parser: p, pipelines: pipelines}
}

// Index parses root and runs every pipeline concurrently
func (idx *Indexer) Index(ctx context.Context, root string) (*Statistics, error) {
	return idx.run(ctx, root, false)
}

// Reindex empties every partition before indexing root
func (idx *Indexer) Reindex(ctx context.Context, root string) (*Statistics, error) {
	return idx.run(ctx, root, true)
}

// run executes one indexing run. A parse failure aborts before any pipeline
// starts. Pipelines do not share a cancellable context, so one failing does
// not stop the others. The returned error joins every pipeline failure and
// the statistics cover the pipelines that succeeded.
func (idx *Indexer) run(ctx context.Context, root string, reset bool) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	logger := zerolog.Ctx(ctx).With().Str("root", root).Logger()
	logger.Info().Bool("reset", reset).Msg("indexing started")

	files, err := idx.parser.ParseDir(ctx, root)
	if err != nil {
		if !errors.Is(err, types.ErrParseFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", types.ErrParseFailure, err)
		}
		return nil, err
	}

	stats := &Statistics{Root: root, Files: len(files)}
	results := make([]*PipelineStats, len(idx.pipelines))
	errs := make([]error, len(idx.pipelines))

	var wg sync.WaitGroup
	for i, p := range idx.pipelines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reset {
				if _, err := p.Reset(ctx); err != nil {
					errs[i] = err
					return
				}
			}
			results[i], errs[i] = p.Run(ctx, files)
		}()
	}
	wg.Wait()

	for i, p := range idx.pipelines {
		if errs[i] != nil {
			stats.Failed = append(stats.Failed, string(p.Partition()))
			logger.Error().Err(errs[i]).Str("partition", string(p.Partition())).Msg("pipeline failed")
			continue
		}
		stats.Pipelines = append(stats.Pipelines, results[i])
	}
	stats.Duration = time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return stats, err
	}

	logger.Info().
		Int("files", stats.Files).
		Int("written", stats.Written()).
		Dur("duration", stats.Duration).
		Msg("indexing complete")

	return stats, nil
}

// Running reports whether an indexing run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}
