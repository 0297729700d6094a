package indexer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pycontext-mcp/internal/embedder"
	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/internal/storage"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// PipelineConfig configures one granularity pipeline
type PipelineConfig struct {
	Granularity types.Granularity
	Store       storage.DocumentStore
	Completer   llm.Completer
	Embedder    embedder.Embedder

	PurgeStale     bool    // Also remove documents of changed units
	MaxConcurrency int     // Summary requests in flight, 0 for unlimited
	MaxTokens      int     // Per summary reply, 0 for the provider default
	Temperature    float64 // Sampling temperature of summary requests
}

// PipelineStats reports one pipeline run
type PipelineStats struct {
	Partition types.Partition `json:"partition"`
	Units     int             `json:"units"`
	Deleted   int             `json:"deleted"`
	Written   int             `json:"written"`
	Duration  time.Duration   `json:"duration"`
}

// Pipeline runs Clean, Summarize, Assemble, Embed and Write for one
// granularity against its own partition
type Pipeline struct {
	granularity types.Granularity
	store       storage.DocumentStore
	cleaner     *Cleaner
	summarizer  *Summarizer
	writer      *Writer
}

// NewPipeline creates a pipeline from cfg
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Granularity.Validate(); err != nil {
		return nil, err
	}

	summarizer := NewSummarizer(cfg.Granularity, cfg.Completer)
	summarizer.MaxConcurrency = cfg.MaxConcurrency
	summarizer.MaxTokens = cfg.MaxTokens
	summarizer.Temperature = cfg.Temperature

	return &Pipeline{
		granularity: cfg.Granularity,
		store:       cfg.Store,
		cleaner:     NewCleaner(cfg.PurgeStale, cfg.Store),
		summarizer:  summarizer,
		writer:      NewWriter(cfg.Embedder, cfg.Store),
	}, nil
}

// Partition returns the partition the pipeline writes
func (p *Pipeline) Partition() types.Partition {
	return p.granularity.Partition()
}

// Reset removes every document of the pipeline's partition
func (p *Pipeline) Reset(ctx context.Context) (int, error) {
	n, err := p.store.Delete(ctx, storage.Filter{})
	if err != nil {
		return 0, p.fail(types.StageClean, err)
	}
	return n, nil
}

// Run indexes files. Failures are reported as *types.PipelineError naming
// the stage that failed.
func (p *Pipeline) Run(ctx context.Context, files []types.ParsedFile) (*PipelineStats, error) {
	start := time.Now()
	stats := &PipelineStats{Partition: p.Partition()}
	logger := zerolog.Ctx(ctx).With().Str("partition", string(stats.Partition)).Logger()

	cleaned, deleted, err := p.cleaner.Clean(ctx, files)
	if err != nil {
		return nil, p.fail(types.StageClean, err)
	}
	stats.Deleted = deleted

	summarized, err := p.summarizer.Summarize(ctx, cleaned)
	if err != nil {
		return nil, p.fail(types.StageSummarize, err)
	}
	stats.Units = len(summarized)

	docs := Assemble(p.granularity, summarized)

	embedded, err := p.writer.Embed(ctx, docs)
	if err != nil {
		return nil, p.fail(types.StageEmbed, err)
	}

	written, err := p.writer.Store(ctx, embedded)
	if err != nil {
		return nil, p.fail(types.StageWrite, err)
	}
	stats.Written = written
	stats.Duration = time.Since(start)

	logger.Info().
		Int("units", stats.Units).
		Int("deleted", stats.Deleted).
		Int("written", stats.Written).
		Dur("duration", stats.Duration).
		Msg("pipeline complete")

	return stats, nil
}

func (p *Pipeline) fail(stage types.Stage, err error) error {
	return &types.PipelineError{Partition: p.Partition(), Stage: stage, Err: err}
}
