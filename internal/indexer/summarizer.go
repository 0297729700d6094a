package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/pycontext-mcp/internal/llm"
	"github.com/dshills/pycontext-mcp/pkg/types"
)

// Summarizer generates one summary per unit of a granularity
type Summarizer struct {
	granularity types.Granularity
	completer   llm.Completer

	// MaxConcurrency caps in-flight requests, 0 dispatches all at once
	MaxConcurrency int
	MaxTokens      int
	Temperature    float64
}

// NewSummarizer creates a summarizer for granularity
func NewSummarizer(granularity types.Granularity, completer llm.Completer) *Summarizer {
	return &Summarizer{granularity: granularity, completer: completer}
}

// Granularity returns the level this summarizer works at
func (s *Summarizer) Granularity() types.Granularity {
	return s.granularity
}

// Targets lists the units to summarize in traversal order: files in batch
// order, then the classes or functions of each file in source order
func (s *Summarizer) Targets(files []types.ParsedFile) []types.Summarized {
	var targets []types.Summarized
	for i := range files {
		file := &files[i]
		if s.granularity == types.GranularityFile {
			targets = append(targets, types.Summarized{File: file, Content: file.Content})
			continue
		}
		kind := s.granularity.Kind()
		for _, u := range file.Units(kind) {
			targets = append(targets, types.Summarized{
				File:    file,
				Kind:    u.Kind,
				Name:    u.Name,
				Content: u.Content,
			})
		}
	}
	return targets
}

// Summarize requests a summary for every target concurrently and returns
// new records with Summary set, in the order of Targets. Replies are stored
// by launch position so completion order does not matter. A failed request
// does not cancel the ones already in flight, but fails the whole batch.
func (s *Summarizer) Summarize(ctx context.Context, files []types.ParsedFile) ([]types.Summarized, error) {
	if err := s.granularity.Validate(); err != nil {
		return nil, err
	}

	targets := s.Targets(files)
	if len(targets) == 0 {
		return []types.Summarized{}, nil
	}

	summaries := make([]string, len(targets))

	var g errgroup.Group
	if s.MaxConcurrency > 0 {
		g.SetLimit(s.MaxConcurrency)
	}
	for i := range targets {
		g.Go(func() error {
			summary, err := s.summarize(ctx, targets[i].Content)
			if err != nil {
				return fmt.Errorf("%s %q in %s: %w", s.granularity, targets[i].Name, targets[i].File.Path, err)
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.Summarized, len(targets))
	for i, t := range targets {
		t.Summary = summaries[i]
		out[i] = t
	}

	zerolog.Ctx(ctx).Debug().
		Str("granularity", string(s.granularity)).
		Int("summaries", len(out)).
		Msg("summarization complete")

	return out, nil
}

func (s *Summarizer) summarize(ctx context.Context, content string) (string, error) {
	completion, err := s.completer.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Prompt:       BuildPrompt(content),
		Schema:       summarySchema,
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
	})
	if err != nil {
		if errors.Is(err, types.ErrGenerationFailure) || errors.Is(err, types.ErrStreamingMisuse) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", types.ErrGenerationFailure, err)
	}

	llm.CheckFinishReason(ctx, completion.Meta)

	if len(completion.Replies) == 0 {
		return "", fmt.Errorf("%w: no replies", types.ErrMalformedResponse)
	}
	return ParseSummary(completion.Replies[0])
}
