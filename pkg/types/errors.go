package types

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the indexing and retrieval paths
var (
	ErrParseFailure        = errors.New("parse failure")
	ErrGenerationFailure   = errors.New("generation failure")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrTruncatedGeneration = errors.New("truncated generation")
	ErrStoreFailure        = errors.New("store failure")
	ErrStreamingMisuse     = errors.New("cannot stream multiple responses, set n=1")
)

// Domain errors for type validation
var (
	ErrEmptyContent       = errors.New("content cannot be empty")
	ErrMissingRawData     = errors.New("raw_data metadata is required")
	ErrMissingEmbedding   = errors.New("document has no embedding")
	ErrUnknownGranularity = errors.New("unknown granularity")
)

// Stage names a step of an indexing pipeline
type Stage string

const (
	StageClean     Stage = "clean"
	StageSummarize Stage = "summarize"
	StageAssemble  Stage = "assemble"
	StageEmbed     Stage = "embed"
	StageWrite     Stage = "write"
)

// PipelineError reports the failure of one indexing pipeline
type PipelineError struct {
	Partition Partition
	Stage     Stage
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s pipeline failed at %s: %v", e.Partition, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
