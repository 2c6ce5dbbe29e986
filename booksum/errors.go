package booksum

import "fmt"

// Stage names the workflow step that produced an error.
type Stage string

const (
	StageLoad          Stage = "load"
	StageChunk         Stage = "chunk"
	StageExtract       Stage = "extract"
	StageSummary       Stage = "summary"
	StageCombine       Stage = "combine"
	StageAnalysis      Stage = "analysis"
	StageContextUpdate Stage = "context_update"
	StagePersist       Stage = "persist"
)

// GenerationError wraps a stage failure with enough identity to report which
// chapter and step failed after retries were exhausted.
type GenerationError struct {
	Stage     Stage
	ChapterID string
	Err       error
}

func (e *GenerationError) Error() string {
	if e.ChapterID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("chapter %s: %s: %v", e.ChapterID, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
