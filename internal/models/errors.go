package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at the job boundary.
var (
	// ErrJobAlreadyActive is returned when generation is requested for a
	// story that already has a non-terminal job. The caller should read the
	// existing job's status instead of creating new work.
	ErrJobAlreadyActive = errors.New("a video job is already active for this story")

	// ErrInsufficientSegments is returned when a story has fewer than two
	// segments — no adjacent pair exists, so no job is ever created.
	ErrInsufficientSegments = errors.New("story needs at least two segments to build a video")
)

// ClipGenerationError marks an external clip-service failure for one
// specific segment pair. Retryable: a new job re-attempts only this pair
// because every other pair stays ready in the cache.
type ClipGenerationError struct {
	PairIndex int
	Err       error
}

func (e *ClipGenerationError) Error() string {
	return fmt.Sprintf("clip generation failed for pair %d: %v", e.PairIndex, e.Err)
}

func (e *ClipGenerationError) Unwrap() error { return e.Err }

// DurationMismatchError marks an adapter resource cap violation — the loop
// count needed to cover the audio exceeds the configured maximum.
type DurationMismatchError struct {
	PairIndex   int
	AudioSec    float64
	ClipSec     float64
	LoopsNeeded int
	MaxLoops    int
}

func (e *DurationMismatchError) Error() string {
	return fmt.Sprintf("pair %d: audio %.2fs over clip %.2fs needs %d loops, cap is %d",
		e.PairIndex, e.AudioSec, e.ClipSec, e.LoopsNeeded, e.MaxLoops)
}

// MergeError marks an assembly-time failure: a missing asset or a media
// decode/encode failure for a specific segment.
type MergeError struct {
	SegmentIndex int
	Err          error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed at segment %d: %v", e.SegmentIndex, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// JobTimeoutError marks a job that exceeded its overall wall-clock budget.
type JobTimeoutError struct {
	StoryID string
	Budget  string
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("video job for story %s timed out after %s", e.StoryID, e.Budget)
}
