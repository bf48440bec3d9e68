package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

// JobState is the lifecycle state of a video assembly job.
// Idle is also the implicit state before any job exists for a story.
type JobState string

const (
	JobStateIdle            JobState = "idle"
	JobStateGeneratingClips JobState = "generating_clips"
	JobStateMerging         JobState = "merging"
	JobStateAddingAudio     JobState = "adding_audio"
	JobStateCompleted       JobState = "completed"
	JobStateFailed          JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

type ClipStatus string

const (
	ClipStatusPending ClipStatus = "pending"
	ClipStatusReady   ClipStatus = "ready"
	ClipStatusFailed  ClipStatus = "failed"
)

// AdaptMode records how a fixed-duration clip was reconciled with its audio.
type AdaptMode string

const (
	AdaptModeScaled AdaptMode = "scaled"
	AdaptModeLooped AdaptMode = "looped"
)

// Models

// Segment is one unit of a story: narration text, an emotion tag, and a
// frame image reference. A transition clip for pair i interpolates from
// segment i's frame to segment i+1's frame.
// EstimatedAudioSec is computed once at load time and never rewritten.
type Segment struct {
	StoryID           string  `json:"story_id"`
	Index             int     `json:"index"`
	Text              string  `json:"text"`
	Emotion           string  `json:"emotion"` // happy | excited | mysterious | warm | tense
	ImageRef          string  `json:"image_ref"`
	EstimatedAudioSec float64 `json:"estimated_audio_sec,omitempty"`
}

// ClipAsset is the cached transition clip for one adjacent segment pair.
// A pair is identified by the index of its first segment. Once Ready the
// asset is immutable and treated as a cache hit by every later request.
type ClipAsset struct {
	StoryID      string     `json:"story_id"`
	PairIndex    int        `json:"pair_index"`
	DurationTier int        `json:"duration_tier"` // requested tier in seconds
	Status       ClipStatus `json:"status"`
	FilePath     string     `json:"file_path,omitempty"`
	RequestID    *string    `json:"request_id,omitempty"` // external task id, kept for idempotent retry
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AudioAsset is the narration audio for one segment. DurationSec is the
// measured duration of the synthesized file, not the estimate — it is the
// value the duration adapter works against.
type AudioAsset struct {
	StoryID      string    `json:"story_id"`
	SegmentIndex int       `json:"segment_index"`
	FilePath     string    `json:"file_path"`
	DurationSec  float64   `json:"duration_sec"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdaptedClip is derived during merging and never persisted on its own:
// one source clip reshaped so its playback duration equals the owning
// audio asset's measured duration exactly.
type AdaptedClip struct {
	PairIndex  int       `json:"pair_index"`
	SourcePath string    `json:"source_path"`
	FilePath   string    `json:"file_path"`
	TargetSec  float64   `json:"target_sec"`
	Mode       AdaptMode `json:"mode"`
	PartCount  int       `json:"part_count"` // 1 when scaled, loops+remainder when looped
}

// VideoJob is the externally visible state of one end-to-end assembly run.
// At most one non-terminal job exists per story at any time.
type VideoJob struct {
	ID              uuid.UUID  `json:"id"`
	StoryID         string     `json:"story_id"`
	State           JobState   `json:"state"`
	Progress        int        `json:"progress"` // 0-100, never decreases while active
	TotalClips      int        `json:"total_clips"`
	GeneratedClips  int        `json:"generated_clips"`
	OutputPath      *string    `json:"output_path,omitempty"` // set only when completed
	OutputURL       *string    `json:"output_url,omitempty"`
	ErrorMessage    *string    `json:"error,omitempty"` // set only when failed
	FailedPairIndex *int       `json:"failed_pair_index,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// DTOs for API responses

type JobStatusResponse struct {
	StoryID         string   `json:"story_id"`
	State           JobState `json:"state"`
	Progress        int      `json:"progress"`
	TotalClips      int      `json:"total_clips"`
	GeneratedClips  int      `json:"generated_clips"`
	OutputURL       *string  `json:"output_url,omitempty"`
	Error           *string  `json:"error,omitempty"`
	FailedPairIndex *int     `json:"failed_pair_index,omitempty"`
}

type StartJobResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	StoryID string    `json:"story_id"`
	State   JobState  `json:"state"`
}

type PrefetchResponse struct {
	StoryID   string `json:"story_id"`
	PairIndex int    `json:"pair_index"`
	Cached    bool   `json:"cached"`
}
