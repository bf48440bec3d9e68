package worker

import "github.com/storyloom/reel/internal/models"

// Stage progress anchors. Clip generation owns the bulk of the bar because
// it dominates wall-clock time; merging and audio are short ffmpeg passes.
const (
	progressClipsMax  = 70
	progressMerging   = 75
	progressAddAudio  = 85
	progressCompleted = 100
)

// progressFor maps a job's stage and clip counters to a 0-100 value.
// Pure so the monotonicity guarantee lives in one place: the manager only
// ever applies a new value when it exceeds the current one.
func progressFor(state models.JobState, generated, total int) int {
	switch state {
	case models.JobStateGeneratingClips:
		if total <= 0 {
			return 0
		}
		if generated > total {
			generated = total
		}
		return progressClipsMax * generated / total
	case models.JobStateMerging:
		return progressMerging
	case models.JobStateAddingAudio:
		return progressAddAudio
	case models.JobStateCompleted:
		return progressCompleted
	default:
		return 0
	}
}
