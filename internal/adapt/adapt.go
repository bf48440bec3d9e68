// Package adapt reconciles fixed-duration transition clips with
// variable-length narration audio. The clip service only produces two
// discrete durations, while measured audio duration is continuous — this
// package computes the time-scaling / looping plan that makes a clip's
// playback match its audio exactly.
package adapt

import (
	"fmt"
	"math"
	"strings"

	"github.com/storyloom/reel/internal/models"
)

// Epsilon is the duration tolerance used for comparisons, one frame at the
// pipeline's working frame rate. Anything below this is rounding noise from
// the encoder, not a real remainder.
const Epsilon = 1.0 / 24

// EstimateSpeechSeconds predicts narration duration from text before any
// audio exists, using a configurable character rate (CJK text runs at
// roughly 3-4 chars/sec, English at 2-3 words/sec). Used only to pick a
// clip duration tier; the measured duration always wins later.
func EstimateSpeechSeconds(text string, charsPerSecond float64) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	if charsPerSecond <= 0 {
		charsPerSecond = 3.5
	}
	estimated := float64(len([]rune(trimmed))) / charsPerSecond
	return math.Max(estimated, 1.0)
}

// Tiers holds the two clip durations the external service can produce.
type Tiers struct {
	ShortSec int
	LongSec  int
}

// Select maps a duration to one of the two supported tiers: the short tier
// when the duration fits inside it, the long tier otherwise. A duration
// beyond the long tier still selects the long tier — covering the gap is
// the adapter's job, via looping.
func (t Tiers) Select(durationSec float64) int {
	if durationSec <= float64(t.ShortSec) {
		return t.ShortSec
	}
	return t.LongSec
}

// Part is one rendered piece of an adapted clip: the source clip played
// back so that it occupies exactly OutputSec of the timeline.
type Part struct {
	// SourceSec is how much of the source clip this part consumes (always
	// the full clip; parts differ only in how that span is stretched).
	SourceSec float64
	// OutputSec is the exact duration this part contributes.
	OutputSec float64
}

// Scale is the playback speed factor for this part: source over output.
// 1 means unchanged, >1 means sped up, <1 slowed down.
func (p Part) Scale() float64 {
	if p.OutputSec <= 0 {
		return 1
	}
	return p.SourceSec / p.OutputSec
}

// Plan describes how one clip of duration clipSec becomes exactly
// targetSec of video.
type Plan struct {
	Mode         models.AdaptMode
	TargetSec    float64
	Loops        int     // whole repeats of the source clip (looped mode)
	RemainderSec float64 // leftover covered by a scaled final part, 0 if none
	ScaleFactor  float64 // clip/target for scaled mode, clip/remainder for the looped tail
	Parts        []Part
}

// PartCount is the number of timeline pieces this plan produces:
// 1 for a scaled clip, loops plus an optional remainder for a looped one.
func (p Plan) PartCount() int { return len(p.Parts) }

// Build computes the reconciliation plan for one clip/audio pair.
//
// audioSec <= clipSec: the whole clip is uniformly time-scaled by
// clipSec/audioSec and trimmed to audioSec (equal durations degenerate to a
// factor of 1). audioSec > clipSec: floor(audioSec/clipSec) whole repeats,
// then a final instance scaled to cover the remainder, if any.
//
// The sum of part output durations always equals audioSec exactly; callers
// clamp the rendered result to audioSec to absorb encoder rounding.
// maxLoops bounds the repeat count; exceeding it is a resource-cap error,
// not a reason to degrade output.
func Build(clipSec, audioSec float64, maxLoops int) (Plan, error) {
	if audioSec <= 0 {
		return Plan{}, fmt.Errorf("audio duration must be positive, got %.3fs", audioSec)
	}
	if clipSec <= 0 {
		return Plan{}, fmt.Errorf("clip duration must be positive, got %.3fs", clipSec)
	}

	// A == C (within a frame) takes the scaled branch with factor ~1.
	if audioSec <= clipSec+Epsilon {
		return Plan{
			Mode:        models.AdaptModeScaled,
			TargetSec:   audioSec,
			ScaleFactor: clipSec / audioSec,
			Parts:       []Part{{SourceSec: clipSec, OutputSec: audioSec}},
		}, nil
	}

	loops := int(math.Floor(audioSec / clipSec))
	remainder := audioSec - float64(loops)*clipSec
	if remainder < Epsilon {
		// Sub-frame leftovers are folded into the last whole repeat.
		remainder = 0
	}

	if maxLoops > 0 && loops > maxLoops {
		return Plan{}, &models.DurationMismatchError{
			PairIndex:   -1,
			AudioSec:    audioSec,
			ClipSec:     clipSec,
			LoopsNeeded: loops,
			MaxLoops:    maxLoops,
		}
	}

	parts := make([]Part, 0, loops+1)
	for i := 0; i < loops; i++ {
		parts = append(parts, Part{SourceSec: clipSec, OutputSec: clipSec})
	}

	scaleFactor := 1.0
	if remainder > 0 {
		scaleFactor = clipSec / remainder
		parts = append(parts, Part{SourceSec: clipSec, OutputSec: remainder})
	} else {
		// Keep the exact-duration invariant when the remainder was folded.
		parts[len(parts)-1].OutputSec = audioSec - float64(loops-1)*clipSec
	}

	return Plan{
		Mode:         models.AdaptModeLooped,
		TargetSec:    audioSec,
		Loops:        loops,
		RemainderSec: remainder,
		ScaleFactor:  scaleFactor,
		Parts:        parts,
	}, nil
}
