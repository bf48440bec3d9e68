// Package timeline turns a story's cached clips and narration audio into
// one continuous video. Each pair's clip is first reshaped to the measured
// duration of its audio, then the reshaped pieces are concatenated in pair
// order, and finally the butt-joined narration track is muxed on top. The
// invariant the package maintains is positional: segment i's narration
// plays exactly while the transition out of segment i is on screen.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/storyloom/reel/internal/adapt"
	"github.com/storyloom/reel/internal/models"
)

// Renderer is the media backend the assembler drives. Satisfied by
// services.FFmpegService.
type Renderer interface {
	RenderAdapted(ctx context.Context, sourcePath, outputPath string, plan adapt.Plan) error
	Concat(ctx context.Context, inputPaths []string, outputPath string) error
	ConcatAudio(ctx context.Context, inputPaths []string, outputPath string) error
	MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error
	ProbeDurationSec(ctx context.Context, path string) (float64, error)
	CreateTempFile(filename string) string
	Cleanup(paths ...string)
}

// PairInput is everything the assembler needs for one segment pair: the
// cached clip and the measured narration audio it must match.
type PairInput struct {
	PairIndex int
	ClipPath  string
	ClipSec   float64
	AudioPath string
	AudioSec  float64
}

type Assembler struct {
	renderer Renderer
	maxLoops int
}

func NewAssembler(renderer Renderer, maxLoops int) *Assembler {
	return &Assembler{
		renderer: renderer,
		maxLoops: maxLoops,
	}
}

// Merge adapts every pair's clip to its audio duration and concatenates the
// results in pair order into a silent timeline at outputPath. Pairs must be
// supplied in ascending pair index with no gaps; a missing asset or a
// failed render surfaces as a MergeError naming the offending segment.
func (a *Assembler) Merge(ctx context.Context, storyID string, pairs []PairInput, outputPath string) ([]models.AdaptedClip, error) {
	if len(pairs) == 0 {
		return nil, &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("no pairs to merge")}
	}

	for i, pair := range pairs {
		if pair.PairIndex != i {
			return nil, &models.MergeError{SegmentIndex: i,
				Err: fmt.Errorf("pair order broken: got pair %d at position %d", pair.PairIndex, i)}
		}
		if pair.ClipPath == "" {
			return nil, &models.MergeError{SegmentIndex: i, Err: fmt.Errorf("missing clip asset")}
		}
		if pair.AudioPath == "" {
			return nil, &models.MergeError{SegmentIndex: i, Err: fmt.Errorf("missing audio asset")}
		}
	}

	adapted := make([]models.AdaptedClip, 0, len(pairs))
	var tempPaths []string
	defer a.renderer.Cleanup(tempPaths...)

	segmentPaths := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		plan, err := adapt.Build(pair.ClipSec, pair.AudioSec, a.maxLoops)
		if err != nil {
			var mismatch *models.DurationMismatchError
			if errors.As(err, &mismatch) {
				mismatch.PairIndex = pair.PairIndex
				return nil, mismatch
			}
			return nil, &models.MergeError{SegmentIndex: pair.PairIndex, Err: err}
		}

		partPath := a.renderer.CreateTempFile(fmt.Sprintf("%s_seg%03d.mp4", storyID, pair.PairIndex))
		if err := a.renderer.RenderAdapted(ctx, pair.ClipPath, partPath, plan); err != nil {
			return nil, &models.MergeError{SegmentIndex: pair.PairIndex, Err: err}
		}
		tempPaths = append(tempPaths, partPath)
		segmentPaths = append(segmentPaths, partPath)

		adapted = append(adapted, models.AdaptedClip{
			PairIndex:  pair.PairIndex,
			SourcePath: pair.ClipPath,
			FilePath:   partPath,
			TargetSec:  pair.AudioSec,
			Mode:       plan.Mode,
			PartCount:  plan.PartCount(),
		})

		log.Printf("[Timeline] Pair %d adapted: %.2fs clip -> %.2fs audio (%s, %d parts)",
			pair.PairIndex, pair.ClipSec, pair.AudioSec, plan.Mode, plan.PartCount())
	}

	if err := a.renderer.Concat(ctx, segmentPaths, outputPath); err != nil {
		return nil, &models.MergeError{SegmentIndex: len(pairs) - 1,
			Err: fmt.Errorf("timeline concat failed: %w", err)}
	}

	log.Printf("[Timeline] Silent timeline assembled: %s (%d segments)", outputPath, len(pairs))
	return adapted, nil
}

// AttachAudio joins the narration files back-to-back and muxes the track
// onto the silent timeline, publishing the final artifact with an atomic
// rename so a crash mid-encode never leaves a half-written video at the
// published path.
func (a *Assembler) AttachAudio(ctx context.Context, storyID, videoPath string, audioPaths []string, outputPath string) error {
	if len(audioPaths) == 0 {
		return &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("no audio tracks to attach")}
	}

	trackPath := a.renderer.CreateTempFile(storyID + "_narration.mp3")
	defer a.renderer.Cleanup(trackPath)

	if err := a.renderer.ConcatAudio(ctx, audioPaths, trackPath); err != nil {
		return &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("narration concat failed: %w", err)}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("failed to create output dir: %w", err)}
	}

	tmpOutput := outputPath + ".tmp.mp4"
	if err := a.renderer.MuxAudio(ctx, videoPath, trackPath, tmpOutput); err != nil {
		a.renderer.Cleanup(tmpOutput)
		return &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("audio mux failed: %w", err)}
	}

	if err := os.Rename(tmpOutput, outputPath); err != nil {
		a.renderer.Cleanup(tmpOutput)
		return &models.MergeError{SegmentIndex: 0, Err: fmt.Errorf("failed to publish video: %w", err)}
	}

	log.Printf("[Timeline] Final video published: %s", outputPath)
	return nil
}
