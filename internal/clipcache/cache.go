// Package clipcache owns the per-story transition clip cache. A clip is
// keyed by (story, pair index, duration tier); once generated it lives on
// disk as clip_NNN.mp4 under the story's media directory and is reused by
// every later job and prefetch. Concurrent requests for the same pair are
// collapsed to one upstream generation.
package clipcache

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/storyloom/reel/internal/models"
	"github.com/storyloom/reel/internal/services"
)

// Prober measures a media file's duration. Satisfied by FFmpegService.
type Prober interface {
	ProbeDurationSec(ctx context.Context, path string) (float64, error)
	NormalizeClip(ctx context.Context, inputPath, outputPath string) error
}

// Result is a resolved clip: a normalized local file plus its measured
// duration. Cached reports whether the clip existed before this call.
type Result struct {
	Path        string
	DurationSec float64
	Cached      bool
}

type Cache struct {
	mediaDir string
	gen      services.ClipGenerator
	frames   *services.FrameResolver
	prober   Prober
	group    singleflight.Group
}

func New(mediaDir string, gen services.ClipGenerator, frames *services.FrameResolver, prober Prober) *Cache {
	return &Cache{
		mediaDir: mediaDir,
		gen:      gen,
		frames:   frames,
		prober:   prober,
	}
}

// ClipPath is the canonical on-disk location for a pair's clip.
func (c *Cache) ClipPath(storyID string, pairIndex int) string {
	return filepath.Join(c.mediaDir, storyID, fmt.Sprintf("clip_%03d.mp4", pairIndex))
}

// Has reports whether the pair's clip is already on disk.
func (c *Cache) Has(storyID string, pairIndex int) bool {
	info, err := os.Stat(c.ClipPath(storyID, pairIndex))
	return err == nil && info.Size() > 0
}

// Acquire returns the pair's clip, generating it if absent. Safe for
// concurrent use: a prefetch and a job asking for the same pair share a
// single upstream request, and the loser of the race gets the winner's
// file. A failed generation leaves no file behind, so the next Acquire
// retries from scratch.
func (c *Cache) Acquire(ctx context.Context, start, end models.Segment, tier int) (Result, error) {
	storyID := start.StoryID
	pairIndex := start.Index
	path := c.ClipPath(storyID, pairIndex)

	if c.Has(storyID, pairIndex) {
		durationSec, err := c.prober.ProbeDurationSec(ctx, path)
		if err != nil {
			return Result{}, &models.ClipGenerationError{PairIndex: pairIndex,
				Err: fmt.Errorf("cached clip unreadable: %w", err)}
		}
		return Result{Path: path, DurationSec: durationSec, Cached: true}, nil
	}

	key := fmt.Sprintf("%s:%d:%d", storyID, pairIndex, tier)
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight lock: a prefetch may have landed the
		// file between the stat above and winning the flight.
		if c.Has(storyID, pairIndex) {
			return path, nil
		}
		return path, c.generate(ctx, start, end, tier, path)
	})
	if err != nil {
		return Result{}, &models.ClipGenerationError{PairIndex: pairIndex, Err: err}
	}

	finalPath := v.(string)
	durationSec, err := c.prober.ProbeDurationSec(ctx, finalPath)
	if err != nil {
		return Result{}, &models.ClipGenerationError{PairIndex: pairIndex,
			Err: fmt.Errorf("generated clip unreadable: %w", err)}
	}

	if shared {
		log.Printf("[ClipCache] Pair %s/%d resolved via shared in-flight request", storyID, pairIndex)
	}

	return Result{Path: finalPath, DurationSec: durationSec}, nil
}

// generate runs the full miss path: resolve frames, call the provider,
// normalize onto the output canvas, and publish with an atomic rename.
func (c *Cache) generate(ctx context.Context, start, end models.Segment, tier int, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create story media dir: %w", err)
	}

	startFrame, err := c.frames.Resolve(ctx, start.ImageRef)
	if err != nil {
		return fmt.Errorf("start frame: %w", err)
	}
	endFrame, err := c.frames.Resolve(ctx, end.ImageRef)
	if err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	log.Printf("[ClipCache] Generating clip for pair %s/%d (tier=%ds)", start.StoryID, start.Index, tier)

	data, err := c.gen.GenerateClip(ctx, services.ClipRequest{
		StartFramePath: startFrame,
		EndFramePath:   endFrame,
		MotionHint:     services.MotionHint(start.Emotion),
		DurationSec:    tier,
	})
	if err != nil {
		return err
	}

	rawPath := path + ".raw.mp4"
	if err := os.WriteFile(rawPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write raw clip: %w", err)
	}
	defer os.Remove(rawPath)

	tmpPath := path + ".tmp.mp4"
	if err := c.prober.NormalizeClip(ctx, rawPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish clip: %w", err)
	}

	log.Printf("[ClipCache] Clip ready: %s", path)
	return nil
}
