package timeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/storyloom/reel/internal/adapt"
	"github.com/storyloom/reel/internal/models"
)

// fakeRenderer records the plans it renders and tracks the total output
// duration flowing into the concat step.
type fakeRenderer struct {
	tempDir     string
	plans       map[string]adapt.Plan // output path -> plan
	concatOrder []string
	failRender  bool
	failConcat  bool
}

func newFakeRenderer(t *testing.T) *fakeRenderer {
	return &fakeRenderer{
		tempDir: t.TempDir(),
		plans:   map[string]adapt.Plan{},
	}
}

func (f *fakeRenderer) RenderAdapted(ctx context.Context, sourcePath, outputPath string, plan adapt.Plan) error {
	if f.failRender {
		return fmt.Errorf("render exploded")
	}
	f.plans[outputPath] = plan
	return os.WriteFile(outputPath, []byte("video"), 0644)
}

func (f *fakeRenderer) Concat(ctx context.Context, inputPaths []string, outputPath string) error {
	if f.failConcat {
		return fmt.Errorf("concat exploded")
	}
	f.concatOrder = append([]string{}, inputPaths...)
	return os.WriteFile(outputPath, []byte("timeline"), 0644)
}

func (f *fakeRenderer) ConcatAudio(ctx context.Context, inputPaths []string, outputPath string) error {
	return os.WriteFile(outputPath, []byte("audio"), 0644)
}

func (f *fakeRenderer) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("final"), 0644)
}

func (f *fakeRenderer) ProbeDurationSec(ctx context.Context, path string) (float64, error) {
	return 0, nil
}

func (f *fakeRenderer) CreateTempFile(filename string) string {
	return filepath.Join(f.tempDir, filename)
}

func (f *fakeRenderer) Cleanup(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func makePairs(specs ...[2]float64) []PairInput {
	pairs := make([]PairInput, len(specs))
	for i, s := range specs {
		pairs[i] = PairInput{
			PairIndex: i,
			ClipPath:  fmt.Sprintf("/clips/clip_%03d.mp4", i),
			ClipSec:   s[0],
			AudioPath: fmt.Sprintf("/audio/audio_%03d.mp3", i),
			AudioSec:  s[1],
		}
	}
	return pairs
}

func TestMergeTotalDurationMatchesAudioSum(t *testing.T) {
	// Mixed modes: compressed, looped with remainder, near-equal.
	pairs := makePairs([2]float64{5, 3}, [2]float64{10, 17}, [2]float64{5, 5})

	renderer := newFakeRenderer(t)
	asm := NewAssembler(renderer, 30)

	out := filepath.Join(renderer.tempDir, "timeline.mp4")
	adapted, err := asm.Merge(context.Background(), "story-1", pairs, out)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(adapted) != 3 {
		t.Fatalf("adapted count = %d, want 3", len(adapted))
	}

	var total, wantTotal float64
	for i, clip := range adapted {
		plan := renderer.plans[clip.FilePath]
		for _, part := range plan.Parts {
			total += part.OutputSec
		}
		wantTotal += pairs[i].AudioSec

		if clip.TargetSec != pairs[i].AudioSec {
			t.Errorf("pair %d target = %v, want %v", i, clip.TargetSec, pairs[i].AudioSec)
		}
	}
	if diff := total - wantTotal; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("timeline duration = %v, want %v", total, wantTotal)
	}

	if adapted[0].Mode != models.AdaptModeScaled {
		t.Errorf("pair 0 mode = %s, want scaled", adapted[0].Mode)
	}
	if adapted[1].Mode != models.AdaptModeLooped {
		t.Errorf("pair 1 mode = %s, want looped", adapted[1].Mode)
	}

	if len(renderer.concatOrder) != 3 {
		t.Fatalf("concat inputs = %d, want 3", len(renderer.concatOrder))
	}
	for i, p := range renderer.concatOrder {
		if p != adapted[i].FilePath {
			t.Errorf("concat position %d = %s, want %s (pair order must hold)", i, p, adapted[i].FilePath)
		}
	}
}

func TestMergeRejectsBrokenPairOrder(t *testing.T) {
	pairs := makePairs([2]float64{5, 3}, [2]float64{5, 4})
	pairs[1].PairIndex = 5 // gap

	asm := NewAssembler(newFakeRenderer(t), 30)
	_, err := asm.Merge(context.Background(), "story-1", pairs, "out.mp4")

	var mergeErr *models.MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("error type = %T, want *models.MergeError", err)
	}
	if mergeErr.SegmentIndex != 1 {
		t.Errorf("segment index = %d, want 1", mergeErr.SegmentIndex)
	}
}

func TestMergeNamesFailingSegment(t *testing.T) {
	pairs := makePairs([2]float64{5, 3})
	pairs[0].AudioPath = ""

	asm := NewAssembler(newFakeRenderer(t), 30)
	_, err := asm.Merge(context.Background(), "story-1", pairs, "out.mp4")

	var mergeErr *models.MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("error type = %T, want *models.MergeError", err)
	}
	if mergeErr.SegmentIndex != 0 {
		t.Errorf("segment index = %d, want 0", mergeErr.SegmentIndex)
	}
}

func TestMergeSurfacesLoopCapWithPairIndex(t *testing.T) {
	pairs := makePairs([2]float64{5, 3}, [2]float64{5, 500})

	asm := NewAssembler(newFakeRenderer(t), 10)
	_, err := asm.Merge(context.Background(), "story-1", pairs, "out.mp4")

	var mismatch *models.DurationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error type = %T, want *models.DurationMismatchError", err)
	}
	if mismatch.PairIndex != 1 {
		t.Errorf("pair index = %d, want 1", mismatch.PairIndex)
	}
}

func TestAttachAudioPublishesAtomically(t *testing.T) {
	renderer := newFakeRenderer(t)
	asm := NewAssembler(renderer, 30)

	outDir := t.TempDir()
	out := filepath.Join(outDir, "final", "story-1.mp4")

	err := asm.AttachAudio(context.Background(), "story-1",
		filepath.Join(renderer.tempDir, "timeline.mp4"),
		[]string{"/audio/audio_000.mp3", "/audio/audio_001.mp3"},
		out)
	if err != nil {
		t.Fatalf("AttachAudio failed: %v", err)
	}

	if _, statErr := os.Stat(out); statErr != nil {
		t.Errorf("final video missing: %v", statErr)
	}
	if _, statErr := os.Stat(out + ".tmp.mp4"); !os.IsNotExist(statErr) {
		t.Error("temp output left behind after publish")
	}
}

func TestAttachAudioRequiresTracks(t *testing.T) {
	asm := NewAssembler(newFakeRenderer(t), 30)
	err := asm.AttachAudio(context.Background(), "story-1", "video.mp4", nil, "out.mp4")

	var mergeErr *models.MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("error type = %T, want *models.MergeError", err)
	}
}
