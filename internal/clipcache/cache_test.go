package clipcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/storyloom/reel/internal/models"
	"github.com/storyloom/reel/internal/services"
)

type fakeGenerator struct {
	calls int32
	err   error
}

func (f *fakeGenerator) GenerateClip(ctx context.Context, req services.ClipRequest) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("fake mp4 payload"), nil
}

type fakeProber struct {
	durationSec float64
}

func (f *fakeProber) ProbeDurationSec(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	return f.durationSec, nil
}

func (f *fakeProber) NormalizeClip(ctx context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

func testSegments(t *testing.T, dir string) (models.Segment, models.Segment) {
	t.Helper()
	startFrame := filepath.Join(dir, "frame0.png")
	endFrame := filepath.Join(dir, "frame1.png")
	for _, p := range []string{startFrame, endFrame} {
		if err := os.WriteFile(p, []byte("png"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	start := models.Segment{StoryID: "story-1", Index: 0, Text: "once upon a time", Emotion: "warm", ImageRef: startFrame}
	end := models.Segment{StoryID: "story-1", Index: 1, Text: "the end", Emotion: "happy", ImageRef: endFrame}
	return start, end
}

func newTestCache(t *testing.T, gen services.ClipGenerator) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	frames := services.NewFrameResolver(filepath.Join(dir, "frames"))
	cache := New(filepath.Join(dir, "media"), gen, frames, &fakeProber{durationSec: 5.0})
	return cache, dir
}

func TestAcquireGeneratesThenHitsCache(t *testing.T) {
	gen := &fakeGenerator{}
	cache, dir := newTestCache(t, gen)
	start, end := testSegments(t, dir)

	res, err := cache.Acquire(context.Background(), start, end, 5)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if res.Cached {
		t.Error("first acquire reported a cache hit")
	}
	if res.DurationSec != 5.0 {
		t.Errorf("duration = %v, want 5", res.DurationSec)
	}
	if filepath.Base(res.Path) != "clip_000.mp4" {
		t.Errorf("clip path = %s, want clip_000.mp4", res.Path)
	}

	res2, err := cache.Acquire(context.Background(), start, end, 5)
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if !res2.Cached {
		t.Error("second acquire missed the cache")
	}
	if got := atomic.LoadInt32(&gen.calls); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}
}

func TestAcquireCollapsesConcurrentRequests(t *testing.T) {
	gen := &fakeGenerator{}
	cache, dir := newTestCache(t, gen)
	start, end := testSegments(t, dir)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Acquire(context.Background(), start, end, 5)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&gen.calls); got != 1 {
		t.Errorf("generator calls = %d, want 1 (singleflight collapse)", got)
	}
}

func TestAcquireFailureLeavesNoFileAndRetries(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("upstream unavailable")}
	cache, dir := newTestCache(t, gen)
	start, end := testSegments(t, dir)

	_, err := cache.Acquire(context.Background(), start, end, 5)
	if err == nil {
		t.Fatal("expected generation error")
	}

	var cgErr *models.ClipGenerationError
	if !errors.As(err, &cgErr) {
		t.Fatalf("error type = %T, want *models.ClipGenerationError", err)
	}
	if cgErr.PairIndex != 0 {
		t.Errorf("pair index = %d, want 0", cgErr.PairIndex)
	}
	if cache.Has(start.StoryID, start.Index) {
		t.Error("failed generation left a clip file behind")
	}

	// A later acquire retries from scratch and succeeds.
	gen.err = nil
	res, err := cache.Acquire(context.Background(), start, end, 5)
	if err != nil {
		t.Fatalf("retry acquire failed: %v", err)
	}
	if res.Cached {
		t.Error("retry acquire reported a cache hit")
	}
}
