package worker

import (
	"errors"
	"testing"

	"github.com/storyloom/reel/internal/models"
)

func TestStartRejectsSecondActiveJob(t *testing.T) {
	m := NewJobManager()

	first, err := m.Start("story-1", 3)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if first.State != models.JobStateGeneratingClips {
		t.Errorf("state = %s, want generating_clips", first.State)
	}

	_, err = m.Start("story-1", 3)
	if !errors.Is(err, models.ErrJobAlreadyActive) {
		t.Fatalf("second start error = %v, want ErrJobAlreadyActive", err)
	}

	// A different story is unaffected.
	if _, err := m.Start("story-2", 2); err != nil {
		t.Errorf("unrelated story start failed: %v", err)
	}
}

func TestFailedJobReleasesSlot(t *testing.T) {
	m := NewJobManager()

	if _, err := m.Start("story-1", 3); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	snap := m.Fail("story-1", "clip generation failed for pair 1: boom", 1)
	if snap == nil {
		t.Fatal("fail returned nil snapshot")
	}
	if snap.State != models.JobStateFailed {
		t.Errorf("state = %s, want failed", snap.State)
	}
	if snap.FailedPairIndex == nil || *snap.FailedPairIndex != 1 {
		t.Errorf("failed pair = %v, want 1", snap.FailedPairIndex)
	}

	// Terminal state frees the story for a retry.
	retry, err := m.Start("story-1", 3)
	if err != nil {
		t.Fatalf("retry start failed: %v", err)
	}
	if retry.ID == snap.ID {
		t.Error("retry reused the failed job's id")
	}
	if retry.GeneratedClips != 0 || retry.Progress != 0 {
		t.Error("retry job did not start fresh")
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	m := NewJobManager()

	if _, err := m.Start("story-1", 4); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	last := 0
	observe := func(snap *models.VideoJob, step string) {
		t.Helper()
		if snap == nil {
			t.Fatalf("nil snapshot at %s", step)
		}
		if snap.Progress < last {
			t.Errorf("progress decreased at %s: %d -> %d", step, last, snap.Progress)
		}
		last = snap.Progress
	}

	for i := 0; i < 4; i++ {
		observe(m.ClipReady("story-1"), "clip ready")
	}
	if last != 70 {
		t.Errorf("progress after all clips = %d, want 70", last)
	}

	observe(m.SetState("story-1", models.JobStateMerging), "merging")
	observe(m.SetState("story-1", models.JobStateAddingAudio), "adding audio")
	observe(m.Complete("story-1", "/videos/story-1/final_video.mp4", nil), "completed")

	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestClipReadyClampsAtTotal(t *testing.T) {
	m := NewJobManager()

	if _, err := m.Start("story-1", 2); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var snap *models.VideoJob
	for i := 0; i < 5; i++ {
		snap = m.ClipReady("story-1")
	}
	if snap.GeneratedClips != 2 {
		t.Errorf("generated = %d, want clamped to 2", snap.GeneratedClips)
	}
	if snap.Progress != 70 {
		t.Errorf("progress = %d, want 70", snap.Progress)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewJobManager()

	if _, err := m.Start("story-1", 3); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	snap := m.Snapshot("story-1")
	snap.Progress = 99
	snap.State = models.JobStateCompleted

	fresh := m.Snapshot("story-1")
	if fresh.Progress == 99 || fresh.State == models.JobStateCompleted {
		t.Error("mutating a snapshot leaked into manager state")
	}

	if m.Snapshot("unknown-story") != nil {
		t.Error("unknown story returned a snapshot")
	}
}

func TestUpdatesAfterTerminalAreIgnored(t *testing.T) {
	m := NewJobManager()

	if _, err := m.Start("story-1", 1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	m.Complete("story-1", "/out.mp4", nil)

	if snap := m.SetState("story-1", models.JobStateMerging); snap != nil {
		t.Error("state change applied to a completed job")
	}
	if snap := m.Fail("story-1", "late failure", 0); snap != nil {
		t.Error("fail applied to a completed job")
	}
}

func TestProgressFor(t *testing.T) {
	tests := []struct {
		state     models.JobState
		generated int
		total     int
		want      int
	}{
		{models.JobStateGeneratingClips, 0, 4, 0},
		{models.JobStateGeneratingClips, 1, 4, 17},
		{models.JobStateGeneratingClips, 2, 4, 35},
		{models.JobStateGeneratingClips, 4, 4, 70},
		{models.JobStateGeneratingClips, 0, 0, 0},
		{models.JobStateMerging, 4, 4, 75},
		{models.JobStateAddingAudio, 4, 4, 85},
		{models.JobStateCompleted, 4, 4, 100},
		{models.JobStateFailed, 2, 4, 0},
	}

	for _, tt := range tests {
		if got := progressFor(tt.state, tt.generated, tt.total); got != tt.want {
			t.Errorf("progressFor(%s, %d, %d) = %d, want %d",
				tt.state, tt.generated, tt.total, got, tt.want)
		}
	}
}
