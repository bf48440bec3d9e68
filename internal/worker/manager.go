package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/reel/internal/models"
)

// JobManager is the authoritative, in-memory view of video jobs. It
// enforces the one-active-job-per-story rule and guarantees progress never
// moves backwards while a job is active. Status reads never block on
// pipeline work — they copy under a short mutex hold.
type JobManager struct {
	mu   sync.Mutex
	jobs map[string]*models.VideoJob // storyID -> latest job
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*models.VideoJob),
	}
}

// Start registers a new job for the story. Returns ErrJobAlreadyActive when
// a non-terminal job exists; terminal jobs are replaced, which is what lets
// a failed story be retried against the warm clip cache.
func (m *JobManager) Start(storyID string, totalClips int) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[storyID]; ok && !existing.State.Terminal() {
		return nil, models.ErrJobAlreadyActive
	}

	job := &models.VideoJob{
		ID:         uuid.New(),
		StoryID:    storyID,
		State:      models.JobStateGeneratingClips,
		Progress:   0,
		TotalClips: totalClips,
		StartedAt:  time.Now(),
	}
	m.jobs[storyID] = job

	snapshot := *job
	return &snapshot, nil
}

// Snapshot returns a copy of the story's latest job, or nil if the story
// has never had one this process lifetime.
func (m *JobManager) Snapshot(storyID string) *models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[storyID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// SetState advances the job's stage and recomputes progress. Progress is
// clamped to never decrease; a stage transition that would lower the bar
// (which only happens on bugs upstream) keeps the higher value.
func (m *JobManager) SetState(storyID string, state models.JobState) *models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[storyID]
	if !ok || job.State.Terminal() {
		return nil
	}

	job.State = state
	m.applyProgressLocked(job)

	snapshot := *job
	return &snapshot
}

// ClipReady bumps the generated-clip counter during the clip stage.
func (m *JobManager) ClipReady(storyID string) *models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[storyID]
	if !ok || job.State.Terminal() {
		return nil
	}

	job.GeneratedClips++
	if job.GeneratedClips > job.TotalClips {
		job.GeneratedClips = job.TotalClips
	}
	m.applyProgressLocked(job)

	snapshot := *job
	return &snapshot
}

// Complete marks the job done with its published artifact.
func (m *JobManager) Complete(storyID, outputPath string, outputURL *string) *models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[storyID]
	if !ok || job.State.Terminal() {
		return nil
	}

	now := time.Now()
	job.State = models.JobStateCompleted
	job.OutputPath = &outputPath
	job.OutputURL = outputURL
	job.FinishedAt = &now
	m.applyProgressLocked(job)

	snapshot := *job
	return &snapshot
}

// Fail marks the job failed. failedPair is negative when no single pair is
// to blame. Failing releases the story's slot: the next Start succeeds.
func (m *JobManager) Fail(storyID, message string, failedPair int) *models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[storyID]
	if !ok || job.State.Terminal() {
		return nil
	}

	now := time.Now()
	job.State = models.JobStateFailed
	job.ErrorMessage = &message
	if failedPair >= 0 {
		job.FailedPairIndex = &failedPair
	}
	job.FinishedAt = &now

	snapshot := *job
	return &snapshot
}

func (m *JobManager) applyProgressLocked(job *models.VideoJob) {
	if next := progressFor(job.State, job.GeneratedClips, job.TotalClips); next > job.Progress {
		job.Progress = next
	}
}
