package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/storyloom/reel/internal/models"
)

func (db *DB) CreateVideoJob(ctx context.Context, job *models.VideoJob) error {
	query := `
		INSERT INTO video_jobs (
			id, story_id, state, progress, total_clips,
			generated_clips, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.ExecContext(
		ctx, query,
		job.ID, job.StoryID, job.State, job.Progress,
		job.TotalClips, job.GeneratedClips, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create video job: %w", err)
	}
	return nil
}

// UpdateVideoJob mirrors the in-memory job state. Best effort on the hot
// path: the worker logs failures but never aborts a job over them.
func (db *DB) UpdateVideoJob(ctx context.Context, job *models.VideoJob) error {
	query := `
		UPDATE video_jobs SET
			state = $2,
			progress = $3,
			total_clips = $4,
			generated_clips = $5,
			output_path = $6,
			output_url = $7,
			error_message = $8,
			failed_pair_index = $9,
			finished_at = $10
		WHERE id = $1
	`

	_, err := db.ExecContext(
		ctx, query,
		job.ID, job.State, job.Progress, job.TotalClips, job.GeneratedClips,
		job.OutputPath, job.OutputURL, job.ErrorMessage, job.FailedPairIndex,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update video job: %w", err)
	}
	return nil
}

// GetLatestVideoJob returns a story's most recent job, or nil when the
// story has never had one.
func (db *DB) GetLatestVideoJob(ctx context.Context, storyID string) (*models.VideoJob, error) {
	query := `
		SELECT
			id, story_id, state, progress, total_clips, generated_clips,
			output_path, output_url, error_message, failed_pair_index,
			started_at, finished_at
		FROM video_jobs
		WHERE story_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	job := &models.VideoJob{}
	err := db.QueryRowContext(ctx, query, storyID).Scan(
		&job.ID, &job.StoryID, &job.State, &job.Progress,
		&job.TotalClips, &job.GeneratedClips,
		&job.OutputPath, &job.OutputURL, &job.ErrorMessage, &job.FailedPairIndex,
		&job.StartedAt, &job.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video job: %w", err)
	}

	return job, nil
}

func (db *DB) GetVideoJob(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	query := `
		SELECT
			id, story_id, state, progress, total_clips, generated_clips,
			output_path, output_url, error_message, failed_pair_index,
			started_at, finished_at
		FROM video_jobs
		WHERE id = $1
	`

	job := &models.VideoJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.StoryID, &job.State, &job.Progress,
		&job.TotalClips, &job.GeneratedClips,
		&job.OutputPath, &job.OutputURL, &job.ErrorMessage, &job.FailedPairIndex,
		&job.StartedAt, &job.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video job: %w", err)
	}

	return job, nil
}
