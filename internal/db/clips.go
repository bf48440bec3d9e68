package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storyloom/reel/internal/models"
)

// UpsertClipAsset records one pair's clip. The (story_id, pair_index) key
// makes retries idempotent: a re-generated clip overwrites the failed row.
func (db *DB) UpsertClipAsset(ctx context.Context, clip *models.ClipAsset) error {
	query := `
		INSERT INTO clip_assets (
			story_id, pair_index, duration_tier, status,
			file_path, request_id, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (story_id, pair_index) DO UPDATE SET
			duration_tier = EXCLUDED.duration_tier,
			status = EXCLUDED.status,
			file_path = EXCLUDED.file_path,
			request_id = EXCLUDED.request_id,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.StoryID, clip.PairIndex, clip.DurationTier, clip.Status,
		clip.FilePath, clip.RequestID, clip.ErrorMessage,
	).Scan(&clip.CreatedAt, &clip.UpdatedAt)
}

func (db *DB) GetClipAsset(ctx context.Context, storyID string, pairIndex int) (*models.ClipAsset, error) {
	query := `
		SELECT
			story_id, pair_index, duration_tier, status,
			file_path, request_id, error_message, created_at, updated_at
		FROM clip_assets
		WHERE story_id = $1 AND pair_index = $2
	`

	clip := &models.ClipAsset{}
	err := db.QueryRowContext(ctx, query, storyID, pairIndex).Scan(
		&clip.StoryID, &clip.PairIndex, &clip.DurationTier, &clip.Status,
		&clip.FilePath, &clip.RequestID, &clip.ErrorMessage,
		&clip.CreatedAt, &clip.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip asset: %w", err)
	}

	return clip, nil
}

// UpsertAudioAsset records one segment's measured narration audio.
func (db *DB) UpsertAudioAsset(ctx context.Context, audio *models.AudioAsset) error {
	query := `
		INSERT INTO audio_assets (
			story_id, segment_index, file_path, duration_sec
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (story_id, segment_index) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			duration_sec = EXCLUDED.duration_sec
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		audio.StoryID, audio.SegmentIndex, audio.FilePath, audio.DurationSec,
	).Scan(&audio.CreatedAt)
}
