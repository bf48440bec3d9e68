package db

import (
	"context"
	"fmt"

	"github.com/storyloom/reel/internal/models"
)

// GetStorySegments returns a story's segments ordered by index. An empty
// slice (not an error) means the story has no segments.
func (db *DB) GetStorySegments(ctx context.Context, storyID string) ([]models.Segment, error) {
	query := `
		SELECT
			story_id, segment_index, text, emotion, image_ref
		FROM story_segments
		WHERE story_id = $1
		ORDER BY segment_index
	`

	rows, err := db.QueryContext(ctx, query, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg models.Segment
		err := rows.Scan(&seg.StoryID, &seg.Index, &seg.Text, &seg.Emotion, &seg.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	return segments, rows.Err()
}
