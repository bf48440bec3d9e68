package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueGenerateVideo = "queue:generate_video"
	QueuePrefetchClip  = "queue:prefetch_clip"
)

type Queue struct {
	client *redis.Client
}

// Job is one unit of queued work. PairIndex is set only for prefetch jobs.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	StoryID   string    `json:"story_id"`
	PairIndex *int      `json:"pair_index,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueGenerateVideo queues a full assembly run for a story.
func (q *Queue) EnqueueGenerateVideo(ctx context.Context, storyID string, jobID uuid.UUID) error {
	job := &Job{
		ID:      jobID,
		Type:    "generate_video",
		StoryID: storyID,
	}
	return q.Enqueue(ctx, QueueGenerateVideo, job)
}

// EnqueuePrefetchClip queues background generation of one pair's clip so it
// is warm in the cache before the story's video is requested.
func (q *Queue) EnqueuePrefetchClip(ctx context.Context, storyID string, pairIndex int) error {
	job := &Job{
		ID:        uuid.New(),
		Type:      "prefetch_clip",
		StoryID:   storyID,
		PairIndex: &pairIndex,
	}
	return q.Enqueue(ctx, QueuePrefetchClip, job)
}
