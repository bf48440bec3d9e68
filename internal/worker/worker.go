package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyloom/reel/internal/adapt"
	"github.com/storyloom/reel/internal/clipcache"
	"github.com/storyloom/reel/internal/config"
	"github.com/storyloom/reel/internal/db"
	"github.com/storyloom/reel/internal/models"
	"github.com/storyloom/reel/internal/queue"
	"github.com/storyloom/reel/internal/services"
	"github.com/storyloom/reel/internal/storage"
	"github.com/storyloom/reel/internal/timeline"
)

// Worker consumes queued jobs and drives the assembly pipeline:
// generating_clips -> merging -> adding_audio -> completed. One pipeline
// runs per story at a time; pairs inside the clip stage fan out up to the
// configured concurrency.
type Worker struct {
	cfg       *config.Config
	database  *db.DB
	queue     *queue.Queue
	manager   *JobManager
	clips     *clipcache.Cache
	tts       services.TTSService
	ffmpeg    *services.FFmpegService
	assembler *timeline.Assembler
	store     *storage.Storage
	tiers     adapt.Tiers
}

func New(
	cfg *config.Config,
	database *db.DB,
	q *queue.Queue,
	manager *JobManager,
	clips *clipcache.Cache,
	tts services.TTSService,
	ffmpeg *services.FFmpegService,
	assembler *timeline.Assembler,
	store *storage.Storage,
) *Worker {
	return &Worker{
		cfg:       cfg,
		database:  database,
		queue:     q,
		manager:   manager,
		clips:     clips,
		tts:       tts,
		ffmpeg:    ffmpeg,
		assembler: assembler,
		store:     store,
		tiers:     adapt.Tiers{ShortSec: cfg.ClipTierShortSec, LongSec: cfg.ClipTierLongSec},
	}
}

// Start launches the queue consumers. Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("[Worker] Starting queue consumers")

	go w.consume(ctx, queue.QueuePrefetchClip, w.handlePrefetch)
	w.consume(ctx, queue.QueueGenerateVideo, w.handleGenerateVideo)
}

func (w *Worker) consume(ctx context.Context, queueName string, handle func(context.Context, *queue.Job)) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] Consumer for %s stopping", queueName)
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] Dequeue from %s failed: %v", queueName, err)
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue
		}

		handle(ctx, job)
	}
}

// ---------------------------------------------------------------------------
// Job entry points
// ---------------------------------------------------------------------------

// StartVideoJob validates the story, claims its job slot, and queues the
// pipeline. Called from the API handler; returns immediately.
func (w *Worker) StartVideoJob(ctx context.Context, storyID string) (*models.VideoJob, error) {
	segments, err := w.loadSegments(ctx, storyID)
	if err != nil {
		return nil, err
	}

	totalClips := len(segments) - 1
	job, err := w.manager.Start(storyID, totalClips)
	if err != nil {
		return nil, err
	}

	if err := w.database.CreateVideoJob(ctx, job); err != nil {
		log.Printf("[Worker] Failed to mirror job %s to db: %v", job.ID, err)
	}

	if err := w.queue.EnqueueGenerateVideo(ctx, storyID, job.ID); err != nil {
		w.finishFailed(storyID, fmt.Errorf("failed to queue job: %w", err))
		return nil, fmt.Errorf("failed to queue video job: %w", err)
	}

	log.Printf("[Worker] Job %s queued for story %s (%d clips)", job.ID, storyID, totalClips)
	return job, nil
}

// PrefetchClip queues background generation for one pair. Returns true
// immediately when the clip is already cached.
func (w *Worker) PrefetchClip(ctx context.Context, storyID string, pairIndex int) (bool, error) {
	segments, err := w.loadSegments(ctx, storyID)
	if err != nil {
		return false, err
	}
	if pairIndex < 0 || pairIndex >= len(segments)-1 {
		return false, fmt.Errorf("pair index %d out of range for %d segments", pairIndex, len(segments))
	}

	if w.clips.Has(storyID, pairIndex) {
		return true, nil
	}

	if err := w.queue.EnqueuePrefetchClip(ctx, storyID, pairIndex); err != nil {
		return false, fmt.Errorf("failed to queue prefetch: %w", err)
	}
	return false, nil
}

// JobStatus returns the story's current job view, falling back to the
// database for jobs from before a restart.
func (w *Worker) JobStatus(ctx context.Context, storyID string) (*models.VideoJob, error) {
	if job := w.manager.Snapshot(storyID); job != nil {
		return job, nil
	}
	return w.database.GetLatestVideoJob(ctx, storyID)
}

// ---------------------------------------------------------------------------
// Queue handlers
// ---------------------------------------------------------------------------

func (w *Worker) handleGenerateVideo(ctx context.Context, job *queue.Job) {
	log.Printf("[Worker] Processing video job %s (story=%s)", job.ID, job.StoryID)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	err := w.runPipeline(jobCtx, job.StoryID)
	if err == nil {
		return
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = &models.JobTimeoutError{StoryID: job.StoryID, Budget: w.cfg.JobTimeout.String()}
	}
	w.finishFailed(job.StoryID, err)
}

func (w *Worker) handlePrefetch(ctx context.Context, job *queue.Job) {
	if job.PairIndex == nil {
		log.Printf("[Worker] Prefetch job %s missing pair index, dropping", job.ID)
		return
	}
	pairIndex := *job.PairIndex

	segments, err := w.loadSegments(ctx, job.StoryID)
	if err != nil {
		log.Printf("[Worker] Prefetch for %s/%d aborted: %v", job.StoryID, pairIndex, err)
		return
	}
	if pairIndex >= len(segments)-1 {
		return
	}

	if _, err := w.acquireClip(ctx, segments, pairIndex); err != nil {
		// Prefetch is advisory; the job path retries on demand.
		log.Printf("[Worker] Prefetch for %s/%d failed: %v", job.StoryID, pairIndex, err)
		return
	}
	log.Printf("[Worker] Prefetched clip %s/%d", job.StoryID, pairIndex)
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// pairAssets collects the per-pair outputs of the clip stage.
type pairAssets struct {
	clip  clipcache.Result
	audio models.AudioAsset
}

func (w *Worker) runPipeline(ctx context.Context, storyID string) error {
	segments, err := w.loadSegments(ctx, storyID)
	if err != nil {
		return err
	}
	totalClips := len(segments) - 1

	// Stage 1: clips and narration for every pair, bounded fan-out.
	assets := make([]pairAssets, totalClips)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrentClips)

	for i := 0; i < totalClips; i++ {
		i := i
		g.Go(func() error {
			clip, err := w.acquireClip(gctx, segments, i)
			if err != nil {
				return err
			}

			audio, err := w.synthesizeNarration(gctx, segments[i])
			if err != nil {
				return &models.ClipGenerationError{PairIndex: i, Err: err}
			}

			assets[i] = pairAssets{clip: clip, audio: audio}
			if snap := w.manager.ClipReady(storyID); snap != nil {
				w.mirror(snap)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Stage 2: adapt and concatenate into the silent timeline.
	if snap := w.manager.SetState(storyID, models.JobStateMerging); snap != nil {
		w.mirror(snap)
	}

	pairs := make([]timeline.PairInput, totalClips)
	audioPaths := make([]string, totalClips)
	for i, a := range assets {
		pairs[i] = timeline.PairInput{
			PairIndex: i,
			ClipPath:  a.clip.Path,
			ClipSec:   a.clip.DurationSec,
			AudioPath: a.audio.FilePath,
			AudioSec:  a.audio.DurationSec,
		}
		audioPaths[i] = a.audio.FilePath
	}

	timelinePath := w.ffmpeg.CreateTempFile(storyID + "_timeline.mp4")
	defer w.ffmpeg.Cleanup(timelinePath)

	if _, err := w.assembler.Merge(ctx, storyID, pairs, timelinePath); err != nil {
		return err
	}

	// Stage 3: attach narration and publish.
	if snap := w.manager.SetState(storyID, models.JobStateAddingAudio); snap != nil {
		w.mirror(snap)
	}

	finalPath := filepath.Join(w.cfg.MediaDir, storyID, "final_video.mp4")
	if err := w.assembler.AttachAudio(ctx, storyID, timelinePath, audioPaths, finalPath); err != nil {
		return err
	}

	var outputURL *string
	if w.store.Enabled() {
		storagePath := w.store.VideoStoragePath(storyID)
		if err := w.store.UploadFile(ctx, storagePath, finalPath, "video/mp4"); err != nil {
			// The local artifact is complete; publishing is best effort.
			log.Printf("[Worker] Upload for story %s failed: %v", storyID, err)
		} else {
			url := w.store.GetPublicURL(storagePath)
			outputURL = &url
		}
	}

	if snap := w.manager.Complete(storyID, finalPath, outputURL); snap != nil {
		w.mirror(snap)
	}

	log.Printf("[Worker] Story %s video completed: %s", storyID, finalPath)
	return nil
}

// acquireClip resolves pair i's transition clip through the cache, picking
// the duration tier from the estimated narration length of segment i.
func (w *Worker) acquireClip(ctx context.Context, segments []models.Segment, pairIndex int) (clipcache.Result, error) {
	start, end := segments[pairIndex], segments[pairIndex+1]
	tier := w.tiers.Select(start.EstimatedAudioSec)

	res, err := w.clips.Acquire(ctx, start, end, tier)
	if err != nil {
		return clipcache.Result{}, err
	}

	status := models.ClipStatusReady
	if dbErr := w.database.UpsertClipAsset(ctx, &models.ClipAsset{
		StoryID:      start.StoryID,
		PairIndex:    pairIndex,
		DurationTier: tier,
		Status:       status,
		FilePath:     res.Path,
	}); dbErr != nil {
		log.Printf("[Worker] Failed to record clip asset %s/%d: %v", start.StoryID, pairIndex, dbErr)
	}

	return res, nil
}

// synthesizeNarration produces segment i's narration audio and measures its
// real duration. Already-synthesized segments are reused from disk.
func (w *Worker) synthesizeNarration(ctx context.Context, seg models.Segment) (models.AudioAsset, error) {
	audioPath := filepath.Join(w.cfg.MediaDir, seg.StoryID, fmt.Sprintf("audio_%03d.mp3", seg.Index))

	if info, err := os.Stat(audioPath); err != nil || info.Size() == 0 {
		resp, err := w.tts.GenerateSpeech(ctx, seg.Text, seg.Emotion, "")
		if err != nil {
			return models.AudioAsset{}, fmt.Errorf("narration synthesis failed: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(audioPath), 0755); err != nil {
			return models.AudioAsset{}, fmt.Errorf("failed to create audio dir: %w", err)
		}
		tmpPath := audioPath + ".tmp"
		if err := os.WriteFile(tmpPath, resp.AudioData, 0644); err != nil {
			return models.AudioAsset{}, fmt.Errorf("failed to write audio: %w", err)
		}
		if err := os.Rename(tmpPath, audioPath); err != nil {
			os.Remove(tmpPath)
			return models.AudioAsset{}, fmt.Errorf("failed to publish audio: %w", err)
		}
	}

	// The measured duration is what the adapter works against; the TTS
	// estimate is never trusted for timeline math.
	durationSec, err := w.ffmpeg.ProbeDurationSec(ctx, audioPath)
	if err != nil {
		return models.AudioAsset{}, fmt.Errorf("failed to measure narration: %w", err)
	}

	audio := models.AudioAsset{
		StoryID:      seg.StoryID,
		SegmentIndex: seg.Index,
		FilePath:     audioPath,
		DurationSec:  durationSec,
	}
	if dbErr := w.database.UpsertAudioAsset(ctx, &audio); dbErr != nil {
		log.Printf("[Worker] Failed to record audio asset %s/%d: %v", seg.StoryID, seg.Index, dbErr)
	}

	return audio, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// loadSegments fetches a story's segments and stamps the speech estimates
// used for tier selection. Fewer than two segments means no pair exists.
func (w *Worker) loadSegments(ctx context.Context, storyID string) ([]models.Segment, error) {
	segments, err := w.database.GetStorySegments(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story %s: %w", storyID, err)
	}
	if len(segments) < 2 {
		return nil, models.ErrInsufficientSegments
	}

	for i := range segments {
		segments[i].EstimatedAudioSec = adapt.EstimateSpeechSeconds(segments[i].Text, w.cfg.CharsPerSecond)
	}
	return segments, nil
}

// finishFailed moves the job to failed, extracting the pair index when the
// failure names one.
func (w *Worker) finishFailed(storyID string, err error) {
	failedPair := -1

	var cgErr *models.ClipGenerationError
	var mismatch *models.DurationMismatchError
	var mergeErr *models.MergeError
	switch {
	case errors.As(err, &cgErr):
		failedPair = cgErr.PairIndex
	case errors.As(err, &mismatch):
		failedPair = mismatch.PairIndex
	case errors.As(err, &mergeErr):
		failedPair = mergeErr.SegmentIndex
	}

	log.Printf("[Worker] Job for story %s failed: %v", storyID, err)
	if snap := w.manager.Fail(storyID, err.Error(), failedPair); snap != nil {
		w.mirror(snap)
	}
}

// mirror pushes a job snapshot to the database. Best effort: in-memory
// state is authoritative while the process lives.
func (w *Worker) mirror(job *models.VideoJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.database.UpdateVideoJob(ctx, job); err != nil {
		log.Printf("[Worker] Failed to mirror job %s: %v", job.ID, err)
	}
}
