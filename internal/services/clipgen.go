package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ---------------------------------------------------------------------------
// First/last-frame clip generation client
// Talks to a Dreamina-style REST API: upload the pair's start and end frame,
// receive either a finished clip URL (synchronous) or a task id to poll.
// Follows the deferred request pattern: submit generation → poll → download.
// ---------------------------------------------------------------------------

const (
	clipGenSubmitTimeout   = 120 * time.Second
	clipGenPollTimeout     = 30 * time.Second
	clipGenDownloadTimeout = 300 * time.Second
	clipGenMaxPollRounds   = 120
	clipGenSubmitRetries   = 2
	clipGenRetryDelay      = 2 * time.Second
)

// ClipRequest describes one transition clip: the two frames it interpolates
// between, a motion hint, and the requested duration tier.
type ClipRequest struct {
	StartFramePath string
	EndFramePath   string
	MotionHint     string
	DurationSec    int
}

// ClipGenerator is the interface any transition-clip provider implements.
// The returned bytes are a complete MP4 of (approximately) the requested
// tier's duration; the caller probes the actual duration before adaptation.
type ClipGenerator interface {
	GenerateClip(ctx context.Context, req ClipRequest) ([]byte, error)
}

// MotionHint derives the clip service's motion prompt from the emotion of
// the pair's starting segment.
func MotionHint(emotion string) string {
	if emotion == "" {
		emotion = "warm"
	}
	return fmt.Sprintf("%s mood transition, smooth cinematic camera movement", emotion)
}

// ClipGenService is the first/last-frame provider.
type ClipGenService struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

var _ ClipGenerator = (*ClipGenService)(nil)

func NewClipGenService(baseURL, apiKey string, pollInterval time.Duration) *ClipGenService {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &ClipGenService{
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: clipGenSubmitTimeout, // per-call timeout, not the full poll cycle
		},
	}
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

// clipGenSubmitResponse is the response from POST /v1/videos/generations.
// The service either completes synchronously (video_url set) or defers
// (task_id set, poll for the result).
type clipGenSubmitResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	TaskID   string `json:"task_id"`
	VideoURL string `json:"video_url"`
}

// clipGenPollResponse is the response from GET /v1/videos/generations/{task_id}.
type clipGenPollResponse struct {
	Status   string `json:"status"` // pending | success | failed
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

// GenerateClip requests one transition clip and blocks until the media is
// downloaded or the operation fails. Submission is retried a small number
// of times; poll and download failures are not, since the task id makes a
// fresh submission idempotent on the service side.
func (s *ClipGenService) GenerateClip(ctx context.Context, req ClipRequest) ([]byte, error) {
	log.Printf("[ClipGen] Generating clip (tier=%ds, hint=%q)", req.DurationSec, req.MotionHint)

	var submitResp *clipGenSubmitResponse
	var lastErr error
	for attempt := 0; attempt < clipGenSubmitRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[ClipGen] Submit retry %d/%d after error: %v", attempt+1, clipGenSubmitRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("clip submission cancelled: %w", ctx.Err())
			case <-time.After(clipGenRetryDelay):
			}
		}

		submitResp, lastErr = s.submit(ctx, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("clip submission failed after %d attempts: %w", clipGenSubmitRetries, lastErr)
	}

	videoURL := submitResp.VideoURL
	if videoURL == "" {
		log.Printf("[ClipGen] Task submitted, polling task_id=%s", submitResp.TaskID)
		var err error
		videoURL, err = s.pollForResult(ctx, submitResp.TaskID)
		if err != nil {
			return nil, err
		}
	}

	log.Printf("[ClipGen] Clip ready, downloading...")
	data, err := s.download(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download clip: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded clip is empty (0 bytes)")
	}

	log.Printf("[ClipGen] Clip downloaded (%d bytes)", len(data))
	return data, nil
}

// submit uploads the frame pair as multipart form data and parses the response.
func (s *ClipGenService) submit(ctx context.Context, req ClipRequest) (*clipGenSubmitResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := attachFrame(writer, "image_file_1", "first_frame.png", req.StartFramePath); err != nil {
		return nil, err
	}
	if err := attachFrame(writer, "image_file_2", "last_frame.png", req.EndFramePath); err != nil {
		return nil, err
	}

	writer.WriteField("prompt", req.MotionHint)
	writer.WriteField("duration", fmt.Sprintf("%d", req.DurationSec))
	writer.WriteField("functionMode", "first_last_frames")

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/v1/videos/generations", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("clip service returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var parsed clipGenSubmitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse submit response: %w (body: %s)", err, truncate(string(respBody), 200))
	}

	if parsed.Code != 0 {
		return nil, fmt.Errorf("clip service error (code=%d): %s", parsed.Code, parsed.Message)
	}
	if parsed.TaskID == "" && parsed.VideoURL == "" {
		return nil, fmt.Errorf("clip service returned neither task_id nor video_url: %s", truncate(string(respBody), 200))
	}

	return &parsed, nil
}

// pollForResult polls the task until success, failure, or the round cap.
func (s *ClipGenService) pollForResult(ctx context.Context, taskID string) (string, error) {
	for round := 0; round < clipGenMaxPollRounds; round++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("clip polling cancelled: %w", ctx.Err())
		case <-time.After(s.pollInterval):
		}

		result, err := s.pollOnce(ctx, taskID)
		if err != nil {
			// Transient poll failures count as pending; the round cap bounds them.
			log.Printf("[ClipGen] Poll %d for task %s errored: %v", round+1, taskID, err)
			continue
		}

		switch result.Status {
		case "success":
			if result.VideoURL == "" {
				return "", fmt.Errorf("task %s succeeded without a video URL", taskID)
			}
			return result.VideoURL, nil
		case "failed":
			msg := result.Error
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("clip generation failed: %s (task_id=%s)", msg, taskID)
		}
	}

	return "", fmt.Errorf("clip generation timed out after %d polls (task_id=%s)", clipGenMaxPollRounds, taskID)
}

func (s *ClipGenService) pollOnce(ctx context.Context, taskID string) (*clipGenPollResponse, error) {
	pollCtx, cancel := context.WithTimeout(ctx, clipGenPollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, "GET",
		fmt.Sprintf("%s/v1/videos/generations/%s", s.baseURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("poll returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed clipGenPollResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}

	return &parsed, nil
}

func (s *ClipGenService) download(ctx context.Context, url string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, clipGenDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	// Separate client: downloads can outlive the submit timeout.
	client := &http.Client{Timeout: clipGenDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clip download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// attachFrame streams a local frame file into the multipart writer.
func attachFrame(writer *multipart.Writer, field, filename, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	defer f.Close()

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to copy frame %s: %w", filepath.Base(path), err)
	}

	return nil
}

// truncate limits a string to maxLen characters for log and error output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
