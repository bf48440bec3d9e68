package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo clip provider
// Alternative to the first/last-frame service: animates the pair's starting
// frame with the Google Gen AI SDK. Veo is image-to-video, so the ending
// frame cannot be pinned — the motion hint carries the transition intent
// instead. Output duration is the model's, not the tier's; the adapter
// reconciles whatever comes back against the measured audio.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute
)

type VeoService struct {
	apiKey string
	model  string
}

var _ ClipGenerator = (*VeoService)(nil)

func NewVeoService(apiKey, model string) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey: apiKey,
		model:  model,
	}
}

// buildVeoPrompt expands the motion hint with style-consistency and safety
// instructions so the clip keeps the look of its source frame.
func buildVeoPrompt(motionHint string) string {
	return fmt.Sprintf(`%s

Visual style direction: Match the illustration style of the input image exactly. Keep the color palette, rendering quality, and lighting of the source frame — the video should look like the picture has come to life.

Motion direction: Gentle, grounded movement only. Favor soft camera drift, breeze in hair or fabric, ambient particles, and slow environmental motion over dramatic action.

Important: This is a fictional artistic scene. All subjects are unnamed, generic figures. Do not identify or associate any subject with a real person.

No generated audio or dialogue. Silent video only.`, motionHint)
}

// GenerateClip animates the request's start frame. Blocks until the clip is
// downloaded; each pair runs in its own goroutine so this fits the worker's
// fan-out model.
func (s *VeoService) GenerateClip(ctx context.Context, req ClipRequest) ([]byte, error) {
	imageData, mimeType, err := readFrame(req.StartFramePath)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	prompt := buildVeoPrompt(req.MotionHint)

	firstFrame := &genai.Image{
		ImageBytes: imageData,
		MIMEType:   mimeType,
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      "1:1",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	log.Printf("[Veo] Starting clip generation (model=%s, hint=%q, imageSize=%d bytes)",
		s.model, req.MotionHint, len(imageData))

	operation, err := client.Models.GenerateVideos(ctx, s.model, prompt, firstFrame, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start clip generation: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)

	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("clip generation timed out after %v (polled %d times)", veoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("clip generation cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}

		log.Printf("[Veo] Poll %d: done=%v", pollCount, operation.Done)
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, fmt.Errorf("clip generation operation failed: %s", string(errJSON))
	}

	if operation.Response == nil {
		return nil, fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, fmt.Errorf("clip blocked by safety filters: %d video(s) filtered, reasons: %s",
			operation.Response.RAIMediaFilteredCount, reasons)
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("no videos in response after %d polls", pollCount)
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, fmt.Errorf("generated video object is nil")
	}

	log.Printf("[Veo] Clip ready, downloading...")

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated clip: %w", err)
	}

	if len(videoBytes) == 0 {
		return nil, fmt.Errorf("downloaded clip is empty (0 bytes)")
	}

	log.Printf("[Veo] Clip generated successfully (%d bytes, %d polls)", len(videoBytes), pollCount)

	return videoBytes, nil
}

func readFrame(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	return data, mimeType, nil
}
