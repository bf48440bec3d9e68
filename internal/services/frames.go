package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FrameResolver turns a segment's image reference into a local file the clip
// client can upload. Local paths pass through untouched; remote URLs are
// downloaded once into a content-addressed cache so repeated jobs for the
// same story never refetch frames.
type FrameResolver struct {
	cacheDir   string
	httpClient *http.Client
}

func NewFrameResolver(cacheDir string) *FrameResolver {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create frame cache dir: %v", err))
	}
	return &FrameResolver{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Resolve returns a local path for the given image reference.
func (r *FrameResolver) Resolve(ctx context.Context, imageRef string) (string, error) {
	if imageRef == "" {
		return "", fmt.Errorf("empty image reference")
	}

	if !strings.HasPrefix(imageRef, "http://") && !strings.HasPrefix(imageRef, "https://") {
		if _, err := os.Stat(imageRef); err != nil {
			return "", fmt.Errorf("frame file not found: %w", err)
		}
		return imageRef, nil
	}

	// Cache key is the URL hash, so signed URLs with stable paths still
	// dedupe per exact reference.
	sum := sha256.Sum256([]byte(imageRef))
	cachePath := filepath.Join(r.cacheDir, fmt.Sprintf("%x%s", sum[:16], frameExt(imageRef)))

	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", imageRef, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create frame request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("frame download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("frame download returned status %d", resp.StatusCode)
	}

	// Write to a temp name first so a torn download never poisons the cache.
	tmp, err := os.CreateTemp(r.cacheDir, "frame_*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create frame temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to publish cached frame: %w", err)
	}

	return cachePath, nil
}

func frameExt(url string) string {
	// Drop query string before inspecting the extension.
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	switch ext := strings.ToLower(filepath.Ext(url)); ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	default:
		return ".png"
	}
}
