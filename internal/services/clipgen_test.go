package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMotionHint(t *testing.T) {
	got := MotionHint("mysterious")
	if !strings.HasPrefix(got, "mysterious mood transition") {
		t.Errorf("hint = %q, want mysterious prefix", got)
	}

	// Empty emotion falls back to a neutral mood.
	if got := MotionHint(""); !strings.HasPrefix(got, "warm ") {
		t.Errorf("fallback hint = %q, want warm prefix", got)
	}
}

func writeTestFrames(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	first := filepath.Join(dir, "first.png")
	last := filepath.Join(dir, "last.png")
	for _, p := range []string{first, last} {
		if err := os.WriteFile(p, []byte("png bytes"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return first, last
}

func TestGenerateClipSynchronousResponse(t *testing.T) {
	first, last := writeTestFrames(t)

	var gotDuration, gotMode string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/videos/generations", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("bad multipart body: %v", err)
		}
		gotDuration = r.FormValue("duration")
		gotMode = r.FormValue("functionMode")

		for _, field := range []string{"image_file_1", "image_file_2"} {
			if _, _, err := r.FormFile(field); err != nil {
				t.Errorf("missing frame %s: %v", field, err)
			}
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":      0,
			"video_url": "http://" + r.Host + "/clip.mp4",
		})
	})
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4 payload"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewClipGenService(srv.URL, "test-key", 10*time.Millisecond)
	data, err := svc.GenerateClip(context.Background(), ClipRequest{
		StartFramePath: first,
		EndFramePath:   last,
		MotionHint:     MotionHint("happy"),
		DurationSec:    5,
	})
	if err != nil {
		t.Fatalf("GenerateClip failed: %v", err)
	}

	if string(data) != "mp4 payload" {
		t.Errorf("clip bytes = %q", data)
	}
	if gotDuration != "5" {
		t.Errorf("duration field = %q, want 5", gotDuration)
	}
	if gotMode != "first_last_frames" {
		t.Errorf("functionMode = %q", gotMode)
	}
}

func TestGenerateClipPollsDeferredTask(t *testing.T) {
	first, last := writeTestFrames(t)

	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/videos/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "task_id": "task-42"})
	})
	mux.HandleFunc("/v1/videos/generations/task-42", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "success",
			"video_url": "http://" + r.Host + "/clip.mp4",
		})
	})
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("deferred mp4"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewClipGenService(srv.URL, "test-key", 5*time.Millisecond)
	data, err := svc.GenerateClip(context.Background(), ClipRequest{
		StartFramePath: first,
		EndFramePath:   last,
		MotionHint:     "warm mood transition",
		DurationSec:    10,
	})
	if err != nil {
		t.Fatalf("GenerateClip failed: %v", err)
	}
	if string(data) != "deferred mp4" {
		t.Errorf("clip bytes = %q", data)
	}
	if polls < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestGenerateClipReportsTaskFailure(t *testing.T) {
	first, last := writeTestFrames(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/videos/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "task_id": "task-7"})
	})
	mux.HandleFunc("/v1/videos/generations/task-7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "content rejected"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewClipGenService(srv.URL, "test-key", 5*time.Millisecond)
	_, err := svc.GenerateClip(context.Background(), ClipRequest{
		StartFramePath: first,
		EndFramePath:   last,
		DurationSec:    5,
	})
	if err == nil {
		t.Fatal("expected task failure error")
	}
	if !strings.Contains(err.Error(), "content rejected") {
		t.Errorf("error %q does not carry the service message", err)
	}
}

func TestEstimateAudioDuration(t *testing.T) {
	if got := estimateAudioDuration("", 1.0); got != 0 {
		t.Errorf("empty text duration = %d, want 0", got)
	}

	// 150 words at 150 wpm is one minute.
	words := strings.Repeat("word ", 150)
	if got := estimateAudioDuration(words, 1.0); got != 60000 {
		t.Errorf("150 words = %dms, want 60000", got)
	}

	// Slower speed stretches the estimate.
	if got := estimateAudioDuration(words, 0.5); got != 120000 {
		t.Errorf("150 words at 0.5x = %dms, want 120000", got)
	}
}
