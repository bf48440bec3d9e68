package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storyloom/reel/internal/models"
	"github.com/storyloom/reel/internal/storage"
	"github.com/storyloom/reel/internal/worker"
)

// signedURLTTLSec is how long a download redirect stays valid.
const signedURLTTLSec = 3600

type Handler struct {
	worker  *worker.Worker
	storage *storage.Storage
}

func NewHandler(w *worker.Worker, stor *storage.Storage) *Handler {
	return &Handler{worker: w, storage: stor}
}

// StartVideo handles POST /v1/stories/{id}/video
// Starting is idempotent at the story level: a second request while a job
// is active returns 409 with the active job's status.
func (h *Handler) StartVideo(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "id")
	if storyID == "" {
		respondError(w, http.StatusBadRequest, "Story id is required")
		return
	}

	job, err := h.worker.StartVideoJob(r.Context(), storyID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrJobAlreadyActive):
			// Return the running job's status so the caller can poll it.
			if active, statusErr := h.worker.JobStatus(r.Context(), storyID); statusErr == nil && active != nil {
				respondJSON(w, http.StatusConflict, models.JobStatusResponse{
					StoryID:        active.StoryID,
					State:          active.State,
					Progress:       active.Progress,
					TotalClips:     active.TotalClips,
					GeneratedClips: active.GeneratedClips,
				})
				return
			}
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, models.ErrInsufficientSegments):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "Failed to start video job")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, models.StartJobResponse{
		JobID:   job.ID,
		StoryID: job.StoryID,
		State:   job.State,
	})
}

// GetVideoStatus handles GET /v1/stories/{id}/video/status
func (h *Handler) GetVideoStatus(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "id")

	job, err := h.worker.JobStatus(r.Context(), storyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read job status")
		return
	}
	if job == nil {
		// No job ever: the story is idle.
		respondJSON(w, http.StatusOK, models.JobStatusResponse{
			StoryID: storyID,
			State:   models.JobStateIdle,
		})
		return
	}

	respondJSON(w, http.StatusOK, models.JobStatusResponse{
		StoryID:         job.StoryID,
		State:           job.State,
		Progress:        job.Progress,
		TotalClips:      job.TotalClips,
		GeneratedClips:  job.GeneratedClips,
		OutputURL:       job.OutputURL,
		Error:           job.ErrorMessage,
		FailedPairIndex: job.FailedPairIndex,
	})
}

// DownloadVideo handles GET /v1/stories/{id}/video/download
// Redirects to a signed storage URL when publishing is configured,
// otherwise serves the artifact from local disk.
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "id")

	job, err := h.worker.JobStatus(r.Context(), storyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read job status")
		return
	}
	if job == nil || job.State != models.JobStateCompleted || job.OutputPath == nil {
		respondError(w, http.StatusNotFound, "No completed video for this story")
		return
	}

	if h.storage.Enabled() && job.OutputURL != nil {
		signed, err := h.storage.GetSignedURL(r.Context(), h.storage.VideoStoragePath(storyID), signedURLTTLSec)
		if err == nil {
			http.Redirect(w, r, signed, http.StatusFound)
			return
		}
		// Fall back to the local copy on signing failure.
	}

	if _, err := os.Stat(*job.OutputPath); err != nil {
		respondError(w, http.StatusNotFound, "Video file is no longer available")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+storyID+`.mp4"`)
	http.ServeFile(w, r, *job.OutputPath)
}

// PrefetchClip handles POST /v1/stories/{id}/segments/{index}/prefetch
// Warms the clip cache for one pair ahead of the full video request.
func (h *Handler) PrefetchClip(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "id")

	pairIndex, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || pairIndex < 0 {
		respondError(w, http.StatusBadRequest, "Invalid segment index")
		return
	}

	cached, err := h.worker.PrefetchClip(r.Context(), storyID, pairIndex)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientSegments) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, models.PrefetchResponse{
		StoryID:   storyID,
		PairIndex: pairIndex,
		Cached:    cached,
	})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
