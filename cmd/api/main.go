package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/storyloom/reel/internal/api"
	"github.com/storyloom/reel/internal/clipcache"
	"github.com/storyloom/reel/internal/config"
	"github.com/storyloom/reel/internal/db"
	"github.com/storyloom/reel/internal/queue"
	"github.com/storyloom/reel/internal/services"
	"github.com/storyloom/reel/internal/storage"
	"github.com/storyloom/reel/internal/timeline"
	"github.com/storyloom/reel/internal/worker"
)

func main() {
	log.Println("Starting Reel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage (optional — local-only serving when unset)
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	if stor.Enabled() {
		log.Println("Supabase storage publishing enabled")
	} else {
		log.Println("Storage publishing disabled — videos served from local disk")
	}

	// Media pipeline services
	ffmpegSvc := services.NewFFmpegService(filepath.Join(cfg.MediaDir, "tmp"))
	frames := services.NewFrameResolver(filepath.Join(cfg.MediaDir, "frames"))

	// Clip provider — first/last-frame service preferred, Veo as alternative
	var clipGen services.ClipGenerator
	if cfg.ClipGenBaseURL != "" {
		clipGen = services.NewClipGenService(cfg.ClipGenBaseURL, cfg.ClipGenAPIKey, cfg.PollInterval)
		log.Println("Clip provider: first/last-frame service")
	} else {
		clipGen = services.NewVeoService(cfg.GeminiKey, cfg.VeoModel)
		log.Printf("Clip provider: Veo (model: %s)", cfg.VeoModel)
	}

	// TTS provider — OpenAI preferred, ElevenLabs fallback
	var ttsSvc services.TTSService
	if cfg.OpenAIKey != "" {
		ttsSvc = services.NewOpenAITTSService(cfg.OpenAIKey, cfg.OpenAITTSVoice)
		log.Printf("TTS provider: OpenAI (voice: %s)", cfg.OpenAITTSVoice)
	} else {
		ttsSvc = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
		log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
	}

	clips := clipcache.New(cfg.MediaDir, clipGen, frames, ffmpegSvc)
	assembler := timeline.NewAssembler(ffmpegSvc, cfg.MaxLoopCount)
	manager := worker.NewJobManager()

	w := worker.New(cfg, database, q, manager, clips, ttsSvc, ffmpegSvc, assembler, stor)

	// Create API handler
	handler := api.NewHandler(w, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
