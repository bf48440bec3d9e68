package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase storage (final video publishing)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Clip generation service (first/last-frame transition clips)
	ClipGenBaseURL string
	ClipGenAPIKey  string

	// Veo (alternative clip provider — single-frame image-to-video)
	VeoEnabled bool
	VeoModel   string
	GeminiKey  string

	// OpenAI (preferred TTS provider)
	OpenAIKey      string
	OpenAITTSVoice string

	// ElevenLabs (legacy TTS provider — used when OpenAI key is not set)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Media pipeline
	MediaDir           string  // working directory for per-story clips, audio, and finals
	ClipTierShortSec   int     // smaller of the two durations the clip service produces
	ClipTierLongSec    int     // larger of the two durations the clip service produces
	CharsPerSecond     float64 // narration rate used to estimate audio duration from text
	MaxConcurrentClips int     // in-flight clip generation requests per job
	MaxLoopCount       int     // adapter cap: max whole repeats of a clip per segment
	JobTimeout         time.Duration
	PollInterval       time.Duration // external task poll interval
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "story-videos"),
		ClipGenBaseURL:        getEnv("CLIPGEN_API_BASE_URL", ""),
		ClipGenAPIKey:         getEnv("CLIPGEN_API_KEY", ""),
		VeoEnabled:            getEnvBool("VEO_ENABLED", false),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", "nova"),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		MediaDir:              getEnv("MEDIA_DIR", "storybook_videos"),
		ClipTierShortSec:      getEnvInt("CLIP_TIER_SHORT_SEC", 5),
		ClipTierLongSec:       getEnvInt("CLIP_TIER_LONG_SEC", 10),
		CharsPerSecond:        getEnvFloat("CHARS_PER_SECOND", 3.5),
		MaxConcurrentClips:    getEnvInt("MAX_CONCURRENT_CLIP_TASKS", 5),
		MaxLoopCount:          getEnvInt("MAX_LOOP_COUNT", 30),
		JobTimeout:            getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		PollInterval:          getEnvDuration("POLL_INTERVAL", 5*time.Second),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one clip provider must be configured
	if cfg.ClipGenBaseURL == "" && !cfg.VeoEnabled {
		return nil, fmt.Errorf("either CLIPGEN_API_BASE_URL or VEO_ENABLED is required for clip generation")
	}

	if cfg.VeoEnabled && cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when VEO_ENABLED is set")
	}

	// At least one TTS provider must be configured
	if cfg.OpenAIKey == "" && cfg.ElevenLabsKey == "" {
		return nil, fmt.Errorf("either OPENAI_API_KEY or ELEVENLABS_API_KEY is required for TTS")
	}

	if cfg.ClipTierShortSec <= 0 || cfg.ClipTierLongSec <= cfg.ClipTierShortSec {
		return nil, fmt.Errorf("clip tiers must satisfy 0 < CLIP_TIER_SHORT_SEC < CLIP_TIER_LONG_SEC")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
