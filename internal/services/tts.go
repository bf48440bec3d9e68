package services

import "context"

// TTSResponse carries synthesized narration audio. DurationMs is the
// provider's estimate only; the pipeline always measures the real duration
// with ffprobe before any timeline math.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3"
}

// TTSService converts one segment's text into narration audio.
// voiceStyle is a provider hint (emotion / delivery), voice overrides the
// provider's default voice when non-empty.
type TTSService interface {
	GenerateSpeech(ctx context.Context, text, voiceStyle, voice string) (*TTSResponse, error)
}

// estimateAudioDuration guesses speech length in milliseconds from text at a
// nominal 150 words per minute, adjusted by the playback speed.
func estimateAudioDuration(text string, speed float64) int {
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if words == 0 {
		return 0
	}
	if speed <= 0 {
		speed = 1.0
	}
	ms := float64(words) / 150.0 * 60000.0 / speed
	return int(ms)
}
