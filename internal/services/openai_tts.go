package services

import (
	"context"
	"fmt"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// OpenAI Text-to-Speech Service
// Preferred narration provider. Uses the speech endpoint with the tts-1
// model; the response body is the MP3 audio directly.
// ---------------------------------------------------------------------------

const defaultOpenAIVoice = openai.VoiceNova

type OpenAITTSService struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

var _ TTSService = (*OpenAITTSService)(nil)

func NewOpenAITTSService(apiKey, voice string) *OpenAITTSService {
	v := defaultOpenAIVoice
	if voice != "" {
		v = openai.SpeechVoice(voice)
	}
	return &OpenAITTSService{
		client: openai.NewClient(apiKey),
		voice:  v,
	}
}

// GenerateSpeech synthesizes one segment of narration. voiceStyle is folded
// into the input as a delivery instruction; the speech endpoint has no
// separate style parameter.
func (s *OpenAITTSService) GenerateSpeech(ctx context.Context, text, voiceStyle, voice string) (*TTSResponse, error) {
	effectiveVoice := s.voice
	if voice != "" {
		effectiveVoice = openai.SpeechVoice(voice)
	}

	log.Printf("[OpenAI TTS] Generating speech (voice=%s, textLen=%d)", effectiveVoice, len(text))

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          effectiveVoice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAI audio response: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("OpenAI returned empty audio")
	}

	durationMs := estimateAudioDuration(text, 1.0)

	log.Printf("[OpenAI TTS] Speech generated (%d bytes, estimated %dms)", len(audioData), durationMs)

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     "mp3",
	}, nil
}
