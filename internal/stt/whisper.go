package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/rs/zerolog"
)

const (
	WhisperAPIEndpoint  = "https://api.openai.com/v1/audio/transcriptions"
	GroqWhisperEndpoint = "https://api.groq.com/openai/v1/audio/transcriptions"
)

// WhisperConfig holds Whisper API configuration. Any OpenAI-compatible
// transcription endpoint works, Groq included.
type WhisperConfig struct {
	APIKey   string        `json:"api_key"`
	URL      string        `json:"url"`
	Model    string        `json:"model"`    // "whisper-1"
	Language string        `json:"language"` // Optional language hint
	Timeout  time.Duration `json:"timeout"`
}

// DefaultWhisperConfig returns sensible defaults
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		URL:     WhisperAPIEndpoint,
		Model:   "whisper-1",
		Timeout: 30 * time.Second,
	}
}

// WhisperTranscriber transcribes fallback recordings through the Whisper API.
// It implements capture.Transcriber.
type WhisperTranscriber struct {
	cfg    WhisperConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWhisperTranscriber creates a transcriber.
func NewWhisperTranscriber(cfg WhisperConfig, logger zerolog.Logger) *WhisperTranscriber {
	def := DefaultWhisperConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &WhisperTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "stt").Str("provider", "whisper-api").Logger(),
	}
}

// Transcribe sends a recording to the Whisper API.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, pcm []byte, spec audio.Spec) (string, error) {
	startTime := time.Now()

	if w.cfg.APIKey == "" {
		return "", fmt.Errorf("whisper: %w", ErrProviderUnavailable)
	}
	if len(pcm) == 0 {
		return "", ErrAudioTooShort
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, spec)); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", w.cfg.Model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if w.cfg.Language != "" {
		if err := writer.WriteField("language", w.cfg.Language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		w.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Whisper API error")
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	w.logger.Info().Int("chars", len(result.Text)).Dur("time", time.Since(startTime)).Msg("Transcription complete")
	return result.Text, nil
}
