package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/rs/zerolog"
)

// Voices accepted by the speech endpoint.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAISpeechEndpoint is the default synthesis endpoint.
const OpenAISpeechEndpoint = "https://api.openai.com/v1/audio/speech"

const (
	maxInputLength = 4096
	minSpeed       = 0.25
	maxSpeed       = 4.0
)

// markup that reads badly aloud in assistant replies.
var speechReplacer = strings.NewReplacer("**", "", "__", "", "`", "", "#", "", "* ", "", "\n", " ")

// OpenAIConfig configures the speech endpoint.
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"` // OPENAI_API_KEY when empty
	URL          string        `json:"url"`
	Model        string        `json:"model"`
	DefaultVoice string        `json:"default_voice"`
	Speed        float64       `json:"speed"`
	Timeout      time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		URL:          OpenAISpeechEndpoint,
		Model:        "tts-1",
		DefaultVoice: VoiceNova,
		Speed:        1.0,
		Timeout:      30 * time.Second,
	}
}

// OpenAIProvider is a Provider backed by an OpenAI-compatible
// /v1/audio/speech endpoint returning MP3.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger zerolog.Logger
}

// NewOpenAIProvider creates a provider. Zero fields take their defaults.
func NewOpenAIProvider(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIProvider {
	def := DefaultOpenAIConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if !knownVoice(cfg.DefaultVoice) {
		cfg.DefaultVoice = def.DefaultVoice
	}
	if cfg.Speed == 0 {
		cfg.Speed = def.Speed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "tts").Str("provider", "openai").Logger(),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// IsAvailable reports whether an API key is configured.
func (p *OpenAIProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize implements Provider. Reply markup is stripped before synthesis.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("openai tts: %w", ErrProviderUnavailable)
	}
	input := speakable(req.Text)
	if input == "" {
		return nil, fmt.Errorf("openai tts: nothing to say")
	}
	if len(input) > maxInputLength {
		return nil, ErrTextTooLong
	}

	voice := req.VoiceID
	if !knownVoice(voice) {
		voice = p.cfg.DefaultVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = p.cfg.Speed
	}
	speed = min(max(speed, minSpeed), maxSpeed)

	body, err := json.Marshal(speechRequest{
		Model:          p.cfg.Model,
		Input:          input,
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn().Int("status", resp.StatusCode).Str("voice", voice).Msg("Speech request rejected")
		return nil, fmt.Errorf("openai tts: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	elapsed := time.Since(start)
	p.logger.Debug().
		Str("voice", voice).
		Int("chars", len(input)).
		Int("bytes", len(data)).
		Dur("elapsed", elapsed).
		Msg("Speech synthesized")

	return &SynthesizeResponse{
		Audio:          data,
		Format:         audio.FormatMP3,
		SampleRate:     24000,
		ProcessingTime: elapsed,
		VoiceID:        voice,
		Provider:       p.Name(),
	}, nil
}

func knownVoice(id string) bool {
	switch id {
	case VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer:
		return true
	}
	return false
}

// speakable strips markdown emphasis, headings and code ticks and folds
// line breaks so the reply reads as plain sentences.
func speakable(text string) string {
	return strings.Join(strings.Fields(speechReplacer.Replace(text)), " ")
}
