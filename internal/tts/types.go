// Package tts plays assistant replies as speech.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/normanking/carevoice/internal/audio"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrDisabled            = errors.New("voice output disabled")
	ErrNotInitialized      = errors.New("speech output not initialized")
)

// Utterance is one piece of text handed to an Engine. The callbacks are
// invoked by the engine, possibly on another goroutine.
type Utterance struct {
	Text    string
	VoiceID string
	Speed   float64

	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

func (u *Utterance) started() {
	if u.OnStart != nil {
		u.OnStart()
	}
}

func (u *Utterance) ended() {
	if u.OnEnd != nil {
		u.OnEnd()
	}
}

func (u *Utterance) failed(err error) {
	if u.OnError != nil {
		u.OnError(err)
	}
}

// Engine is the host speech synthesis capability. Speak must not block for
// the duration of playback. Cancel stops whatever is playing.
type Engine interface {
	Speak(u *Utterance) error
	Cancel()
}

// Provider synthesizes text into encoded audio.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"` // 0.25 to 4.0
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`
	Format         audio.Format  `json:"format"`
	SampleRate     int           `json:"sample_rate"`
	ProcessingTime time.Duration `json:"processing_time"`
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
}

// Sink plays encoded audio. Play blocks until playback finishes or ctx is done.
type Sink interface {
	Play(ctx context.Context, data []byte, format audio.Format) error
}
