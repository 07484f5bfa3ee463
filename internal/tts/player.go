package tts

import (
	"strings"
	"sync"

	"github.com/normanking/carevoice/internal/bus"
	"github.com/rs/zerolog"
)

// Player speaks at most one utterance at a time. A new Speak cancels the
// current utterance; there is no queue.
type Player struct {
	engine   Engine
	eventBus *bus.EventBus
	logger   zerolog.Logger

	// opMu orders engine calls so a Cancel never lands between the
	// re-check in Speak and the engine starting the utterance.
	opMu sync.Mutex

	mu       sync.Mutex
	enabled  bool
	speaking bool
	gen      uint64
	voiceID  string
	speed    float64
}

// NewPlayer creates an enabled player. eventBus may be nil.
func NewPlayer(engine Engine, eventBus *bus.EventBus, logger zerolog.Logger) *Player {
	return &Player{
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "tts").Logger(),
		enabled:  true,
	}
}

// SetVoice selects voice and speed for later utterances.
func (p *Player) SetVoice(voiceID string, speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceID = voiceID
	p.speed = speed
}

// Speak cancels the current utterance and starts text.
func (p *Player) Speak(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return ErrDisabled
	}
	p.gen++
	gen := p.gen
	wasSpeaking := p.speaking
	p.speaking = false
	voiceID, speed := p.voiceID, p.speed
	p.mu.Unlock()

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.engine.Cancel()
	if wasSpeaking {
		p.publish(bus.EventTypeSpeakingStopped, "superseded")
	}

	p.mu.Lock()
	enabled, superseded := p.enabled, gen != p.gen
	p.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	if superseded {
		return nil
	}

	u := &Utterance{
		Text:    text,
		VoiceID: voiceID,
		Speed:   speed,
		OnStart: func() { p.onStart(gen) },
		OnEnd:   func() { p.onStop(gen, "end", nil) },
		OnError: func(err error) { p.onStop(gen, "error", err) },
	}
	if err := p.engine.Speak(u); err != nil {
		p.onStop(gen, "error", err)
		return err
	}
	return nil
}

func (p *Player) onStart(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.enabled {
		p.mu.Unlock()
		return
	}
	p.speaking = true
	p.mu.Unlock()

	p.logger.Debug().Uint64("utterance", gen).Msg("Speech started")
	p.publish(bus.EventTypeSpeakingStarted, "")
}

func (p *Player) onStop(gen uint64, reason string, err error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	was := p.speaking
	p.speaking = false
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn().Err(err).Uint64("utterance", gen).Msg("Speech failed")
	}
	if was {
		p.publish(bus.EventTypeSpeakingStopped, reason)
	}
}

// Cancel stops the current utterance, leaving voice output enabled.
func (p *Player) Cancel() {
	p.mu.Lock()
	p.gen++
	was := p.speaking
	p.speaking = false
	p.mu.Unlock()

	p.opMu.Lock()
	p.engine.Cancel()
	p.opMu.Unlock()
	if was {
		p.publish(bus.EventTypeSpeakingStopped, "cancel")
	}
}

// Disable cancels playback synchronously and suppresses Speak until Enable.
func (p *Player) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	p.Cancel()
}

// Enable allows Speak again.
func (p *Player) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Toggle flips voice output and returns the new setting.
func (p *Player) Toggle() bool {
	if p.Enabled() {
		p.Disable()
		return false
	}
	p.Enable()
	return true
}

// Enabled reports whether voice output is on.
func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// IsSpeaking reports whether an utterance is audible right now.
func (p *Player) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

func (p *Player) publish(t bus.EventType, reason string) {
	if p.eventBus == nil {
		return
	}
	data := map[string]any{}
	if reason != "" {
		data["reason"] = reason
	}
	p.eventBus.Publish(bus.Event{Type: t, Data: data})
}
