package tts

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// macOS voice mapping to our voice IDs
var macOSVoiceMap = map[string]string{
	"nova":    "Samantha",
	"shimmer": "Samantha",
	"alloy":   "Samantha",
	"onyx":    "Daniel",
	"echo":    "Daniel",
	"fable":   "Daniel",
}

// SayEngine speaks through the macOS 'say' command. It is the zero-setup
// engine on developer machines.
type SayEngine struct {
	rate   int
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSayEngine creates an engine. rate is words per minute; 0 keeps the
// system default.
func NewSayEngine(rate int, logger zerolog.Logger) *SayEngine {
	return &SayEngine{
		rate:   rate,
		logger: logger.With().Str("component", "tts").Str("engine", "say").Logger(),
	}
}

// Available checks if this is macOS and 'say' command exists
func (e *SayEngine) Available() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("say")
	return err == nil
}

// Speak implements Engine.
func (e *SayEngine) Speak(u *Utterance) error {
	if !e.Available() {
		return ErrProviderUnavailable
	}

	args := []string{}
	if voice, ok := macOSVoiceMap[u.VoiceID]; ok {
		args = append(args, "-v", voice)
	}
	if e.rate > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", e.rate))
	}
	args = append(args, u.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "say", args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("say command failed: %w", err)
	}

	e.mu.Lock()
	prev := e.cancel
	e.cancel = cancel
	e.mu.Unlock()
	if prev != nil {
		prev()
	}

	u.started()
	go func() {
		defer cancel()
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("macOS TTS failed")
			u.failed(err)
			return
		}
		u.ended()
	}()
	return nil
}

// Cancel implements Engine.
func (e *SayEngine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
