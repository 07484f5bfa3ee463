package tts

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// ProviderEngine is an Engine that synthesizes through a network Provider
// and plays the result on a Sink. Cancel aborts synthesis and playback.
type ProviderEngine struct {
	provider Provider
	sink     Sink
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProviderEngine creates an engine over provider and sink.
func NewProviderEngine(provider Provider, sink Sink, logger zerolog.Logger) *ProviderEngine {
	return &ProviderEngine{
		provider: provider,
		sink:     sink,
		logger:   logger.With().Str("component", "tts").Str("engine", "provider").Logger(),
	}
}

// Speak implements Engine.
func (e *ProviderEngine) Speak(u *Utterance) error {
	if e.provider == nil || e.sink == nil {
		return ErrProviderUnavailable
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	prev := e.cancel
	e.cancel = cancel
	e.mu.Unlock()
	if prev != nil {
		prev()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(ctx, u)
	}()
	return nil
}

func (e *ProviderEngine) run(ctx context.Context, u *Utterance) {
	resp, err := e.provider.Synthesize(ctx, &SynthesizeRequest{
		Text:    u.Text,
		VoiceID: u.VoiceID,
		Speed:   u.Speed,
	})
	if err != nil {
		if ctx.Err() != nil {
			u.ended()
			return
		}
		u.failed(err)
		return
	}

	u.started()
	if err := e.sink.Play(ctx, resp.Audio, resp.Format); err != nil && ctx.Err() == nil {
		u.failed(err)
		return
	}
	u.ended()
}

// Cancel implements Engine.
func (e *ProviderEngine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every started utterance has finished.
func (e *ProviderEngine) Wait() {
	e.wg.Wait()
}
