package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/rs/zerolog"
)

// AudioStream is an open raw microphone stream.
type AudioStream interface {
	Chunks() <-chan audio.Chunk
	Close() error
}

// AudioSource opens raw microphone streams.
type AudioSource interface {
	Open(ctx context.Context) (AudioStream, error)
}

// Transcriber turns a finished recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, spec audio.Spec) (string, error)
}

// ErrTranscriptionUnavailable is reported when no Transcriber is configured.
var ErrTranscriptionUnavailable = errors.New("no transcriber configured for recorded audio")

// FallbackConfig tunes a FallbackSession.
type FallbackConfig struct {
	Window     time.Duration
	Spec       audio.Spec
	SilenceRMS float64
	// TrailingSilence ends the recording once this much quiet follows
	// speech. Zero records the whole window.
	TrailingSilence time.Duration
}

// DefaultFallbackConfig returns a five second window of 16 kHz mono audio.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Window:          5 * time.Second,
		Spec:            audio.DefaultSpec(),
		SilenceRMS:      audio.DefaultSilenceRMS,
		TrailingSilence: 1500 * time.Millisecond,
	}
}

// FallbackSession records raw audio for a fixed window and hands the
// recording to a Transcriber.
type FallbackSession struct {
	source      AudioSource
	transcriber Transcriber
	cfg         FallbackConfig
	logger      zerolog.Logger

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
}

// NewFallbackSession creates a single-use session. transcriber may be nil.
func NewFallbackSession(source AudioSource, transcriber Transcriber, cfg FallbackConfig, logger zerolog.Logger) *FallbackSession {
	def := DefaultFallbackConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Spec.SampleRate == 0 {
		cfg.Spec = def.Spec
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = def.SilenceRMS
	}
	return &FallbackSession{
		source:      source,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger.With().Str("component", "capture").Str("kind", string(KindFallback)).Logger(),
		state:       StateIdle,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Kind implements Session.
func (s *FallbackSession) Kind() Kind { return KindFallback }

// Done implements Session.
func (s *FallbackSession) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *FallbackSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start implements Session.
func (s *FallbackSession) Start(ctx context.Context, h Handlers) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	if s.source == nil {
		s.state = StateError
		s.mu.Unlock()
		close(s.done)
		return &Error{Code: CodeDeviceUnavailable, Err: audio.ErrDeviceNotFound}
	}
	s.state = StateStarting
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)
	if err != nil {
		s.setState(StateError)
		close(s.done)
		ce := classify(err)
		s.logger.Warn().Err(err).Str("code", string(ce.Code)).Msg("Failed to open audio stream")
		return ce
	}

	s.setState(StateListening)
	go s.run(ctx, stream, h)
	return nil
}

// Stop implements Session. What was recorded so far is still transcribed.
func (s *FallbackSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateDone
		close(s.done)
		return
	}
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}

func (s *FallbackSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *FallbackSession) run(ctx context.Context, stream AudioStream, h Handlers) {
	defer close(s.done)
	defer h.end()

	closeStream := sync.OnceFunc(func() {
		if err := stream.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to close audio stream")
		}
	})
	defer closeStream()

	h.start()

	buf := audio.NewBuffer(s.cfg.Spec, int(s.cfg.Window/time.Second+1)*s.cfg.Spec.BytesPerSecond())
	timer := time.NewTimer(s.cfg.Window)
	defer timer.Stop()

	vad := audio.NewVAD(s.cfg.SilenceRMS, 3)
	var quiet time.Duration

	chunks := stream.Chunks()
record:
	for {
		select {
		case <-ctx.Done():
			s.setState(StateDone)
			s.logger.Debug().Msg("Recording aborted by teardown")
			return
		case <-s.stopCh:
			break record
		case <-timer.C:
			break record
		case chunk, ok := <-chunks:
			if !ok {
				break record
			}
			if vad.Process(audio.RMS(chunk.Data, s.cfg.Spec.BitDepth)) {
				quiet = 0
			} else if vad.HeardSpeech() {
				quiet += s.cfg.Spec.Duration(len(chunk.Data))
			}
			if _, err := buf.Write(chunk.Data); errors.Is(err, audio.ErrBufferFull) {
				break record
			}
			if s.cfg.TrailingSilence > 0 && quiet >= s.cfg.TrailingSilence {
				s.logger.Debug().Dur("quiet", quiet).Msg("Speech ended, closing recording early")
				break record
			}
		}
	}
	closeStream()

	s.setState(StateFinalizing)
	h.processing()
	s.logger.Debug().
		Int("bytes", buf.Len()).
		Float64("peak_rms", buf.PeakRMS()).
		Bool("speech", vad.HeardSpeech()).
		Msg("Recording finished")

	text, ce := s.transcribe(ctx, buf, vad.HeardSpeech())
	if ctx.Err() != nil {
		s.setState(StateDone)
		return
	}
	if ce != nil {
		s.setState(StateError)
		h.fail(ce)
		return
	}
	s.setState(StateDone)
	h.final(text)
}

func (s *FallbackSession) transcribe(ctx context.Context, buf *audio.Buffer, heard bool) (string, *Error) {
	if buf.Len() == 0 || !heard {
		return "", &Error{Code: CodeNoSpeech, Err: ErrNoSpeech}
	}
	if s.transcriber == nil {
		return "", &Error{Code: CodeTranscriptionUnavailable, Err: ErrTranscriptionUnavailable}
	}

	text, err := s.transcriber.Transcribe(ctx, buf.PCM(), buf.Spec())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Transcription failed")
		return "", classify(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &Error{Code: CodeNoSpeech, Err: ErrNoSpeech}
	}
	return text, nil
}
