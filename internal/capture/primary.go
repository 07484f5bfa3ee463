package capture

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RecognitionEventType identifies a live recognizer callback.
type RecognitionEventType string

const (
	RecognitionStart  RecognitionEventType = "start"
	RecognitionResult RecognitionEventType = "result"
	RecognitionError  RecognitionEventType = "error"
	RecognitionEnd    RecognitionEventType = "end"
)

// RecognitionEvent is delivered by a LiveRecognizer.
type RecognitionEvent struct {
	Type  RecognitionEventType
	Text  string
	Final bool
	Err   error
}

// Recognition is an open host recognition resource.
type Recognition interface {
	// Stop asks the recognizer to finish; it should deliver any pending
	// final result followed by an end event.
	Stop()
	// Close releases the resource.
	Close() error
}

// LiveRecognizer is the host's streaming speech recognition capability.
type LiveRecognizer interface {
	Supported() bool
	// Open starts recognition. Events may be delivered on any goroutine,
	// including before Open returns.
	Open(ctx context.Context, sink func(RecognitionEvent)) (Recognition, error)
}

// PrimarySession drives a LiveRecognizer through
// idle → starting → listening → finalizing → done|error.
type PrimarySession struct {
	recognizer LiveRecognizer
	logger     zerolog.Logger

	mu            sync.Mutex
	state         State
	handlers      Handlers
	rec           Recognition
	stopRequested bool
	stopCtx       func() bool

	releaseOnce sync.Once
	done        chan struct{}
}

// NewPrimarySession creates a single-use session over recognizer.
func NewPrimarySession(recognizer LiveRecognizer, logger zerolog.Logger) *PrimarySession {
	return &PrimarySession{
		recognizer: recognizer,
		logger:     logger.With().Str("component", "capture").Str("kind", string(KindPrimary)).Logger(),
		state:      StateIdle,
		done:       make(chan struct{}),
	}
}

// Kind implements Session.
func (s *PrimarySession) Kind() Kind { return KindPrimary }

// Done implements Session.
func (s *PrimarySession) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *PrimarySession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start implements Session.
func (s *PrimarySession) Start(ctx context.Context, h Handlers) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	if s.recognizer == nil || !s.recognizer.Supported() {
		s.state = StateError
		s.mu.Unlock()
		close(s.done)
		return &Error{Code: CodeUnsupported, Err: ErrUnsupported}
	}
	s.state = StateStarting
	s.handlers = h
	s.mu.Unlock()

	rec, err := s.recognizer.Open(ctx, s.handle)
	if err != nil {
		s.mu.Lock()
		if s.state.terminal() {
			// The failure already reached the handlers through the sink.
			s.mu.Unlock()
			s.logger.Debug().Err(err).Msg("Recognition failed while opening")
			return nil
		}
		s.state = StateError
		s.mu.Unlock()
		close(s.done)
		ce := classify(err)
		s.logger.Warn().Err(err).Str("code", string(ce.Code)).Msg("Failed to open recognition")
		return ce
	}

	s.mu.Lock()
	s.rec = rec
	finished := s.state.terminal()
	if !finished {
		s.stopCtx = context.AfterFunc(ctx, s.abort)
	}
	s.mu.Unlock()

	if finished {
		s.release()
	}
	s.logger.Debug().Msg("Recognition opened")
	return nil
}

// Stop implements Session. A stop requested by the user ends quietly.
func (s *PrimarySession) Stop() {
	s.mu.Lock()
	switch {
	case s.state == StateIdle:
		s.state = StateDone
		s.mu.Unlock()
		close(s.done)
		return
	case s.state.terminal() || s.stopRequested:
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// handle is the sink handed to the recognizer.
func (s *PrimarySession) handle(ev RecognitionEvent) {
	s.mu.Lock()
	if s.state.terminal() || s.state == StateIdle || s.state == StateFinalizing {
		s.mu.Unlock()
		return
	}
	h := s.handlers

	switch ev.Type {
	case RecognitionStart:
		if s.state != StateStarting {
			s.mu.Unlock()
			return
		}
		s.state = StateListening
		s.mu.Unlock()
		h.start()

	case RecognitionResult:
		text := strings.TrimSpace(ev.Text)
		if !ev.Final {
			s.mu.Unlock()
			if text != "" {
				h.interim(text)
			}
			return
		}
		if text == "" {
			s.mu.Unlock()
			return
		}
		s.state = StateFinalizing
		s.mu.Unlock()

		h.processing()
		h.final(text)
		s.finish(StateDone, nil)

	case RecognitionError:
		s.mu.Unlock()
		ce := classify(ev.Err)
		s.logger.Warn().Err(ev.Err).Str("code", string(ce.Code)).Msg("Recognition error")
		s.finish(StateError, ce)

	case RecognitionEnd:
		stopped := s.stopRequested
		s.mu.Unlock()
		if stopped {
			s.finish(StateDone, nil)
			return
		}
		s.finish(StateError, &Error{Code: CodeNoSpeech, Err: ErrNoSpeech})

	default:
		s.mu.Unlock()
	}
}

// finish moves to a terminal state exactly once, reports err if any and
// releases the recognition.
func (s *PrimarySession) finish(state State, ce *Error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	h := s.handlers
	stopCtx := s.stopCtx
	s.mu.Unlock()

	if stopCtx != nil {
		stopCtx()
	}
	s.release()
	if ce != nil {
		h.fail(ce)
	}
	h.end()
	close(s.done)
}

// abort tears the session down without reporting an error.
func (s *PrimarySession) abort() {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateDone
	h := s.handlers
	s.mu.Unlock()

	s.logger.Debug().Msg("Recognition aborted by teardown")
	s.release()
	h.end()
	close(s.done)
}

func (s *PrimarySession) release() {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return
	}
	s.releaseOnce.Do(func() {
		if err := rec.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to close recognition")
		}
	})
}
