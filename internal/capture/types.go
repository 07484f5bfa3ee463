// Package capture implements the two speech capture strategies: a primary
// live recognizer and a fallback fixed-window recorder.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/permission"
)

// Kind names a capture strategy.
type Kind string

const (
	KindPrimary  Kind = "primary"
	KindFallback Kind = "fallback"
)

// ErrorCode classifies capture failures.
type ErrorCode string

const (
	CodeUnsupported              ErrorCode = "unsupported"
	CodePermissionDenied         ErrorCode = "permission-denied"
	CodeNoSpeech                 ErrorCode = "no-speech"
	CodeDeviceUnavailable        ErrorCode = "capture-device-unavailable"
	CodeAborted                  ErrorCode = "aborted"
	CodeTranscriptionUnavailable ErrorCode = "transcription-unavailable"
	CodeUnknown                  ErrorCode = "unknown"
)

// Sentinels host adapters wrap so failures map onto a code.
var (
	ErrSessionActive = errors.New("capture session already started")
	ErrNoSpeech      = errors.New("no speech detected")
	ErrAborted       = errors.New("capture aborted")
	ErrUnsupported   = errors.New("live recognition unsupported")
)

// Error is a classified capture failure.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture %s: %v", e.Code, e.Err)
	}
	return "capture " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure goes away on its own. Only a
// denied microphone needs the user to change something first.
func (e *Error) Transient() bool {
	return e.Code != CodePermissionDenied
}

// CodeOf returns the code of err, or CodeUnknown when err is not a capture error.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// classify turns an adapter error into a capture error.
func classify(err error) *Error {
	var ce *Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, permission.ErrDenied):
		return &Error{Code: CodePermissionDenied, Err: err}
	case errors.Is(err, ErrNoSpeech):
		return &Error{Code: CodeNoSpeech, Err: err}
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return &Error{Code: CodeAborted, Err: err}
	case errors.Is(err, ErrUnsupported):
		return &Error{Code: CodeUnsupported, Err: err}
	case errors.Is(err, audio.ErrDeviceNotFound):
		return &Error{Code: CodeDeviceUnavailable, Err: err}
	default:
		return &Error{Code: CodeUnknown, Err: err}
	}
}

// Handlers receive session progress. Every field is optional. Callbacks run
// on a session goroutine or the host's callback goroutine, never under a
// session lock. OnEnd fires exactly once for every session whose Start
// returned nil, after any OnFinal or OnError.
type Handlers struct {
	OnStart      func()
	OnInterim    func(text string)
	OnProcessing func()
	OnFinal      func(text string)
	OnError      func(err *Error)
	OnEnd        func()
}

func (h Handlers) start() {
	if h.OnStart != nil {
		h.OnStart()
	}
}

func (h Handlers) interim(text string) {
	if h.OnInterim != nil {
		h.OnInterim(text)
	}
}

func (h Handlers) processing() {
	if h.OnProcessing != nil {
		h.OnProcessing()
	}
}

func (h Handlers) final(text string) {
	if h.OnFinal != nil {
		h.OnFinal(text)
	}
}

func (h Handlers) fail(err *Error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) end() {
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

// Session is a single-use capture attempt.
type Session interface {
	Kind() Kind
	// Start begins capture. Synchronous failures are returned as *Error and
	// no handler is invoked. Cancelling ctx tears the session down silently.
	Start(ctx context.Context, h Handlers) error
	// Stop ends capture early. It is a no-op on a finished session.
	Stop()
	// Done is closed once the session reached a terminal state.
	Done() <-chan struct{}
}

// State is the lifecycle position of a session.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateListening  State = "listening"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateError      State = "error"
)

func (s State) terminal() bool { return s == StateDone || s == StateError }
