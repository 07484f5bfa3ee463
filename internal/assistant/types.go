// Package assistant orchestrates one voice assistant session: permission,
// capture, commands, conversation history, inference and speech output.
package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/config"
	"github.com/normanking/carevoice/internal/conversation"
	"github.com/normanking/carevoice/internal/permission"
)

// CaptureState is the capture position shown to the UI.
type CaptureState string

const (
	CaptureIdle               CaptureState = "idle"
	CaptureAwaitingPermission CaptureState = "awaiting-permission"
	CaptureListening          CaptureState = "listening"
	CaptureProcessingFinal    CaptureState = "processing-final"
	CaptureError              CaptureState = "error"
	CaptureFallbackListening  CaptureState = "fallback-listening"
)

// Phase is the coarse session position.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseRequestingPermission Phase = "requesting-permission"
	PhaseListening            Phase = "listening"
	PhaseSending              Phase = "sending"
)

var (
	ErrCaptureActive = errors.New("a capture session is already active")
	ErrClosed        = errors.New("assistant session closed")
	ErrStaleReply    = errors.New("reply superseded by a newer request")
	ErrEmptyMessage  = errors.New("message is empty")
)

// Permissions is the permission gate the controller consults.
type Permissions interface {
	State() permission.State
	Check(ctx context.Context) permission.State
	MarkGranted()
	Update(state permission.State)
	Subscribe(fn func(permission.Change)) func()
}

// Speaker plays assistant replies. *tts.Player implements it.
type Speaker interface {
	Speak(text string) error
	Cancel()
	Toggle() bool
	Enable()
	Disable()
	Enabled() bool
	IsSpeaking() bool
}

// Options holds the session tunables.
type Options struct {
	ContextWindow      int
	SendDebounce       time.Duration
	StatusDismissDelay time.Duration
	RedirectDelay      time.Duration
	MaxPrimaryFailures int
	UseFallback        bool
	VoiceOutput        bool
	WelcomeText        string
	TipsText           string
	Fallback           capture.FallbackConfig
}

// DefaultOptions returns the options built from the default config.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig maps the session and capture sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	fb := capture.DefaultFallbackConfig()
	if cfg.Capture.FallbackWindow > 0 {
		fb.Window = cfg.Capture.FallbackWindow
	}
	if cfg.Capture.SampleRate > 0 {
		fb.Spec.SampleRate = cfg.Capture.SampleRate
	}
	if cfg.Capture.Channels > 0 {
		fb.Spec.Channels = cfg.Capture.Channels
	}
	if cfg.Capture.SilenceRMS > 0 {
		fb.SilenceRMS = cfg.Capture.SilenceRMS
	}
	if cfg.Capture.TrailingSilence > 0 {
		fb.TrailingSilence = cfg.Capture.TrailingSilence
	}

	return Options{
		ContextWindow:      cfg.Session.ContextWindow,
		SendDebounce:       cfg.Session.SendDebounce,
		StatusDismissDelay: cfg.Session.StatusDismissDelay,
		RedirectDelay:      cfg.Session.RedirectDelay,
		MaxPrimaryFailures: cfg.Session.MaxPrimaryFailures,
		UseFallback:        cfg.Capture.PreferFallback,
		VoiceOutput:        cfg.Session.VoiceOutput,
		WelcomeText:        cfg.Session.WelcomeText,
		TipsText:           cfg.Session.TipsText,
		Fallback:           fb,
	}
}

func (o Options) withDefaults() Options {
	def := config.DefaultConfig().Session
	if o.ContextWindow <= 0 {
		o.ContextWindow = conversation.DefaultContextWindow
	}
	if o.SendDebounce < 0 {
		o.SendDebounce = 0
	}
	if o.StatusDismissDelay <= 0 {
		o.StatusDismissDelay = def.StatusDismissDelay
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = def.RedirectDelay
	}
	if o.MaxPrimaryFailures <= 0 {
		o.MaxPrimaryFailures = def.MaxPrimaryFailures
	}
	if o.WelcomeText == "" {
		o.WelcomeText = def.WelcomeText
	}
	if o.TipsText == "" {
		o.TipsText = def.TipsText
	}
	if o.Fallback.Window <= 0 {
		o.Fallback = capture.DefaultFallbackConfig()
	}
	return o
}

// Snapshot is the UI-facing session state.
type Snapshot struct {
	SessionID        string                 `json:"sessionId"`
	Messages         []conversation.Message `json:"messages"`
	Permission       permission.State       `json:"permission"`
	Capture          CaptureState           `json:"capture"`
	Phase            Phase                  `json:"phase"`
	Typing           bool                   `json:"typing"`
	VoiceOutput      bool                   `json:"voiceOutput"`
	Speaking         bool                   `json:"speaking"`
	UsingFallback    bool                   `json:"usingFallback"`
	Transcript       string                 `json:"transcript,omitempty"`
	Status           string                 `json:"status,omitempty"`
	StatusPersistent bool                   `json:"statusPersistent,omitempty"`
	Remediation      bool                   `json:"remediation"`
}
