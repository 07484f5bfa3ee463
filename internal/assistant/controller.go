package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/carevoice/internal/bus"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/command"
	"github.com/normanking/carevoice/internal/conversation"
	"github.com/normanking/carevoice/internal/inference"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/normanking/carevoice/internal/tts"
	"github.com/rs/zerolog"
)

// teardownWait bounds how long Close waits for the active capture session
// to release its resources.
const teardownWait = 2 * time.Second

// Deps are the collaborators of a Controller. Recognizer, AudioSource,
// Transcriber and EventBus are optional.
type Deps struct {
	Permissions Permissions
	Recognizer  capture.LiveRecognizer
	AudioSource capture.AudioSource
	Transcriber capture.Transcriber
	Inference   inference.Service
	Speaker     Speaker
	EventBus    *bus.EventBus
}

// Controller is the only component the UI and the inference client talk to.
// Host callbacks may arrive on any goroutine; state is guarded by mu and
// collaborators are always called with mu released.
type Controller struct {
	id     string
	deps   Deps
	logger zerolog.Logger

	history *conversation.Manager
	sched   *Scheduler

	ctx       context.Context
	cancel    context.CancelFunc
	unsubGate func()

	mu              sync.Mutex
	opts            Options
	closed          bool
	state           CaptureState
	active          capture.Session
	activeCancel    context.CancelFunc
	usingFallback   bool
	primaryFailures int
	transcript      string
	status          string
	statusSticky    bool
	remediation     bool
	typing          bool
	seq             uint64
	inflight        context.CancelFunc
}

// New creates a session with a fresh history holding the welcome message.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Controller, error) {
	if deps.Inference == nil {
		return nil, errors.New("assistant: inference service is required")
	}
	if deps.Speaker == nil {
		return nil, errors.New("assistant: speaker is required")
	}
	if deps.Permissions == nil {
		deps.Permissions = permission.NewGate(nil, nil, logger)
	}
	opts = opts.withDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:            id,
		deps:          deps,
		logger:        logger.With().Str("component", "assistant").Str("session", id).Logger(),
		history:       conversation.NewManager(),
		sched:         NewScheduler(),
		ctx:           ctx,
		cancel:        cancel,
		opts:          opts,
		state:         CaptureIdle,
		usingFallback: opts.UseFallback,
	}

	c.history.Reset(opts.WelcomeText)
	if opts.VoiceOutput {
		deps.Speaker.Enable()
	} else {
		deps.Speaker.Disable()
	}
	c.unsubGate = deps.Permissions.Subscribe(c.onPermissionChange)

	c.logger.Info().Bool("fallback", opts.UseFallback).Msg("Assistant session started")
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Reconfigure swaps timing knobs and texts, e.g. after a config file edit.
// The current history is kept.
func (c *Controller) Reconfigure(opts Options) {
	opts = opts.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	opts.UseFallback = c.usingFallback
	c.opts = opts
}

// StartVoiceInput asks for microphone permission if needed and starts a
// capture session. It fails with ErrCaptureActive while one is running.
func (c *Controller) StartVoiceInput(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active != nil || c.state == CaptureAwaitingPermission {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	c.state = CaptureAwaitingPermission
	c.mu.Unlock()
	c.publishCapture(CaptureAwaitingPermission, "")

	state := c.deps.Permissions.State()
	if state != permission.StateGranted {
		state = c.deps.Permissions.Check(ctx)
	}
	if state == permission.StateDenied {
		c.mu.Lock()
		c.state = CaptureIdle
		c.mu.Unlock()
		c.publishCapture(CaptureIdle, "")
		c.openRemediation()
		c.logger.Warn().Msg("Voice input refused, microphone permission denied")
		return &permission.Error{State: permission.StateDenied, Err: permission.ErrDenied}
	}

	c.mu.Lock()
	kind := capture.KindPrimary
	if c.usingFallback {
		kind = capture.KindFallback
	}
	c.mu.Unlock()
	return c.startCapture(kind)
}

func (c *Controller) newSession(kind capture.Kind) capture.Session {
	if kind == capture.KindFallback {
		c.mu.Lock()
		cfg := c.opts.Fallback
		c.mu.Unlock()
		return capture.NewFallbackSession(c.deps.AudioSource, c.deps.Transcriber, cfg, c.logger)
	}
	return capture.NewPrimarySession(c.deps.Recognizer, c.logger)
}

func (c *Controller) startCapture(kind capture.Kind) error {
	sess := c.newSession(kind)
	sessCtx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.active = sess
	c.activeCancel = cancel
	c.transcript = ""
	c.mu.Unlock()

	err := sess.Start(sessCtx, c.handlers(sess))
	if err == nil {
		c.logger.Debug().Str("kind", string(kind)).Msg("Capture session started")
		return nil
	}

	c.mu.Lock()
	if c.active == sess {
		c.active = nil
		c.activeCancel = nil
	}
	c.mu.Unlock()
	cancel()

	var ce *capture.Error
	if !errors.As(err, &ce) {
		ce = &capture.Error{Code: capture.CodeUnknown, Err: err}
	}
	if kind == capture.KindPrimary && ce.Code == capture.CodeUnsupported {
		c.logger.Info().Msg("Live recognition unsupported, switching to fallback capture")
		c.enableFallback()
		return c.startCapture(capture.KindFallback)
	}

	c.captureFailed(kind, ce)
	return err
}

// handlers binds session callbacks; callbacks of a session that is no
// longer active are dropped.
func (c *Controller) handlers(sess capture.Session) capture.Handlers {
	kind := sess.Kind()
	return capture.Handlers{
		OnStart: func() {
			if !c.isActive(sess) {
				return
			}
			c.deps.Permissions.MarkGranted()
			state := CaptureListening
			if kind == capture.KindFallback {
				state = CaptureFallbackListening
			}
			c.setCapture(sess, state)
		},
		OnInterim: func(text string) {
			c.mu.Lock()
			if c.active != sess || c.closed {
				c.mu.Unlock()
				return
			}
			c.transcript = text
			c.mu.Unlock()
			c.publish(bus.EventTypeTranscriptInterim, map[string]any{"text": text})
		},
		OnProcessing: func() {
			c.setCapture(sess, CaptureProcessingFinal)
		},
		OnFinal: func(text string) {
			c.mu.Lock()
			if c.active != sess || c.closed {
				c.mu.Unlock()
				return
			}
			c.transcript = text
			if kind == capture.KindPrimary {
				c.primaryFailures = 0
			}
			c.mu.Unlock()
			c.publish(bus.EventTypeTranscriptFinal, map[string]any{"text": text, "kind": string(kind)})
			c.handleTranscript(text)
		},
		OnError: func(err *capture.Error) {
			if !c.isActive(sess) {
				return
			}
			c.captureFailed(kind, err)
		},
		OnEnd: func() {
			c.mu.Lock()
			if c.active != sess || c.closed {
				c.mu.Unlock()
				return
			}
			c.active = nil
			if c.activeCancel != nil {
				c.activeCancel()
				c.activeCancel = nil
			}
			state := c.state
			if state != CaptureError {
				state = CaptureIdle
				c.state = state
			}
			c.mu.Unlock()
			c.publishCapture(state, kind)
		},
	}
}

func (c *Controller) isActive(sess capture.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == sess && !c.closed
}

func (c *Controller) setCapture(sess capture.Session, state CaptureState) {
	c.mu.Lock()
	if c.active != sess || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.publishCapture(state, sess.Kind())
}

// captureFailed surfaces a capture error as status text and escalates to
// the fallback strategy after repeated primary failures.
func (c *Controller) captureFailed(kind capture.Kind, ce *capture.Error) {
	c.logger.Warn().Err(ce).Str("kind", string(kind)).Str("code", string(ce.Code)).Msg("Capture failed")

	switchToFallback := false
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = CaptureError
	if kind == capture.KindPrimary && ce.Code == capture.CodeUnknown && !c.usingFallback {
		c.primaryFailures++
		switchToFallback = c.primaryFailures >= c.opts.MaxPrimaryFailures
	}
	c.mu.Unlock()
	c.publishCapture(CaptureError, kind)

	if ce.Code == capture.CodePermissionDenied {
		c.deps.Permissions.Update(permission.StateDenied)
		c.openRemediation()
		return
	}

	status := captureStatus(ce.Code)
	if switchToFallback {
		c.logger.Info().Msg("Repeated live recognition failures, switching to fallback capture")
		c.enableFallback()
		status = statusFallbackEnabled
	}
	c.setStatus(status, !ce.Transient())
}

func (c *Controller) enableFallback() {
	c.mu.Lock()
	was := c.usingFallback
	c.usingFallback = true
	c.primaryFailures = 0
	c.mu.Unlock()
	if !was {
		c.publish(bus.EventTypeFallbackEnabled, map[string]any{"enabled": true})
	}
}

// handleTranscript routes a final transcript to a local command or, after
// the send debounce, to the inference service.
func (c *Controller) handleTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	cmd := command.Interpret(text)
	if cmd != command.None {
		c.logger.Info().Str("command", string(cmd)).Msg("Voice command")
		c.publish(bus.EventTypeCommandExecuted, map[string]any{"command": string(cmd)})
	}

	switch cmd {
	case command.ClearChat:
		c.ClearChat()
	case command.ShowTips:
		c.ShowTips()
	case command.ToggleVoice:
		c.ToggleVoiceOutput()
	default:
		c.mu.Lock()
		delay := c.opts.SendDebounce
		c.mu.Unlock()
		// An earlier transcript still waiting out its debounce goes first.
		if c.sched.Flush(taskSend) {
			c.logger.Debug().Msg("Flushed pending voice message")
		}
		c.sched.Schedule(taskSend, delay, func() {
			if _, err := c.SendMessage(c.ctx, text); err != nil {
				c.logger.Debug().Err(err).Msg("Voice message send finished with error")
			}
		})
	}
}

// StopVoiceInput ends the active capture early. A fallback recording is
// still transcribed.
func (c *Controller) StopVoiceInput() {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// SendMessage appends text as a user message and asks the inference
// service for a reply. A visible assistant message is appended on success
// and on failure; the returned error is the classified failure.
func (c *Controller) SendMessage(ctx context.Context, text string) (*conversation.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	// The new text travels as Message, so the window ends before it.
	window := c.history.ContextWindow(c.opts.ContextWindow)
	userMsg := c.history.AppendUser(text)

	c.seq++
	seq := c.seq
	if c.inflight != nil {
		c.inflight()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	c.inflight = cancel
	c.typing = true
	c.transcript = ""
	c.mu.Unlock()

	c.publishMessage(userMsg)
	c.publishTyping(true)
	c.logger.Debug().Uint64("seq", seq).Int("context", len(window)).Msg("Sending message")

	reply, err := c.deps.Inference.Send(reqCtx, inference.Request{
		Message:             text,
		ConversationHistory: window,
	})
	stop()
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug().Uint64("seq", seq).Msg("Dropping stale reply")
		return nil, ErrStaleReply
	}
	c.inflight = nil
	c.typing = false
	welcome, redirectDelay := c.opts.WelcomeText, c.opts.RedirectDelay

	if err != nil {
		kind := inference.KindOf(err)
		msg := c.history.AppendNotice(failureReply(kind), conversation.SeverityWarning)
		c.mu.Unlock()

		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Inference request failed")
		c.publishTyping(false)
		c.publishMessage(msg)
		if kind == inference.KindUnauthenticated {
			c.sched.Schedule(taskRedirect, redirectDelay, func() {
				c.logger.Info().Msg("Redirecting to login")
				c.publish(bus.EventTypeRedirectToLogin, nil)
			})
		}
		return &msg, err
	}

	var reset *conversation.Message
	if reply.ConversationReset {
		m := c.history.Reset(welcome)
		reset = &m
	}
	msg := c.history.AppendAssistant(reply.Text, reply.Meta())
	c.mu.Unlock()

	c.publishTyping(false)
	if reset != nil {
		c.logger.Info().Msg("Conversation reset by inference service")
		c.publish(bus.EventTypeConversationReset, map[string]any{"welcome": *reset, "reason": "server"})
	}
	c.publishMessage(msg)

	if c.deps.Speaker.Enabled() {
		if err := c.deps.Speaker.Speak(msg.Text); err != nil && !errors.Is(err, tts.ErrDisabled) {
			c.logger.Warn().Err(err).Msg("Failed to speak reply")
		}
	}
	return &msg, nil
}

// ClearChat resets the history to the welcome message and abandons any
// outstanding or pending send.
func (c *Controller) ClearChat() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	wasTyping := c.typing
	c.typing = false
	c.transcript = ""
	c.sched.Cancel(taskSend)
	msg := c.history.Reset(c.opts.WelcomeText)
	c.mu.Unlock()

	if wasTyping {
		c.publishTyping(false)
	}
	c.publish(bus.EventTypeConversationReset, map[string]any{"welcome": msg, "reason": "user"})
	c.logger.Info().Msg("Conversation cleared")
	return nil
}

// ShowTips appends the static health tips message.
func (c *Controller) ShowTips() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	msg := c.history.AppendNotice(c.opts.TipsText, conversation.SeverityInfo)
	c.mu.Unlock()
	c.publishMessage(msg)
	return nil
}

// ToggleVoiceOutput flips spoken replies. Turning it off silences the
// current utterance before returning.
func (c *Controller) ToggleVoiceOutput() bool {
	enabled := c.deps.Speaker.Toggle()
	c.publish(bus.EventTypeVoiceOutputToggled, map[string]any{"enabled": enabled})
	c.logger.Info().Bool("enabled", enabled).Msg("Voice output toggled")
	return enabled
}

// UseFallbackCapture selects the capture strategy for later voice input.
// It is the escape hatch offered next to the permission remediation.
func (c *Controller) UseFallbackCapture(on bool) {
	c.mu.Lock()
	was := c.usingFallback
	c.usingFallback = on
	c.primaryFailures = 0
	c.mu.Unlock()
	if was != on {
		c.publish(bus.EventTypeFallbackEnabled, map[string]any{"enabled": on})
	}
	if on {
		c.DismissRemediation()
	}
}

// DismissRemediation closes the permission guidance and its status.
func (c *Controller) DismissRemediation() {
	c.mu.Lock()
	was := c.remediation
	c.remediation = false
	if c.statusSticky {
		c.status = ""
		c.statusSticky = false
	}
	c.mu.Unlock()
	if was {
		c.publish(bus.EventTypeRemediationClosed, nil)
		c.publishStatus("", false)
	}
}

func (c *Controller) openRemediation() {
	c.mu.Lock()
	was := c.remediation
	c.remediation = true
	c.mu.Unlock()
	c.setStatus(statusPermissionDenied, true)
	if !was {
		c.publish(bus.EventTypeRemediationOpened, nil)
	}
}

func (c *Controller) onPermissionChange(ch permission.Change) {
	c.publish(bus.EventTypePermissionChanged, map[string]any{
		"from": string(ch.From),
		"to":   string(ch.To),
	})

	switch {
	case ch.To == permission.StateDenied:
		c.openRemediation()
	case ch.From == permission.StateDenied && ch.To == permission.StateGranted:
		c.mu.Lock()
		was := c.remediation
		c.remediation = false
		c.status = ""
		c.statusSticky = false
		captureReset := c.state == CaptureError
		if captureReset {
			c.state = CaptureIdle
		}
		c.mu.Unlock()

		c.sched.Cancel(taskStatusDismiss)
		if was {
			c.publish(bus.EventTypeRemediationClosed, nil)
		}
		c.publishStatus("", false)
		if captureReset {
			c.publishCapture(CaptureIdle, "")
		}
	}
}

// setStatus shows text near the input area. Non-sticky status clears
// itself after StatusDismissDelay.
func (c *Controller) setStatus(text string, sticky bool) {
	c.mu.Lock()
	c.status = text
	c.statusSticky = sticky
	delay := c.opts.StatusDismissDelay
	c.mu.Unlock()

	if sticky {
		c.sched.Cancel(taskStatusDismiss)
	} else {
		c.sched.Schedule(taskStatusDismiss, delay, c.dismissStatus)
	}
	c.publishStatus(text, sticky)
}

func (c *Controller) dismissStatus() {
	c.mu.Lock()
	if c.statusSticky {
		c.mu.Unlock()
		return
	}
	c.status = ""
	captureReset := c.state == CaptureError && c.active == nil
	if captureReset {
		c.state = CaptureIdle
	}
	c.mu.Unlock()

	c.publishStatus("", false)
	if captureReset {
		c.publishCapture(CaptureIdle, "")
	}
}

// Snapshot returns the UI-facing state.
func (c *Controller) Snapshot() Snapshot {
	perm := c.deps.Permissions.State()
	voice := c.deps.Speaker.Enabled()
	speaking := c.deps.Speaker.IsSpeaking()

	c.mu.Lock()
	defer c.mu.Unlock()

	phase := PhaseIdle
	switch {
	case c.state == CaptureAwaitingPermission:
		phase = PhaseRequestingPermission
	case c.active != nil:
		phase = PhaseListening
	case c.typing:
		phase = PhaseSending
	}

	return Snapshot{
		SessionID:        c.id,
		Messages:         c.history.Messages(),
		Permission:       perm,
		Capture:          c.state,
		Phase:            phase,
		Typing:           c.typing,
		VoiceOutput:      voice,
		Speaking:         speaking,
		UsingFallback:    c.usingFallback,
		Transcript:       c.transcript,
		Status:           c.status,
		StatusPersistent: c.statusSticky,
		Remediation:      c.remediation,
	}
}

// Close tears the session down: scheduled tasks are cancelled, the
// outstanding request is abandoned, capture and playback are released.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	sess := c.active
	c.active = nil
	c.activeCancel = nil
	c.inflight = nil
	c.mu.Unlock()

	c.sched.Close()
	c.unsubGate()
	c.cancel()
	c.deps.Speaker.Cancel()

	if sess != nil {
		select {
		case <-sess.Done():
		case <-time.After(teardownWait):
			c.logger.Warn().Str("kind", string(sess.Kind())).Msg("Capture session did not release in time")
		}
	}
	c.logger.Info().Msg("Assistant session closed")
	return nil
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.deps.EventBus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["session"] = c.id
	c.deps.EventBus.Publish(bus.Event{Type: t, Data: data})
}

func (c *Controller) publishCapture(state CaptureState, kind capture.Kind) {
	data := map[string]any{"state": string(state)}
	if kind != "" {
		data["kind"] = string(kind)
	}
	c.publish(bus.EventTypeCaptureStateChanged, data)
}

func (c *Controller) publishMessage(msg conversation.Message) {
	c.publish(bus.EventTypeMessageAppended, map[string]any{"message": msg})
}

func (c *Controller) publishTyping(typing bool) {
	c.publish(bus.EventTypeTypingChanged, map[string]any{"typing": typing})
}

func (c *Controller) publishStatus(text string, sticky bool) {
	c.publish(bus.EventTypeStatusChanged, map[string]any{"text": text, "persistent": sticky})
}
