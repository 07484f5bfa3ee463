package assistant

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/bus"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/conversation"
	"github.com/normanking/carevoice/internal/inference"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/normanking/carevoice/internal/tts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test fakes

type releaser struct{ n *atomic.Int32 }

func (r releaser) Release() { r.n.Add(1) }

type fakeProber struct {
	err      error
	probes   atomic.Int32
	released atomic.Int32
}

func (p *fakeProber) Probe(ctx context.Context) (permission.Stream, error) {
	p.probes.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return releaser{&p.released}, nil
}

type fakeRecognizer struct {
	supported bool

	mu     sync.Mutex
	sink   func(capture.RecognitionEvent)
	opened int
	closed atomic.Int32
}

func (f *fakeRecognizer) Supported() bool { return f.supported }

func (f *fakeRecognizer) Open(ctx context.Context, sink func(capture.RecognitionEvent)) (capture.Recognition, error) {
	f.mu.Lock()
	f.sink = sink
	f.opened++
	f.mu.Unlock()
	return &fakeRecognition{f: f}, nil
}

func (f *fakeRecognizer) emit(ev capture.RecognitionEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

func (f *fakeRecognizer) say(text string) {
	f.emit(capture.RecognitionEvent{Type: capture.RecognitionStart})
	f.emit(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: text})
	f.emit(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: text, Final: true})
}

func (f *fakeRecognizer) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type fakeRecognition struct{ f *fakeRecognizer }

func (r *fakeRecognition) Stop() {
	go r.f.emit(capture.RecognitionEvent{Type: capture.RecognitionEnd})
}

func (r *fakeRecognition) Close() error {
	r.f.closed.Add(1)
	return nil
}

type fakeStream struct {
	ch     chan audio.Chunk
	closed atomic.Int32
}

func (s *fakeStream) Chunks() <-chan audio.Chunk { return s.ch }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeSource struct{ stream *fakeStream }

func (f *fakeSource) Open(ctx context.Context) (capture.AudioStream, error) { return f.stream, nil }

type transcriberFunc func(ctx context.Context, pcm []byte, spec audio.Spec) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, pcm []byte, spec audio.Spec) (string, error) {
	return f(ctx, pcm, spec)
}

type fakeInference struct {
	mu       sync.Mutex
	requests []inference.Request
	handler  func(ctx context.Context, req inference.Request) (*inference.Reply, error)
}

func (f *fakeInference) Send(ctx context.Context, req inference.Request) (*inference.Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return &inference.Reply{Text: "reply to " + req.Message}, nil
	}
	return h(ctx, req)
}

func (f *fakeInference) calls() []inference.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inference.Request(nil), f.requests...)
}

type fakeSpeaker struct {
	mu       sync.Mutex
	enabled  bool
	speaking bool
	spoken   []string
	cancels  int
}

func (s *fakeSpeaker) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return tts.ErrDisabled
	}
	s.spoken = append(s.spoken, text)
	s.speaking = true
	return nil
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	s.speaking = false
}

func (s *fakeSpeaker) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = !s.enabled
	if !s.enabled {
		s.speaking = false
	}
	return s.enabled
}

func (s *fakeSpeaker) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

func (s *fakeSpeaker) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.speaking = false
}

func (s *fakeSpeaker) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// Harness

type harness struct {
	c        *Controller
	gate     *permission.Gate
	prober   *fakeProber
	rec      *fakeRecognizer
	inf      *fakeInference
	spk      *fakeSpeaker
	eventBus *bus.EventBus
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SendDebounce = 5 * time.Millisecond
	opts.StatusDismissDelay = 40 * time.Millisecond
	opts.RedirectDelay = 20 * time.Millisecond
	opts.WelcomeText = "Welcome"
	opts.TipsText = "Tips"
	opts.Fallback.Window = 30 * time.Millisecond
	return opts
}

func newHarness(t *testing.T, tweak func(*Deps, *Options)) *harness {
	t.Helper()
	h := &harness{
		prober:   &fakeProber{},
		rec:      &fakeRecognizer{supported: true},
		inf:      &fakeInference{},
		spk:      &fakeSpeaker{},
		eventBus: bus.NewEventBus(),
	}
	h.gate = permission.NewGate(h.prober, nil, zerolog.Nop())

	deps := Deps{
		Permissions: h.gate,
		Recognizer:  h.rec,
		Inference:   h.inf,
		Speaker:     h.spk,
		EventBus:    h.eventBus,
	}
	opts := testOptions()
	if tweak != nil {
		tweak(&deps, &opts)
	}

	c, err := New(deps, opts, zerolog.Nop())
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() { c.Close() })
	return h
}

func (h *harness) count(t bus.EventType) *atomic.Int32 {
	var n atomic.Int32
	h.eventBus.Subscribe(t, func(bus.Event) { n.Add(1) })
	return &n
}

func texts(msgs []conversation.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func loudChunk() audio.Chunk {
	data := make([]byte, 320)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(8000)))
	}
	return audio.Chunk{Data: data, Timestamp: time.Now()}
}

// Tests

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Speaker: &fakeSpeaker{}}, DefaultOptions(), zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Deps{Inference: &fakeInference{}}, DefaultOptions(), zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_StartsWithWelcome(t *testing.T) {
	h := newHarness(t, nil)
	snap := h.c.Snapshot()

	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, []string{"Welcome"}, texts(snap.Messages))
	assert.Equal(t, CaptureIdle, snap.Capture)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.True(t, snap.VoiceOutput)
	assert.False(t, snap.UsingFallback)
}

func TestClearChatByVoice(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, h.c.Snapshot().Messages, 3)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	h.rec.say("Please clear chat")

	assert.Eventually(t, func() bool {
		return h.c.Snapshot().Capture == CaptureIdle
	}, time.Second, 5*time.Millisecond)

	msgs := h.c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "Welcome", msgs[0].Text)
	assert.Equal(t, conversation.SenderAssistant, msgs[0].Sender)
	assert.Len(t, h.inf.calls(), 1)
	assert.Equal(t, int32(1), h.rec.closed.Load())
	assert.Equal(t, int32(1), h.prober.released.Load())
}

func TestPermissionDeniedOpensRemediation(t *testing.T) {
	h := newHarness(t, nil)
	h.prober.err = permission.ErrDenied
	opened := h.count(bus.EventTypeRemediationOpened)

	err := h.c.StartVoiceInput(context.Background())

	var pe *permission.Error
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, permission.ErrDenied)

	snap := h.c.Snapshot()
	assert.Equal(t, permission.StateDenied, snap.Permission)
	assert.True(t, snap.Remediation)
	assert.True(t, snap.StatusPersistent)
	assert.NotEmpty(t, snap.Status)
	assert.Equal(t, CaptureIdle, snap.Capture)
	assert.Zero(t, h.rec.openCount())
	assert.Eventually(t, func() bool { return opened.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.NotEmpty(t, h.c.Snapshot().Status, "permission status must not auto-clear")
}

func TestServerResetKeepsReply(t *testing.T) {
	h := newHarness(t, nil)
	h.c.ShowTips()
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		return &inference.Reply{Text: "Let's start fresh.", ConversationReset: true}, nil
	}

	msg, err := h.c.SendMessage(context.Background(), "new topic")
	require.NoError(t, err)

	msgs := h.c.Snapshot().Messages
	assert.Equal(t, []string{"Welcome", "Let's start fresh."}, texts(msgs))
	assert.Equal(t, msg.ID, msgs[1].ID)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
}

func TestToggleOffSilencesSynchronously(t *testing.T) {
	engine := &startingEngine{}
	player := tts.NewPlayer(engine, nil, zerolog.Nop())
	h := newHarness(t, func(d *Deps, o *Options) { d.Speaker = player })

	_, err := h.c.SendMessage(context.Background(), "how do I sleep better?")
	require.NoError(t, err)
	require.True(t, player.IsSpeaking())
	before := engine.cancels()

	assert.False(t, h.c.ToggleVoiceOutput())
	assert.False(t, player.IsSpeaking())
	assert.Equal(t, before+1, engine.cancels())

	_, err = h.c.SendMessage(context.Background(), "and exercise?")
	require.NoError(t, err)
	assert.Equal(t, 1, engine.spoken())
	assert.False(t, h.c.Snapshot().Speaking)
}

// startingEngine starts every utterance immediately and never ends it.
type startingEngine struct {
	mu       sync.Mutex
	speaks   int
	canceled int
}

func (e *startingEngine) Speak(u *tts.Utterance) error {
	e.mu.Lock()
	e.speaks++
	e.mu.Unlock()
	u.OnStart()
	return nil
}

func (e *startingEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled++
}

func (e *startingEngine) spoken() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaks
}

func (e *startingEngine) cancels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled
}

func TestUnsupportedRecognitionFallsBack(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- loudChunk()
	var transcribed atomic.Int32

	h := newHarness(t, func(d *Deps, o *Options) {
		d.Recognizer = &fakeRecognizer{supported: false}
		d.AudioSource = &fakeSource{stream: stream}
		d.Transcriber = transcriberFunc(func(ctx context.Context, pcm []byte, spec audio.Spec) (string, error) {
			transcribed.Add(1)
			return "show tips please", nil
		})
	})
	fallback := h.count(bus.EventTypeFallbackEnabled)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	assert.True(t, h.c.Snapshot().UsingFallback)

	assert.Eventually(t, func() bool {
		last := h.c.Snapshot().Messages
		return len(last) == 2 && last[1].Text == "Tips"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), transcribed.Load())
	assert.Empty(t, h.inf.calls())
	assert.Eventually(t, func() bool { return stream.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return fallback.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFallbackWithoutTranscriberReportsLimitation(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- loudChunk()
	h := newHarness(t, func(d *Deps, o *Options) {
		d.AudioSource = &fakeSource{stream: stream}
		o.UseFallback = true
		o.StatusDismissDelay = time.Second
	})

	require.NoError(t, h.c.StartVoiceInput(context.Background()))

	assert.Eventually(t, func() bool {
		return h.c.Snapshot().Capture == CaptureError
	}, time.Second, 5*time.Millisecond)
	snap := h.c.Snapshot()
	assert.Equal(t, captureStatus(capture.CodeTranscriptionUnavailable), snap.Status)
	assert.Len(t, snap.Messages, 1)
	assert.Empty(t, h.inf.calls())
}

func TestStartVoiceInput_RejectsSecondSession(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	assert.ErrorIs(t, h.c.StartVoiceInput(context.Background()), ErrCaptureActive)
	assert.Equal(t, 1, h.rec.openCount())

	h.c.StopVoiceInput()
	assert.Eventually(t, func() bool {
		return h.c.Snapshot().Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, CaptureIdle, h.c.Snapshot().Capture)
	assert.NoError(t, h.c.StartVoiceInput(context.Background()))
}

func TestCaptureStates(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	assert.Equal(t, CaptureAwaitingPermission, h.c.Snapshot().Capture)

	h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionStart})
	snap := h.c.Snapshot()
	assert.Equal(t, CaptureListening, snap.Capture)
	assert.Equal(t, PhaseListening, snap.Phase)
	assert.Equal(t, permission.StateGranted, snap.Permission)

	h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: "my knee"})
	assert.Equal(t, "my knee", h.c.Snapshot().Transcript)
}

func TestVoiceTranscriptIsSentAfterDebounce(t *testing.T) {
	h := newHarness(t, nil)
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		return &inference.Reply{Text: "Please seek immediate care.", SuggestAppointment: true}, nil
	}

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	h.rec.say("I have chest pain")

	assert.Eventually(t, func() bool { return len(h.c.Snapshot().Messages) == 3 }, time.Second, 5*time.Millisecond)

	calls := h.inf.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "I have chest pain", calls[0].Message)
	assert.Equal(t, []conversation.ContextEntry{{Sender: conversation.SenderAssistant, Text: "Welcome"}}, calls[0].ConversationHistory)

	reply := h.c.Snapshot().Messages[2]
	assert.Equal(t, conversation.SeverityUrgent, reply.Severity)
	assert.Equal(t, conversation.ActionAppointment, reply.SuggestedAction)
	assert.Eventually(t, func() bool { return len(h.spk.said()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Please seek immediate care."}, h.spk.said())
}

func TestVoiceTranscriptsWithinDebounceAreAllSent(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) { o.SendDebounce = 100 * time.Millisecond })

	h.c.handleTranscript("my ankle is swollen")
	h.c.handleTranscript("since yesterday")

	assert.Eventually(t, func() bool { return len(h.inf.calls()) == 2 }, time.Second, 5*time.Millisecond)
	sent := []string{h.inf.calls()[0].Message, h.inf.calls()[1].Message}
	assert.ElementsMatch(t, []string{"my ankle is swollen", "since yesterday"}, sent)

	var users []string
	for _, m := range h.c.Snapshot().Messages {
		if m.Sender == conversation.SenderUser {
			users = append(users, m.Text)
		}
	}
	assert.ElementsMatch(t, []string{"my ankle is swollen", "since yesterday"}, users)
}

func TestSendMessage_ContextWindowBound(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) { o.ContextWindow = 3 })

	for _, q := range []string{"one", "two", "three"} {
		_, err := h.c.SendMessage(context.Background(), q)
		require.NoError(t, err)
	}

	calls := h.inf.calls()
	last := calls[len(calls)-1].ConversationHistory
	require.Len(t, last, 3)
	assert.Equal(t, "reply to one", last[0].Text)
	assert.Equal(t, "two", last[1].Text)
	assert.Equal(t, "reply to two", last[2].Text)
}

func TestSendMessage_StaleReplyDropped(t *testing.T) {
	h := newHarness(t, nil)
	firstCanceled := make(chan struct{})
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		if req.Message == "first" {
			<-ctx.Done()
			close(firstCanceled)
			return &inference.Reply{Text: "late"}, nil
		}
		return &inference.Reply{Text: "fresh"}, nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.c.SendMessage(context.Background(), "first")
		errCh <- err
	}()
	assert.Eventually(t, func() bool { return h.c.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	_, err := h.c.SendMessage(context.Background(), "second")
	require.NoError(t, err)

	<-firstCanceled
	assert.ErrorIs(t, <-errCh, ErrStaleReply)

	got := texts(h.c.Snapshot().Messages)
	assert.Equal(t, []string{"Welcome", "first", "second", "fresh"}, got)
	assert.False(t, h.c.Snapshot().Typing)
}

func TestClearChat_CancelsOutstandingRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		<-ctx.Done()
		return nil, &inference.Error{Kind: inference.KindNetwork, Err: ctx.Err()}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.c.SendMessage(context.Background(), "question")
		errCh <- err
	}()
	assert.Eventually(t, func() bool { return h.c.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.ClearChat())
	assert.ErrorIs(t, <-errCh, ErrStaleReply)
	assert.Equal(t, []string{"Welcome"}, texts(h.c.Snapshot().Messages))
}

func TestSendMessage_FailuresAlwaysAnswer(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server error", &inference.Error{Kind: inference.KindServerError, Status: 500}, replyServerError},
		{"network", &inference.Error{Kind: inference.KindNetwork, Err: errors.New("dial tcp")}, replyNetwork},
		{"unclassified", errors.New("boom"), replyNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
				return nil, tt.err
			}

			msg, err := h.c.SendMessage(context.Background(), "hello")
			require.Error(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, tt.want, msg.Text)
			assert.Equal(t, conversation.SenderAssistant, msg.Sender)
			assert.False(t, h.c.Snapshot().Typing)
			assert.Empty(t, h.spk.said())

			h.inf.handler = nil
			_, err = h.c.SendMessage(context.Background(), "again")
			assert.NoError(t, err)
		})
	}
}

func TestSendMessage_UnauthenticatedRedirectsOnce(t *testing.T) {
	h := newHarness(t, nil)
	redirects := h.count(bus.EventTypeRedirectToLogin)
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		return nil, &inference.Error{Kind: inference.KindUnauthenticated, Err: inference.ErrNoToken}
	}

	msg, err := h.c.SendMessage(context.Background(), "hello")
	assert.Equal(t, inference.KindUnauthenticated, inference.KindOf(err))
	assert.Equal(t, replyUnauthenticated, msg.Text)

	assert.Eventually(t, func() bool { return redirects.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), redirects.Load())
}

func TestClose_CancelsRedirect(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) { o.RedirectDelay = 50 * time.Millisecond })
	redirects := h.count(bus.EventTypeRedirectToLogin)
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		return nil, &inference.Error{Kind: inference.KindUnauthenticated, Status: 401}
	}

	h.c.SendMessage(context.Background(), "hello")
	require.NoError(t, h.c.Close())

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, redirects.Load())
}

func TestRepeatedPrimaryFailuresSwitchToFallback(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) { o.MaxPrimaryFailures = 2 })

	for range 2 {
		require.NoError(t, h.c.StartVoiceInput(context.Background()))
		h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionStart})
		h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionError, Err: errors.New("recognizer crashed")})
		assert.Eventually(t, func() bool { return h.c.Snapshot().Phase == PhaseIdle }, time.Second, 5*time.Millisecond)
	}

	snap := h.c.Snapshot()
	assert.True(t, snap.UsingFallback)
	assert.Equal(t, statusFallbackEnabled, snap.Status)
	assert.Equal(t, int32(2), h.rec.closed.Load())
}

func TestTransientStatusAutoDismisses(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionStart})
	h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionEnd})

	snap := h.c.Snapshot()
	assert.Equal(t, CaptureError, snap.Capture)
	assert.Equal(t, captureStatus(capture.CodeNoSpeech), snap.Status)
	assert.False(t, snap.StatusPersistent)

	assert.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.Status == "" && s.Capture == CaptureIdle
	}, time.Second, 5*time.Millisecond)
}

func TestPermissionRecoveryClearsRemediation(t *testing.T) {
	h := newHarness(t, nil)
	h.prober.err = permission.ErrDenied
	closed := h.count(bus.EventTypeRemediationClosed)

	require.Error(t, h.c.StartVoiceInput(context.Background()))
	require.True(t, h.c.Snapshot().Remediation)

	h.gate.Update(permission.StateGranted)

	snap := h.c.Snapshot()
	assert.False(t, snap.Remediation)
	assert.Empty(t, snap.Status)
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.prober.err = nil
	assert.NoError(t, h.c.StartVoiceInput(context.Background()))
}

func TestUseFallbackCaptureDismissesRemediation(t *testing.T) {
	h := newHarness(t, nil)
	h.prober.err = permission.ErrDenied
	require.Error(t, h.c.StartVoiceInput(context.Background()))

	h.c.UseFallbackCapture(true)

	snap := h.c.Snapshot()
	assert.True(t, snap.UsingFallback)
	assert.False(t, snap.Remediation)
	assert.Empty(t, snap.Status)
}

func TestClose_ReleasesEverything(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoiceInput(context.Background()))
	h.rec.emit(capture.RecognitionEvent{Type: capture.RecognitionStart})

	require.NoError(t, h.c.Close())
	assert.Equal(t, int32(1), h.rec.closed.Load())
	assert.Positive(t, h.spk.cancels)

	assert.ErrorIs(t, h.c.Close(), ErrClosed)
	assert.ErrorIs(t, h.c.StartVoiceInput(context.Background()), ErrClosed)
	_, err := h.c.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.c.ClearChat(), ErrClosed)
}

func TestClose_AbandonsInflightRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.inf.handler = func(ctx context.Context, req inference.Request) (*inference.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.c.SendMessage(context.Background(), "hello")
		errCh <- err
	}()
	assert.Eventually(t, func() bool { return h.c.Snapshot().Typing }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Close())
	assert.ErrorIs(t, <-errCh, ErrClosed)
}

func TestSendMessage_Empty(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.inf.calls())
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t, nil)
	opts := testOptions()
	opts.WelcomeText = "Hi again"
	h.c.Reconfigure(opts)

	require.NoError(t, h.c.ClearChat())
	assert.Equal(t, []string{"Hi again"}, texts(h.c.Snapshot().Messages))
}
