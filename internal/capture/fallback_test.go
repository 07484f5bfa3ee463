package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	ch     chan audio.Chunk
	closed atomic.Int32
}

func (s *fakeStream) Chunks() <-chan audio.Chunk { return s.ch }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (f *fakeSource) Open(ctx context.Context) (AudioStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeTranscriber struct {
	text string
	err  error

	mu  sync.Mutex
	got []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, spec audio.Spec) (string, error) {
	f.mu.Lock()
	f.got = pcm
	f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeTranscriber) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func loudChunk() audio.Chunk {
	data := make([]byte, 320)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(8000)))
	}
	return audio.Chunk{Data: data, Timestamp: time.Now()}
}

func newFallback(src AudioSource, tr Transcriber, window time.Duration) *FallbackSession {
	cfg := DefaultFallbackConfig()
	cfg.Window = window
	return NewFallbackSession(src, tr, cfg, zerolog.Nop())
}

func TestFallback_StopTranscribesRecording(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 4)}
	stream.ch <- loudChunk()
	stream.ch <- loudChunk()
	tr := &fakeTranscriber{text: "clear chat"}
	s := newFallback(&fakeSource{stream: stream}, tr, time.Minute)
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	assert.Eventually(t, func() bool { return len(stream.ch) == 0 }, time.Second, 5*time.Millisecond)
	s.Stop()
	waitDone(t, s)

	got := rec.snapshot()
	assert.Equal(t, 1, got.started)
	assert.Equal(t, []string{"clear chat"}, got.finals)
	assert.Empty(t, got.errs)
	assert.Equal(t, 1, got.ends)
	assert.Len(t, tr.received(), 640)
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Equal(t, StateDone, s.State())
}

func TestFallback_WindowElapses(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- loudChunk()
	s := newFallback(&fakeSource{stream: stream}, &fakeTranscriber{text: "hello"}, 30*time.Millisecond)
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	waitDone(t, s)

	assert.Equal(t, []string{"hello"}, rec.snapshot().finals)
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestFallback_TrailingSilenceEndsEarly(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 11)}
	stream.ch <- loudChunk()
	for i := 0; i < 10; i++ {
		stream.ch <- audio.Chunk{Data: make([]byte, 320)}
	}
	tr := &fakeTranscriber{text: "hello"}
	cfg := DefaultFallbackConfig()
	cfg.Window = time.Minute
	cfg.TrailingSilence = 50 * time.Millisecond
	s := NewFallbackSession(&fakeSource{stream: stream}, tr, cfg, zerolog.Nop())
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	waitDone(t, s)

	assert.Equal(t, []string{"hello"}, rec.snapshot().finals)
	// one loud chunk, two smoothed tail chunks, then five quiet 10ms chunks
	assert.Len(t, tr.received(), 8*320)
	assert.Len(t, stream.ch, 3)
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestFallback_SilenceIsNoSpeech(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- audio.Chunk{Data: make([]byte, 320)}
	tr := &fakeTranscriber{text: "should not be used"}
	s := newFallback(&fakeSource{stream: stream}, tr, 30*time.Millisecond)
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	waitDone(t, s)

	got := rec.snapshot()
	require.Len(t, got.errs, 1)
	assert.Equal(t, CodeNoSpeech, got.errs[0].Code)
	assert.Empty(t, got.finals)
	assert.Nil(t, tr.received())
}

func TestFallback_WithoutTranscriberNeverYieldsText(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- loudChunk()
	s := newFallback(&fakeSource{stream: stream}, nil, 30*time.Millisecond)
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	waitDone(t, s)

	got := rec.snapshot()
	assert.Empty(t, got.finals)
	require.Len(t, got.errs, 1)
	assert.Equal(t, CodeTranscriptionUnavailable, got.errs[0].Code)
	assert.Equal(t, StateError, s.State())
}

func TestFallback_TranscriberError(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk, 1)}
	stream.ch <- loudChunk()
	s := newFallback(&fakeSource{stream: stream}, &fakeTranscriber{err: errors.New("503")}, 30*time.Millisecond)
	rec := &recorder{}

	require.NoError(t, s.Start(context.Background(), rec.handlers()))
	waitDone(t, s)

	got := rec.snapshot()
	require.Len(t, got.errs, 1)
	assert.Equal(t, CodeUnknown, got.errs[0].Code)
}

func TestFallback_OpenDenied(t *testing.T) {
	s := newFallback(&fakeSource{err: permission.ErrDenied}, nil, time.Second)
	rec := &recorder{}

	err := s.Start(context.Background(), rec.handlers())
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
	waitDone(t, s)
	assert.Zero(t, rec.snapshot().ends)
}

func TestFallback_ContextCancelIsSilent(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk)}
	tr := &fakeTranscriber{text: "x"}
	s := newFallback(&fakeSource{stream: stream}, tr, time.Minute)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, rec.handlers()))
	cancel()
	waitDone(t, s)

	got := rec.snapshot()
	assert.Empty(t, got.finals)
	assert.Empty(t, got.errs)
	assert.Equal(t, 1, got.ends)
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Nil(t, tr.received())
}

func TestFallback_SingleUse(t *testing.T) {
	stream := &fakeStream{ch: make(chan audio.Chunk)}
	s := newFallback(&fakeSource{stream: stream}, nil, time.Minute)

	require.NoError(t, s.Start(context.Background(), Handlers{}))
	assert.ErrorIs(t, s.Start(context.Background(), Handlers{}), ErrSessionActive)
	s.Stop()
	waitDone(t, s)
}
