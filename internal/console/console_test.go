package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/normanking/carevoice/internal/tts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRecognizer_FeedsFinal(t *testing.T) {
	r := NewLineRecognizer()
	assert.False(t, r.Feed("ignored"))

	finals := make(chan string, 1)
	s := capture.NewPrimarySession(r, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), capture.Handlers{
		OnFinal: func(text string) { finals <- text },
	}))
	assert.True(t, r.Listening())

	assert.True(t, r.Feed("  show tips  "))
	assert.Equal(t, "show tips", <-finals)
	<-s.Done()
	assert.False(t, r.Listening())
}

func TestLineRecognizer_EmptyLineIsNoSpeech(t *testing.T) {
	r := NewLineRecognizer()
	var code capture.ErrorCode
	s := capture.NewPrimarySession(r, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), capture.Handlers{
		OnError: func(err *capture.Error) { code = err.Code },
	}))

	assert.True(t, r.Feed(""))
	<-s.Done()
	assert.Equal(t, capture.CodeNoSpeech, code)
}

func TestLineRecognizer_StopIsQuiet(t *testing.T) {
	r := NewLineRecognizer()
	var errs int
	s := capture.NewPrimarySession(r, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), capture.Handlers{
		OnError: func(*capture.Error) { errs++ },
	}))

	s.Stop()
	<-s.Done()
	assert.Zero(t, errs)
	assert.False(t, r.Feed("late"))
}

func TestCommandSource_StreamsStdout(t *testing.T) {
	src := NewCommandSource("head", []string{"-c", "640", "/dev/zero"}, audio.DefaultSpec(), zerolog.Nop())
	require.True(t, src.Available())

	stream, err := src.Open(context.Background())
	require.NoError(t, err)

	var total int
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				done = true
				break
			}
			total += len(chunk.Data)
		case <-timeout:
			t.Fatal("recorder produced no EOF")
		}
	}
	assert.Equal(t, 640, total)
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestCommandSource_MissingBinary(t *testing.T) {
	src := NewCommandSource("carevoice-no-such-recorder", nil, audio.DefaultSpec(), zerolog.Nop())
	assert.False(t, src.Available())

	_, err := src.Open(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
	assert.Equal(t, capture.CodeDeviceUnavailable, capture.CodeOf(capture.NewFallbackSession(src, nil, capture.DefaultFallbackConfig(), zerolog.Nop()).Start(context.Background(), capture.Handlers{})))
}

func TestSourceProber_FallsBackToStatus(t *testing.T) {
	missing := NewCommandSource("carevoice-no-such-recorder", nil, audio.DefaultSpec(), zerolog.Nop())
	gate := permission.NewGate(SourceProber{Source: missing}, StaticStatus(permission.StatePrompt), zerolog.Nop())
	assert.Equal(t, permission.StatePrompt, gate.Check(context.Background()))

	ok := NewCommandSource("head", []string{"-c", "64", "/dev/zero"}, audio.DefaultSpec(), zerolog.Nop())
	gate = permission.NewGate(SourceProber{Source: ok}, nil, zerolog.Nop())
	assert.Equal(t, permission.StateGranted, gate.Check(context.Background()))
}

func TestPrintEngine(t *testing.T) {
	var out bytes.Buffer
	player := tts.NewPlayer(NewPrintEngine(&out), nil, zerolog.Nop())

	require.NoError(t, player.Speak("Drink plenty of water."))
	assert.Equal(t, "[speaking] Drink plenty of water.\n", out.String())
	assert.False(t, player.IsSpeaking())
}
