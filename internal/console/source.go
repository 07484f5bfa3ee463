package console

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/rs/zerolog"
)

// CommandSource records raw PCM from the stdout of an external recorder.
// It implements capture.AudioSource.
type CommandSource struct {
	cmd       string
	args      []string
	spec      audio.Spec
	chunkSize int
	logger    zerolog.Logger
}

// NewCommandSource creates a source running cmd with args. The command must
// write signed 16-bit little-endian PCM in spec's layout to stdout. An
// empty cmd selects the platform recorder.
func NewCommandSource(cmd string, args []string, spec audio.Spec, logger zerolog.Logger) *CommandSource {
	if spec.SampleRate == 0 {
		spec = audio.DefaultSpec()
	}
	if cmd == "" {
		cmd, args = defaultRecorder(spec)
	}
	return &CommandSource{
		cmd:       cmd,
		args:      args,
		spec:      spec,
		chunkSize: spec.BytesPerSecond() / 10,
		logger:    logger.With().Str("component", "audio-source").Str("cmd", cmd).Logger(),
	}
}

func defaultRecorder(spec audio.Spec) (string, []string) {
	rate := strconv.Itoa(spec.SampleRate)
	channels := strconv.Itoa(spec.Channels)
	if runtime.GOOS == "darwin" {
		return "sox", []string{"-q", "-d", "-t", "raw", "-b", "16", "-e", "signed-integer", "-c", channels, "-r", rate, "-"}
	}
	return "arecord", []string{"-q", "-f", "S16_LE", "-r", rate, "-c", channels, "-t", "raw"}
}

// Available reports whether the recorder binary is installed.
func (s *CommandSource) Available() bool {
	_, err := exec.LookPath(s.cmd)
	return err == nil
}

// Open implements capture.AudioSource.
func (s *CommandSource) Open(ctx context.Context) (capture.AudioStream, error) {
	if !s.Available() {
		return nil, fmt.Errorf("%s: %w", s.cmd, audio.ErrDeviceNotFound)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, s.cmd, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recorder: %w", err)
	}
	s.logger.Debug().Msg("Recorder started")

	stream := &commandStream{
		cmd:    cmd,
		cancel: cancel,
		chunks: make(chan audio.Chunk, 16),
		logger: s.logger,
	}
	go stream.read(stdout, s.chunkSize)
	return stream, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	chunks chan audio.Chunk
	logger zerolog.Logger

	closeOnce sync.Once
}

func (s *commandStream) read(r io.Reader, size int) {
	defer close(s.chunks)
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.chunks <- audio.Chunk{Data: buf[:n], Timestamp: time.Now()}
		}
		if err != nil {
			return
		}
	}
}

func (s *commandStream) Chunks() <-chan audio.Chunk { return s.chunks }

// Close stops the recorder and waits for it to exit. Pending chunks are
// discarded.
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.chunks {
		}
		if err := s.cmd.Wait(); err != nil {
			s.logger.Debug().Err(err).Msg("Recorder exited")
		}
	})
	return nil
}

// SourceProber probes microphone access by opening the source and
// releasing it immediately. It implements permission.Prober.
type SourceProber struct {
	Source capture.AudioSource
}

// Probe implements permission.Prober.
func (p SourceProber) Probe(ctx context.Context) (permission.Stream, error) {
	if p.Source == nil {
		return nil, audio.ErrDeviceNotFound
	}
	stream, err := p.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return probeStream{stream}, nil
}

type probeStream struct{ stream capture.AudioStream }

func (p probeStream) Release() { p.stream.Close() }

// StaticStatus answers permission queries with a fixed state.
type StaticStatus permission.State

// Query implements permission.StatusQuerier.
func (s StaticStatus) Query(context.Context) (permission.State, error) {
	return permission.State(s), nil
}
