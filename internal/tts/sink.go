package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/normanking/carevoice/internal/audio"
	"github.com/rs/zerolog"
)

// CommandSink plays audio by writing it to a temp file and running an
// external player (afplay, ffplay, mpg123). Cancelling ctx kills the player.
type CommandSink struct {
	command string
	args    []string
	logger  zerolog.Logger
}

// NewCommandSink creates a sink running command with args plus the file path.
// An empty command picks a platform default.
func NewCommandSink(command string, args []string, logger zerolog.Logger) *CommandSink {
	if command == "" {
		command, args = defaultPlayer()
	}
	return &CommandSink{
		command: command,
		args:    args,
		logger:  logger.With().Str("component", "tts").Str("sink", command).Logger(),
	}
}

func defaultPlayer() (string, []string) {
	if runtime.GOOS == "darwin" {
		return "afplay", nil
	}
	return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
}

// Available reports whether the player binary is on PATH.
func (s *CommandSink) Available() bool {
	_, err := exec.LookPath(s.command)
	return err == nil
}

// Play implements Sink.
func (s *CommandSink) Play(ctx context.Context, data []byte, format audio.Format) error {
	tmpFile, err := os.CreateTemp("", "carevoice-*."+string(format))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write audio file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}

	args := append(append([]string{}, s.args...), tmpPath)
	cmd := exec.CommandContext(ctx, s.command, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error().Err(err).Str("output", string(output)).Msg("Audio player failed")
		return fmt.Errorf("%s failed: %w", s.command, err)
	}
	return nil
}
