package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/normanking/carevoice/internal/assistant"
	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/bus"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/config"
	"github.com/normanking/carevoice/internal/console"
	"github.com/normanking/carevoice/internal/conversation"
	"github.com/normanking/carevoice/internal/inference"
	"github.com/normanking/carevoice/internal/logging"
	"github.com/normanking/carevoice/internal/permission"
	"github.com/normanking/carevoice/internal/stt"
	"github.com/normanking/carevoice/internal/telemetry"
	"github.com/normanking/carevoice/internal/tts"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive assistant session (default)",
	RunE:  runChat,
}

const chatHelp = `Commands:
  /voice     start voice input
  /stop      stop voice input
  /clear     clear the conversation
  /tips      show health tips
  /toggle    toggle spoken replies
  /fallback  switch to recorded capture
  /dismiss   dismiss the microphone help panel
  /status    print the session state
  /logs      show recent log entries
  /quit      end the session`

func runChat(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg, loader.Dir())
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryDir := cfg.Telemetry.Dir
	if telemetryDir == "" {
		telemetryDir = filepath.Join(loader.Dir(), "telemetry")
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Dir:     telemetryDir,
		Version: Version,
	}, logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer shutdownTelemetry()

	out := cmd.OutOrStdout()
	eventBus := bus.NewEventBus()
	spec := audio.Spec{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels, BitDepth: 16}
	source := console.NewCommandSource("", nil, spec, logger.Zerolog())
	lines := console.NewLineRecognizer()

	var recognizer capture.LiveRecognizer = lines
	if cfg.STT.DeepgramAPIKey != "" {
		recognizer = stt.NewDeepgramRecognizer(stt.DeepgramConfig{
			APIKey:         cfg.STT.DeepgramAPIKey,
			URL:            cfg.STT.DeepgramURL,
			Model:          cfg.STT.Model,
			Language:       cfg.STT.Language,
			Spec:           spec,
			InterimResults: cfg.STT.InterimResults,
			Punctuate:      true,
		}, source, logger.Zerolog())
		log.Info().Msg("Live recognition through Deepgram")
	}

	var transcriber capture.Transcriber
	if cfg.STT.WhisperAPIKey != "" {
		transcriber = stt.NewWhisperTranscriber(stt.WhisperConfig{
			APIKey:   cfg.STT.WhisperAPIKey,
			URL:      cfg.STT.WhisperURL,
			Model:    cfg.STT.WhisperModel,
			Language: language(cfg.STT.Language),
		}, logger.Zerolog())
	}

	player := tts.Init(newEngine(cfg, out, logger.Zerolog()), eventBus, logger.Zerolog())
	defer tts.Teardown()
	player.SetVoice(cfg.TTS.VoiceID, cfg.TTS.Speed)

	var prober permission.Prober
	if source.Available() {
		prober = console.SourceProber{Source: source}
	}
	gate := permission.NewGate(prober, console.StaticStatus(permission.StatePrompt), logger.Zerolog())

	client := inference.NewClient(inference.ClientConfig{
		URL:     cfg.Inference.URL,
		Timeout: cfg.Inference.Timeout,
	}, inference.StaticToken(cfg.Inference.Token), logger.Zerolog())

	session, err := assistant.New(assistant.Deps{
		Permissions: gate,
		Recognizer:  recognizer,
		AudioSource: source,
		Transcriber: transcriber,
		Inference:   client,
		Speaker:     player,
		EventBus:    eventBus,
	}, assistant.OptionsFromConfig(cfg), logger.Zerolog())
	if err != nil {
		return err
	}
	defer session.Close()

	loader.Watch(func(next *config.Config, err error) {
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			logger.Warn("cli", "Ignoring invalid config change", map[string]any{"error": err.Error()})
			return
		}
		session.Reconfigure(assistant.OptionsFromConfig(next))
		player.SetVoice(next.TTS.VoiceID, next.TTS.Speed)
		logger.Info("cli", "Configuration reloaded", map[string]any{"provider": next.TTS.Provider})
	})

	unsubscribe := eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTypeMessageAppended,
		bus.EventTypeConversationReset,
		bus.EventTypeStatusChanged,
		bus.EventTypeCaptureStateChanged,
		bus.EventTypeTranscriptInterim,
		bus.EventTypeRemediationOpened,
		bus.EventTypeFallbackEnabled,
		bus.EventTypeRedirectToLogin,
		bus.EventTypeVoiceOutputToggled,
	}, func(ev bus.Event) { printEvent(out, ev) })
	defer unsubscribe()

	for _, msg := range session.Snapshot().Messages {
		printMessage(out, msg)
	}
	fmt.Fprintln(out, "Type a message, or /help for commands.")

	input := make(chan string)
	go readLines(os.Stdin, input)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if lines.Listening() && !strings.HasPrefix(line, "/") {
				lines.Feed(line)
				continue
			}
			if quit := handleLine(ctx, out, session, logger, line); quit {
				return nil
			}
		}
	}
}

func newLogger(cfg *config.Config, dir string) (*logging.Logger, error) {
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = filepath.Join(dir, "logs")
	}
	logger, err := logging.New(&logging.Config{
		LogDir:     logDir,
		Level:      logging.ParseLevel(cfg.Logging.Level),
		Console:    cfg.Logging.Console || verbose,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger, nil
}

// newEngine picks the speech engine named by tts.provider, falling back to
// printing replies when the chosen one cannot run here.
func newEngine(cfg *config.Config, out io.Writer, logger zerolog.Logger) tts.Engine {
	switch cfg.TTS.Provider {
	case "openai":
		provider := tts.NewOpenAIProvider(tts.OpenAIConfig{
			APIKey:       cfg.TTS.APIKey,
			URL:          cfg.TTS.URL,
			DefaultVoice: cfg.TTS.VoiceID,
			Speed:        cfg.TTS.Speed,
		}, logger)
		sink := tts.NewCommandSink("", nil, logger)
		if provider.IsAvailable() && sink.Available() {
			return tts.NewProviderEngine(provider, sink, logger)
		}
		logger.Warn().Msg("OpenAI speech unavailable, printing replies instead")
	case "say":
		engine := tts.NewSayEngine(0, logger)
		if engine.Available() {
			return engine
		}
		logger.Warn().Msg("say command unavailable, printing replies instead")
	}
	return console.NewPrintEngine(out)
}

// language reduces a BCP 47 tag to the ISO 639-1 code Whisper accepts.
func language(tag string) string {
	code, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(code)
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- strings.TrimSpace(scanner.Text())
	}
}

func handleLine(ctx context.Context, out io.Writer, session *assistant.Controller, logs *logging.Logger, line string) bool {
	var err error
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/voice":
		err = session.StartVoiceInput(ctx)
		var permErr *permission.Error
		if errors.As(err, &permErr) {
			err = nil // the help panel event already explains it
		}
	case "/stop":
		session.StopVoiceInput()
	case "/clear":
		err = session.ClearChat()
	case "/tips":
		err = session.ShowTips()
	case "/toggle":
		session.ToggleVoiceOutput()
	case "/fallback":
		session.UseFallbackCapture(true)
	case "/dismiss":
		session.DismissRemediation()
	case "/status":
		snap := session.Snapshot()
		fmt.Fprintf(out, "permission=%s capture=%s phase=%s voice=%t fallback=%t\n",
			snap.Permission, snap.Capture, snap.Phase, snap.VoiceOutput, snap.UsingFallback)
	case "/logs":
		printLogs(out, logs.GetHistory(recentLogs))
	default:
		go func() {
			if _, err := session.SendMessage(ctx, line); err != nil && !errors.Is(err, assistant.ErrStaleReply) && !errors.Is(err, assistant.ErrClosed) {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}()
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func printEvent(out io.Writer, ev bus.Event) {
	switch ev.Type {
	case bus.EventTypeMessageAppended:
		if msg, ok := ev.Data["message"].(conversation.Message); ok && msg.Sender != conversation.SenderUser {
			printMessage(out, msg)
		}
	case bus.EventTypeConversationReset:
		fmt.Fprintln(out, "-- conversation cleared --")
	case bus.EventTypeStatusChanged:
		if text, _ := ev.Data["text"].(string); text != "" {
			fmt.Fprintf(out, "[status] %s\n", text)
		}
	case bus.EventTypeCaptureStateChanged:
		fmt.Fprintf(out, "[mic] %v\n", ev.Data["state"])
	case bus.EventTypeTranscriptInterim:
		fmt.Fprintf(out, "[heard] %v\n", ev.Data["text"])
	case bus.EventTypeRemediationOpened:
		fmt.Fprintln(out, "[mic] Microphone access is blocked. Allow it in your system settings, or use /fallback.")
	case bus.EventTypeFallbackEnabled:
		fmt.Fprintln(out, "[mic] Using recorded capture")
	case bus.EventTypeRedirectToLogin:
		fmt.Fprintln(out, "[session] Please sign in again.")
	case bus.EventTypeVoiceOutputToggled:
		fmt.Fprintf(out, "[voice] enabled=%v\n", ev.Data["enabled"])
	}
}

const recentLogs = 20

func printLogs(out io.Writer, entries []logging.LogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no log entries yet")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %-5s [%s] %s", e.Timestamp, e.Level, e.Component, e.Message)
		if e.Data != "" {
			fmt.Fprintf(out, " (%s)", e.Data)
		}
		fmt.Fprintln(out)
	}
}

func printMessage(out io.Writer, msg conversation.Message) {
	fmt.Fprintf(out, "%s: %s\n", msg.Sender, msg.Text)
}
