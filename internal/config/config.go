// Package config provides configuration management for carevoice
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Inference InferenceConfig `mapstructure:"inference"`
	Session   SessionConfig   `mapstructure:"session"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	STT       STTConfig       `mapstructure:"stt"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// InferenceConfig configures the assistant inference service client
type InferenceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Token   string        `mapstructure:"token"` // Bearer token handed over by the auth layer
}

// SessionConfig configures the assistant session controller
type SessionConfig struct {
	ContextWindow      int           `mapstructure:"context_window"`
	SendDebounce       time.Duration `mapstructure:"send_debounce"`
	StatusDismissDelay time.Duration `mapstructure:"status_dismiss_delay"`
	RedirectDelay      time.Duration `mapstructure:"redirect_delay"`
	MaxPrimaryFailures int           `mapstructure:"max_primary_failures"`
	VoiceOutput        bool          `mapstructure:"voice_output"`
	WelcomeText        string        `mapstructure:"welcome_text"`
	TipsText           string        `mapstructure:"tips_text"`
}

// CaptureConfig configures microphone capture
type CaptureConfig struct {
	FallbackWindow  time.Duration `mapstructure:"fallback_window"`
	SampleRate      int           `mapstructure:"sample_rate"`
	Channels        int           `mapstructure:"channels"`
	SilenceRMS      float64       `mapstructure:"silence_rms"`      // Smoothed RMS below this is treated as silence
	TrailingSilence time.Duration `mapstructure:"trailing_silence"` // Ends a recording early once speech has stopped
	PreferFallback  bool          `mapstructure:"prefer_fallback"`
}

// STTConfig configures speech-to-text backends
type STTConfig struct {
	// Live recognition (Deepgram streaming protocol)
	DeepgramAPIKey string `mapstructure:"deepgram_api_key"`
	DeepgramURL    string `mapstructure:"deepgram_url"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	InterimResults bool   `mapstructure:"interim_results"`
	// Fallback transcription (Whisper HTTP API)
	WhisperAPIKey string `mapstructure:"whisper_api_key"`
	WhisperURL    string `mapstructure:"whisper_url"`
	WhisperModel  string `mapstructure:"whisper_model"`
}

// TTSConfig configures text-to-speech
type TTSConfig struct {
	Provider string  `mapstructure:"provider"` // openai, console
	VoiceID  string  `mapstructure:"voice_id"`
	Speed    float64 `mapstructure:"speed"`
	APIKey   string  `mapstructure:"api_key"`
	URL      string  `mapstructure:"url"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

const (
	defaultWelcome = "Hello! I'm your health assistant. Ask me about symptoms, medications, " +
		"or appointments. For emergencies, call your local emergency number right away."
	defaultTips = "Health tips: stay hydrated, keep a regular sleep schedule, take medications " +
		"as prescribed, and book a check-up if symptoms last more than a few days. " +
		"Voice commands: \"clear chat\", \"show tips\", \"toggle voice\"."
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Inference: InferenceConfig{
			URL:     "http://localhost:5000/api/assistant/message",
			Timeout: 30 * time.Second,
		},
		Session: SessionConfig{
			ContextWindow:      10,
			SendDebounce:       500 * time.Millisecond,
			StatusDismissDelay: 4 * time.Second,
			RedirectDelay:      2 * time.Second,
			MaxPrimaryFailures: 2,
			VoiceOutput:        true,
			WelcomeText:        defaultWelcome,
			TipsText:           defaultTips,
		},
		Capture: CaptureConfig{
			FallbackWindow:  5 * time.Second,
			SampleRate:      16000,
			Channels:        1,
			SilenceRMS:      0.01,
			TrailingSilence: 1500 * time.Millisecond,
		},
		STT: STTConfig{
			DeepgramURL:    "wss://api.deepgram.com/v1/listen",
			Model:          "nova-2",
			Language:       "en-US",
			InterimResults: true,
			WhisperURL:     "https://api.openai.com/v1/audio/transcriptions",
			WhisperModel:   "whisper-1",
		},
		TTS: TTSConfig{
			Provider: "console",
			VoiceID:  "nova",
			Speed:    1.0,
			URL:      "https://api.openai.com/v1/audio/speech",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks the fields the session cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Inference.URL == "" {
		errs = append(errs, errors.New("inference.url cannot be empty"))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, errors.New("inference.timeout must be > 0"))
	}
	if c.Session.ContextWindow <= 0 {
		errs = append(errs, errors.New("session.context_window must be > 0"))
	}
	if c.Capture.FallbackWindow <= 0 {
		errs = append(errs, errors.New("capture.fallback_window must be > 0"))
	}
	if c.Capture.SampleRate <= 0 {
		errs = append(errs, errors.New("capture.sample_rate must be > 0"))
	}
	return errors.Join(errs...)
}

// Loader reads configuration from a directory and can watch it for edits.
type Loader struct {
	v   *viper.Viper
	dir string
}

// NewLoader creates a loader rooted at dir. An empty dir means ~/.carevoice.
func NewLoader(dir string) (*Loader, error) {
	if dir == "" {
		d, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Loader{v: viper.New(), dir: dir}, nil
}

// Dir returns the configuration directory.
func (l *Loader) Dir() string { return l.dir }

// Load reads config.yaml and CAREVOICE_* environment overrides. A missing
// file is created from defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return cfg, fmt.Errorf("create config dir: %w", err)
	}
	LoadEnvFiles(l.dir)

	setDefaults(l.v, cfg)
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath(l.dir)

	l.v.SetEnvPrefix("CAREVOICE")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := l.v.SafeWriteConfigAs(filepath.Join(l.dir, "config.yaml")); err != nil {
			return cfg, fmt.Errorf("write default config: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the config file on every change and hands the new value
// to fn. Decode errors are passed along with the previous config.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		err := l.v.Unmarshal(cfg)
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// setDefaults registers every key so env overrides work without a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("inference.url", cfg.Inference.URL)
	v.SetDefault("inference.timeout", cfg.Inference.Timeout)
	v.SetDefault("inference.token", cfg.Inference.Token)

	v.SetDefault("session.context_window", cfg.Session.ContextWindow)
	v.SetDefault("session.send_debounce", cfg.Session.SendDebounce)
	v.SetDefault("session.status_dismiss_delay", cfg.Session.StatusDismissDelay)
	v.SetDefault("session.redirect_delay", cfg.Session.RedirectDelay)
	v.SetDefault("session.max_primary_failures", cfg.Session.MaxPrimaryFailures)
	v.SetDefault("session.voice_output", cfg.Session.VoiceOutput)
	v.SetDefault("session.welcome_text", cfg.Session.WelcomeText)
	v.SetDefault("session.tips_text", cfg.Session.TipsText)

	v.SetDefault("capture.fallback_window", cfg.Capture.FallbackWindow)
	v.SetDefault("capture.sample_rate", cfg.Capture.SampleRate)
	v.SetDefault("capture.channels", cfg.Capture.Channels)
	v.SetDefault("capture.silence_rms", cfg.Capture.SilenceRMS)
	v.SetDefault("capture.trailing_silence", cfg.Capture.TrailingSilence)
	v.SetDefault("capture.prefer_fallback", cfg.Capture.PreferFallback)

	v.SetDefault("stt.deepgram_api_key", cfg.STT.DeepgramAPIKey)
	v.SetDefault("stt.deepgram_url", cfg.STT.DeepgramURL)
	v.SetDefault("stt.model", cfg.STT.Model)
	v.SetDefault("stt.language", cfg.STT.Language)
	v.SetDefault("stt.interim_results", cfg.STT.InterimResults)
	v.SetDefault("stt.whisper_api_key", cfg.STT.WhisperAPIKey)
	v.SetDefault("stt.whisper_url", cfg.STT.WhisperURL)
	v.SetDefault("stt.whisper_model", cfg.STT.WhisperModel)

	v.SetDefault("tts.provider", cfg.TTS.Provider)
	v.SetDefault("tts.voice_id", cfg.TTS.VoiceID)
	v.SetDefault("tts.speed", cfg.TTS.Speed)
	v.SetDefault("tts.api_key", cfg.TTS.APIKey)
	v.SetDefault("tts.url", cfg.TTS.URL)

	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.dir", cfg.Telemetry.Dir)
}

// LoadEnvFiles loads API keys from .env files into the process environment.
// Variables already set in the environment win.
func LoadEnvFiles(dir string) []string {
	var loaded []string
	for _, path := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			loaded = append(loaded, path)
		}
	}
	return loaded
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".carevoice"), nil
}
