package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/carevoice/internal/audio"
	"github.com/normanking/carevoice/internal/capture"
	"github.com/rs/zerolog"
)

const (
	DeepgramWSEndpoint = "wss://api.deepgram.com/v1/listen"
	DeepgramModel      = "nova-2"
)

// DeepgramConfig configures the streaming recognizer.
type DeepgramConfig struct {
	APIKey         string        `json:"api_key"`
	URL            string        `json:"url"`
	Model          string        `json:"model"`
	Language       string        `json:"language"`
	Spec           audio.Spec    `json:"spec"`
	InterimResults bool          `json:"interim_results"`
	Punctuate      bool          `json:"punctuate"`
	DialTimeout    time.Duration `json:"dial_timeout"`
}

// DefaultDeepgramConfig returns sensible defaults
func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		URL:            DeepgramWSEndpoint,
		Model:          DeepgramModel,
		Language:       "en-US",
		Spec:           audio.DefaultSpec(),
		InterimResults: true,
		Punctuate:      true,
		DialTimeout:    10 * time.Second,
	}
}

// DeepgramRecognizer is a capture.LiveRecognizer that streams microphone
// audio to a Deepgram-protocol websocket endpoint.
type DeepgramRecognizer struct {
	cfg    DeepgramConfig
	source capture.AudioSource
	filter *Filter
	logger zerolog.Logger
}

// NewDeepgramRecognizer creates a recognizer reading audio from source.
func NewDeepgramRecognizer(cfg DeepgramConfig, source capture.AudioSource, logger zerolog.Logger) *DeepgramRecognizer {
	def := DefaultDeepgramConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Spec.SampleRate == 0 {
		cfg.Spec = def.Spec
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return &DeepgramRecognizer{
		cfg:    cfg,
		source: source,
		filter: NewFilter(nil),
		logger: logger.With().Str("component", "stt").Str("provider", "deepgram-streaming").Logger(),
	}
}

// Supported implements capture.LiveRecognizer.
func (r *DeepgramRecognizer) Supported() bool {
	return r.cfg.APIKey != "" && r.source != nil
}

func (r *DeepgramRecognizer) endpoint() (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.cfg.Model)
	if r.cfg.Language != "" {
		q.Set("language", r.cfg.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.Spec.SampleRate))
	q.Set("channels", strconv.Itoa(r.cfg.Spec.Channels))
	q.Set("punctuate", strconv.FormatBool(r.cfg.Punctuate))
	q.Set("interim_results", strconv.FormatBool(r.cfg.InterimResults))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open implements capture.LiveRecognizer.
func (r *DeepgramRecognizer) Open(ctx context.Context, sink func(capture.RecognitionEvent)) (capture.Recognition, error) {
	if !r.Supported() {
		return nil, capture.ErrUnsupported
	}

	endpoint, err := r.endpoint()
	if err != nil {
		return nil, err
	}

	stream, err := r.source.Open(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+r.cfg.APIKey)
	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.DialTimeout}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		stream.Close()
		if resp != nil {
			r.logger.Error().Int("status", resp.StatusCode).Err(err).Msg("Deepgram WebSocket connection failed")
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	r.logger.Info().Msg("Connected to Deepgram streaming STT")

	rec := &deepgramRecognition{
		conn:   conn,
		stream: stream,
		sink:   sink,
		filter: r.filter,
		logger: r.logger,
		quit:   make(chan struct{}),
	}
	sink(capture.RecognitionEvent{Type: capture.RecognitionStart})

	go rec.pumpAudio()
	go rec.readResponses()
	return rec, nil
}

type deepgramMessage struct {
	Type        string            `json:"type"`
	Duration    float64           `json:"duration,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`
	Channel     deepgramChannel   `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
	Description string            `json:"description,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
}

// deepgramRecognition is one open streaming connection.
type deepgramRecognition struct {
	conn   *websocket.Conn
	stream capture.AudioStream
	sink   func(capture.RecognitionEvent)
	filter *Filter
	logger zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	segments []string
	emitted  bool
	stopping bool
	closed   bool

	quit      chan struct{}
	closeOnce sync.Once
}

func (d *deepgramRecognition) write(messageType int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(messageType, data)
}

func (d *deepgramRecognition) pumpAudio() {
	chunks := d.stream.Chunks()
	for {
		select {
		case <-d.quit:
			return
		case chunk, ok := <-chunks:
			if !ok {
				d.Stop()
				return
			}
			if err := d.write(websocket.BinaryMessage, chunk.Data); err != nil {
				d.logger.Debug().Err(err).Msg("Failed to send audio")
				return
			}
		}
	}
}

func (d *deepgramRecognition) readResponses() {
	for {
		_, message, err := d.conn.ReadMessage()
		if err != nil {
			d.handleReadError(err)
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			d.logger.Warn().Err(err).Str("message", string(message)).Msg("Failed to parse Deepgram message")
			continue
		}

		switch msg.Type {
		case "Results":
			d.handleResult(msg)
		case "UtteranceEnd":
			d.flushFinal()
		case "Metadata":
			if msg.Metadata != nil {
				d.logger.Debug().Str("requestID", msg.Metadata.RequestID).Msg("Deepgram metadata received")
			}
		case "Error":
			d.logger.Error().Str("message", string(message)).Msg("Deepgram error")
			d.emit(capture.RecognitionEvent{
				Type: capture.RecognitionError,
				Err:  fmt.Errorf("deepgram: %s", msg.Description),
			})
			return
		}
	}
}

func (d *deepgramRecognition) handleResult(msg deepgramMessage) {
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)

	d.mu.Lock()
	if text != "" && msg.IsFinal {
		d.segments = append(d.segments, text)
	}
	current := strings.Join(d.segments, " ")
	if !msg.IsFinal && text != "" {
		current = strings.TrimSpace(current + " " + text)
	}
	d.mu.Unlock()

	if msg.SpeechFinal {
		d.flushFinal()
		return
	}
	if cleaned, ok := d.filter.Clean(current); ok {
		d.emit(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: cleaned})
	}
}

// flushFinal emits the accumulated segments as the single final transcript.
func (d *deepgramRecognition) flushFinal() {
	d.mu.Lock()
	if d.emitted || len(d.segments) == 0 {
		d.mu.Unlock()
		return
	}
	text := strings.Join(d.segments, " ")
	d.segments = nil
	d.mu.Unlock()

	cleaned, ok := d.filter.Clean(text)
	if !ok {
		d.logger.Debug().Str("text", text).Msg("Dropping filler-only transcript")
		return
	}

	d.mu.Lock()
	d.emitted = true
	d.mu.Unlock()
	d.logger.Debug().Str("text", cleaned).Msg("Deepgram final transcript")
	d.emit(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: cleaned, Final: true})
}

func (d *deepgramRecognition) handleReadError(err error) {
	d.mu.Lock()
	stopping, closed := d.stopping, d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if normal || stopping {
		d.flushFinal()
		d.emit(capture.RecognitionEvent{Type: capture.RecognitionEnd})
		return
	}

	d.logger.Error().Err(err).Msg("Error reading Deepgram response")
	if errors.Is(err, websocket.ErrCloseSent) {
		err = capture.ErrAborted
	}
	d.emit(capture.RecognitionEvent{Type: capture.RecognitionError, Err: err})
}

func (d *deepgramRecognition) emit(ev capture.RecognitionEvent) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if !closed {
		d.sink(ev)
	}
}

// Stop implements capture.Recognition. Deepgram flushes pending results and
// closes the socket after CloseStream.
func (d *deepgramRecognition) Stop() {
	d.mu.Lock()
	if d.stopping || d.closed {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	d.mu.Unlock()

	if err := d.write(websocket.TextMessage, []byte(`{"type": "CloseStream"}`)); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to send close message")
	}
}

// Close implements capture.Recognition.
func (d *deepgramRecognition) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.quit)
		if serr := d.stream.Close(); serr != nil {
			err = serr
		}
		if cerr := d.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		d.logger.Info().Msg("Deepgram streaming stopped")
	})
	return err
}
