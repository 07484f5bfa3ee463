// Package console adapts a terminal into the host capabilities the assistant
// session needs: typed lines stand in for live recognition, an external
// recorder process provides raw audio and replies are printed.
package console

import (
	"context"
	"strings"
	"sync"

	"github.com/normanking/carevoice/internal/capture"
)

// LineRecognizer is a capture.LiveRecognizer fed with typed lines. While a
// recognition is open the next fed line becomes its final transcript.
type LineRecognizer struct {
	mu      sync.Mutex
	current *lineRecognition
}

// NewLineRecognizer creates a recognizer with no open recognition.
func NewLineRecognizer() *LineRecognizer {
	return &LineRecognizer{}
}

// Supported implements capture.LiveRecognizer.
func (r *LineRecognizer) Supported() bool { return true }

// Open implements capture.LiveRecognizer.
func (r *LineRecognizer) Open(ctx context.Context, sink func(capture.RecognitionEvent)) (capture.Recognition, error) {
	rec := &lineRecognition{owner: r, sink: sink}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return nil, capture.ErrSessionActive
	}
	r.current = rec
	r.mu.Unlock()

	sink(capture.RecognitionEvent{Type: capture.RecognitionStart})
	return rec, nil
}

// Listening reports whether a recognition is waiting for a line.
func (r *LineRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Feed hands line to the open recognition and reports whether one consumed
// it. An empty line ends the recognition without speech.
func (r *LineRecognizer) Feed(line string) bool {
	r.mu.Lock()
	rec := r.current
	r.current = nil
	r.mu.Unlock()
	if rec == nil {
		return false
	}

	text := strings.TrimSpace(line)
	if text == "" {
		rec.sink(capture.RecognitionEvent{Type: capture.RecognitionEnd})
		return true
	}
	rec.sink(capture.RecognitionEvent{Type: capture.RecognitionResult, Text: text, Final: true})
	return true
}

func (r *LineRecognizer) release(rec *lineRecognition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != rec {
		return false
	}
	r.current = nil
	return true
}

type lineRecognition struct {
	owner *LineRecognizer
	sink  func(capture.RecognitionEvent)
}

func (l *lineRecognition) Stop() {
	if l.owner.release(l) {
		l.sink(capture.RecognitionEvent{Type: capture.RecognitionEnd})
	}
}

func (l *lineRecognition) Close() error {
	l.owner.release(l)
	return nil
}
