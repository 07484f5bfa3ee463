package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/normanking/carevoice/internal/tts"
)

// PrintEngine is a tts.Engine that prints utterances instead of playing them.
type PrintEngine struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrintEngine creates an engine writing to w.
func NewPrintEngine(w io.Writer) *PrintEngine {
	return &PrintEngine{w: w}
}

// Speak implements tts.Engine.
func (e *PrintEngine) Speak(u *tts.Utterance) error {
	if u.OnStart != nil {
		u.OnStart()
	}
	e.mu.Lock()
	_, err := fmt.Fprintf(e.w, "[speaking] %s\n", u.Text)
	e.mu.Unlock()
	if err != nil {
		if u.OnError != nil {
			u.OnError(err)
		}
		return nil
	}
	if u.OnEnd != nil {
		u.OnEnd()
	}
	return nil
}

// Cancel implements tts.Engine. Printed text cannot be taken back.
func (e *PrintEngine) Cancel() {}
