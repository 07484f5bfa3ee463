// Package permission tracks whether the session may use the microphone.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is the microphone permission as last observed.
type State string

const (
	StateUnknown State = "unknown"
	StateGranted State = "granted"
	StateDenied  State = "denied"
	StatePrompt  State = "prompt"
)

// ErrDenied is wrapped by probe errors that mean the user or platform refused access.
var ErrDenied = errors.New("microphone permission denied")

// Error describes a permission failure surfaced to the controller.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permission %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("permission %s", e.State)
}

func (e *Error) Unwrap() error { return e.Err }

// Stream is a capture resource acquired by a probe.
type Stream interface {
	Release()
}

// Prober requests microphone access. On success the caller owns the stream.
type Prober interface {
	Probe(ctx context.Context) (Stream, error)
}

// StatusQuerier reports the permission declaratively without acquiring audio.
type StatusQuerier interface {
	Query(ctx context.Context) (State, error)
}

// Change is delivered to subscribers whenever the state moves.
type Change struct {
	From State
	To   State
}

// Gate owns the permission state. It is the only place that state changes.
type Gate struct {
	prober  Prober
	querier StatusQuerier
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State
	subs   map[int]func(Change)
	nextID int
}

// NewGate creates a gate. Either capability may be nil.
func NewGate(prober Prober, querier StatusQuerier, logger zerolog.Logger) *Gate {
	return &Gate{
		prober:  prober,
		querier: querier,
		logger:  logger.With().Str("component", "permission").Logger(),
		state:   StateUnknown,
		subs:    make(map[int]func(Change)),
	}
}

// State returns the current permission.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Check determines the permission, preferring an actual probe over the
// declarative status. Any acquired stream is released before Check returns.
func (g *Gate) Check(ctx context.Context) State {
	state := g.resolve(ctx)
	g.set(state)
	return state
}

func (g *Gate) resolve(ctx context.Context) State {
	if g.prober != nil {
		stream, err := g.prober.Probe(ctx)
		if err == nil {
			if stream != nil {
				stream.Release()
			}
			return StateGranted
		}
		if stream != nil {
			stream.Release()
		}
		if errors.Is(err, ErrDenied) {
			g.logger.Warn().Err(err).Msg("Microphone probe denied")
			return StateDenied
		}
		g.logger.Debug().Err(err).Msg("Microphone probe failed, falling back to status query")
	}

	if g.querier != nil {
		state, err := g.querier.Query(ctx)
		if err == nil {
			return state
		}
		g.logger.Debug().Err(err).Msg("Permission status query failed")
	}

	return StateUnknown
}

// Update records a state reported out of band by the host platform.
func (g *Gate) Update(state State) {
	g.set(state)
}

// MarkGranted is called once a capture session actually acquires audio.
func (g *Gate) MarkGranted() {
	g.set(StateGranted)
}

// Subscribe registers fn for state changes and returns a func that removes it.
// Callbacks run synchronously on the goroutine that changed the state.
func (g *Gate) Subscribe(fn func(Change)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *Gate) set(state State) {
	g.mu.Lock()
	prev := g.state
	if prev == state {
		g.mu.Unlock()
		return
	}
	g.state = state
	subs := make([]func(Change), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	g.logger.Info().Str("from", string(prev)).Str("to", string(state)).Msg("Permission changed")
	change := Change{From: prev, To: state}
	for _, fn := range subs {
		fn(change)
	}
}
