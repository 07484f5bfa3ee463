package tts

import (
	"sync"

	"github.com/normanking/carevoice/internal/bus"
	"github.com/rs/zerolog"
)

// The host synthesis engine is process-wide, so the player that owns it is too.
var (
	sharedMu     sync.Mutex
	sharedPlayer *Player
)

// Init installs the process-wide player over engine, tearing down any
// previous one.
func Init(engine Engine, eventBus *bus.EventBus, logger zerolog.Logger) *Player {
	sharedMu.Lock()
	prev := sharedPlayer
	p := NewPlayer(engine, eventBus, logger)
	sharedPlayer = p
	sharedMu.Unlock()

	if prev != nil {
		prev.Disable()
	}
	return p
}

// Shared returns the process-wide player.
func Shared() (*Player, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedPlayer == nil {
		return nil, ErrNotInitialized
	}
	return sharedPlayer, nil
}

// Teardown cancels playback and removes the process-wide player.
func Teardown() {
	sharedMu.Lock()
	p := sharedPlayer
	sharedPlayer = nil
	sharedMu.Unlock()

	if p != nil {
		p.Disable()
	}
}
