// Package audio holds raw PCM capture types shared by the capture strategies.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceNotFound = errors.New("audio device not found")
	ErrInvalidFormat  = errors.New("invalid audio format")
	ErrBufferFull     = errors.New("audio buffer full")
)

// Format represents audio encoding format
type Format string

const (
	FormatPCM Format = "pcm"
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Spec describes the layout of PCM samples.
type Spec struct {
	SampleRate int `json:"sample_rate"` // Default: 16000 Hz for STT
	Channels   int `json:"channels"`    // Default: 1 (mono)
	BitDepth   int `json:"bit_depth"`   // Default: 16
}

// DefaultSpec returns the layout speech recognizers expect.
func DefaultSpec() Spec {
	return Spec{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// BytesPerSecond returns the data rate of s.
func (s Spec) BytesPerSecond() int {
	return s.SampleRate * s.Channels * s.BitDepth / 8
}

// Duration returns how long n bytes of audio in layout s last.
func (s Spec) Duration(n int) time.Duration {
	bps := s.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Chunk represents a chunk of captured audio
type Chunk struct {
	Data      []byte    `json:"data"`      // Raw little-endian PCM bytes
	Timestamp time.Time `json:"timestamp"` // When this chunk was captured
}
