// Package stt adapts network speech-to-text services to the capture strategies.
package stt

import (
	"errors"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("STT provider unavailable")
	ErrAudioTooShort       = errors.New("audio too short for transcription")
)
