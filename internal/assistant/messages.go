package assistant

import (
	"github.com/normanking/carevoice/internal/capture"
	"github.com/normanking/carevoice/internal/inference"
)

const (
	statusPermissionDenied = "Microphone access is blocked. Allow it in your browser or system " +
		"settings, or switch to the alternative capture method."
	statusFallbackEnabled = "Live recognition is unavailable, using the alternative capture method."

	replyUnauthenticated = "Your session has expired. Please log in again to continue the conversation."
	replyServerError     = "I'm sorry, I'm having trouble processing your request right now. Please try again in a moment."
	replyNetwork         = "I'm sorry, I couldn't reach the assistant service. Please check your connection and try again."
)

// captureStatus is the status line shown for a capture failure.
func captureStatus(code capture.ErrorCode) string {
	switch code {
	case capture.CodePermissionDenied:
		return statusPermissionDenied
	case capture.CodeNoSpeech:
		return "No speech was detected. Please try again."
	case capture.CodeDeviceUnavailable:
		return "No microphone was found. Check that one is connected."
	case capture.CodeAborted:
		return "Voice input was cancelled."
	case capture.CodeTranscriptionUnavailable:
		return "Your recording was captured, but transcription is not available. Please type your message instead."
	case capture.CodeUnsupported:
		return "Voice input is not supported here. Please type your message instead."
	default:
		return "Voice input failed. Please try again."
	}
}

// failureReply is the assistant message appended when a send fails.
func failureReply(kind inference.ErrorKind) string {
	switch kind {
	case inference.KindUnauthenticated:
		return replyUnauthenticated
	case inference.KindServerError:
		return replyServerError
	default:
		return replyNetwork
	}
}
