// Package inference is the client of the assistant inference service.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/normanking/carevoice/internal/conversation"
)

// Request is the body posted to the inference service.
type Request struct {
	Message             string                      `json:"message"`
	ConversationHistory []conversation.ContextEntry `json:"conversationHistory"`
}

// Reply is the inference service answer.
type Reply struct {
	Text                string `json:"text"`
	SuggestAppointment  bool   `json:"suggestAppointment"`
	SelfCareAppropriate *bool  `json:"selfCareAppropriate,omitempty"`
	ConversationReset   bool   `json:"conversationReset"`
}

// Meta returns the triage flags of the reply.
func (r *Reply) Meta() conversation.ReplyMeta {
	return conversation.ReplyMeta{
		SuggestAppointment:  r.SuggestAppointment,
		SelfCareAppropriate: r.SelfCareAppropriate,
	}
}

// Service sends one user message with its context.
type Service interface {
	Send(ctx context.Context, req Request) (*Reply, error)
}

// ErrorKind classifies request failures.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindServerError     ErrorKind = "server-error"
	KindNetwork         ErrorKind = "network"
)

// Sentinel errors
var (
	ErrNoToken      = errors.New("no access token available")
	ErrTokenExpired = errors.New("access token expired")
)

// Error is a classified inference failure.
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors not produced by this package are
// treated as network failures.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindNetwork
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource holding a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
