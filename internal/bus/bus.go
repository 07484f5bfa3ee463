// Package bus provides an internal event bus between the session controller and the UI layer
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types published by the assistant session
const (
	// Permission events
	EventTypePermissionChanged EventType = "permission.changed"
	EventTypeRemediationOpened EventType = "permission.remediation_opened"
	EventTypeRemediationClosed EventType = "permission.remediation_closed"

	// Capture events
	EventTypeCaptureStateChanged EventType = "capture.state_changed"
	EventTypeTranscriptInterim   EventType = "capture.transcript_interim"
	EventTypeTranscriptFinal     EventType = "capture.transcript_final"
	EventTypeFallbackEnabled     EventType = "capture.fallback_enabled"

	// Conversation events
	EventTypeMessageAppended    EventType = "conversation.message_appended"
	EventTypeConversationReset  EventType = "conversation.reset"
	EventTypeTypingChanged      EventType = "conversation.typing_changed"
	EventTypeCommandExecuted    EventType = "conversation.command_executed"
	EventTypeStatusChanged      EventType = "session.status_changed"
	EventTypeRedirectToLogin    EventType = "session.redirect_to_login"
	EventTypeVoiceOutputToggled EventType = "speech.voice_output_toggled"

	// Speech output events
	EventTypeSpeakingStarted EventType = "speech.started"
	EventTypeSpeakingStopped EventType = "speech.stopped"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType]map[int]Handler),
	}
}

// Subscribe adds a handler for an event type and returns a func that removes it.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		unsubs = append(unsubs, b.Subscribe(et, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		handlers = append(handlers, h)
	}
	return handlers
}

// Publish sends an event to all subscribed handlers without blocking
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType]map[int]Handler)
}
