// Package conversation owns the session-scoped message history of the assistant.
package conversation

import (
	"strings"
	"sync"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Severity is the triage level attached to a message.
type Severity string

const (
	SeverityNone    Severity = "none"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// Action is a follow-up the UI may offer next to a message.
type Action string

const (
	ActionNone        Action = ""
	ActionAppointment Action = "appointment"
)

// Message is one immutable entry of the history.
type Message struct {
	ID                  int64     `json:"id"`
	Sender              Sender    `json:"sender"`
	Text                string    `json:"text"`
	Timestamp           time.Time `json:"timestamp"`
	Severity            Severity  `json:"severity"`
	SelfCareAppropriate *bool     `json:"selfCareAppropriate,omitempty"`
	SuggestedAction     Action    `json:"suggestedAction,omitempty"`
}

// ReplyMeta carries the inference service flags that accompany a reply.
// A nil SelfCareAppropriate means the service did not say.
type ReplyMeta struct {
	SuggestAppointment  bool
	SelfCareAppropriate *bool
}

// ContextEntry is the projection of a message sent as conversation context.
type ContextEntry struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// DefaultContextWindow is the number of messages sent as context when the
// caller does not ask for a specific size.
const DefaultContextWindow = 10

var (
	urgentMarkers  = []string{"immediate", "emergency", "right away", "caution:"}
	warningMarkers = []string{"important note:"}
)

// Classify computes the severity of an assistant reply. First match wins:
// urgent wording, then appointment/self-care flags or an important note,
// otherwise info.
func Classify(text string, meta ReplyMeta) Severity {
	lower := strings.ToLower(text)
	if containsAny(lower, urgentMarkers) {
		return SeverityUrgent
	}
	if meta.SuggestAppointment ||
		containsAny(lower, warningMarkers) ||
		(meta.SelfCareAppropriate != nil && !*meta.SelfCareAppropriate) {
		return SeverityWarning
	}
	return SeverityInfo
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// Manager holds the ordered message history for one session.
// Ids are strictly increasing for the lifetime of the Manager, resets included.
type Manager struct {
	mu       sync.RWMutex
	messages []Message
	lastID   int64
	now      func() time.Time
}

// NewManager creates an empty history.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// AppendUser records a message typed or spoken by the user.
func (m *Manager) AppendUser(text string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(Message{
		Sender:   SenderUser,
		Text:     text,
		Severity: SeverityNone,
	})
}

// AppendAssistant records an inference service reply with its triage.
func (m *Manager) AppendAssistant(text string, meta ReplyMeta) Message {
	msg := Message{
		Sender:   SenderAssistant,
		Text:     text,
		Severity: Classify(text, meta),
	}
	if meta.SelfCareAppropriate != nil {
		v := *meta.SelfCareAppropriate
		msg.SelfCareAppropriate = &v
	}
	if meta.SuggestAppointment {
		msg.SuggestedAction = ActionAppointment
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(msg)
}

// AppendNotice records an assistant message produced locally, such as tips
// or the explanation of a failed request.
func (m *Manager) AppendNotice(text string, severity Severity) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(Message{
		Sender:   SenderAssistant,
		Text:     text,
		Severity: severity,
	})
}

// Reset replaces the history with a single welcome message.
func (m *Manager) Reset(welcome string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	return m.appendLocked(Message{
		Sender:   SenderAssistant,
		Text:     welcome,
		Severity: SeverityInfo,
	})
}

// appendLocked assigns id and timestamp (caller must hold lock).
func (m *Manager) appendLocked(msg Message) Message {
	m.lastID++
	msg.ID = m.lastID
	msg.Timestamp = m.now()
	m.messages = append(m.messages, msg)
	return msg
}

// ContextWindow returns the most recent n messages, oldest first.
func (m *Manager) ContextWindow(n int) []ContextEntry {
	if n <= 0 {
		n = DefaultContextWindow
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := max(len(m.messages)-n, 0)
	window := make([]ContextEntry, 0, len(m.messages)-start)
	for _, msg := range m.messages[start:] {
		window = append(window, ContextEntry{Sender: msg.Sender, Text: msg.Text})
	}
	return window
}

// Messages returns a copy of the history.
func (m *Manager) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Message, len(m.messages))
	copy(result, m.messages)
	return result
}

// Len returns the number of messages in the history.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Last returns the newest message, if any.
func (m *Manager) Last() (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}
