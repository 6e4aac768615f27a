package player

import "sync"

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification kinds.
const (
	KindStepCompleted    = "step_completed"
	KindConnectionError  = "connection_error"
	KindRateLimited      = "rate_limited"
	KindProgressNotSaved = "progress_not_saved"
	KindStepLocked       = "step_locked"
	KindContentMissing   = "content_unavailable"
	KindCompleteEarlier  = "complete_earlier_steps"
	KindLessonCompleted  = "lesson_completed"
)

// Notification is a toast-style message for the learner.
type Notification struct {
	Kind      string `json:"kind"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	StepID    int64  `json:"stepId,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Notifier delivers notifications to the learner.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// MemoryNotifier records notifications for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Notify(n Notification) {
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()
}

// Sent returns a copy of the recorded notifications.
func (m *MemoryNotifier) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification{}, m.sent...)
}

// Kinds returns the kinds of the recorded notifications in order.
func (m *MemoryNotifier) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, n := range m.sent {
		out[i] = n.Kind
	}
	return out
}

// Count returns how many notifications of the given kind were sent.
func (m *MemoryNotifier) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
