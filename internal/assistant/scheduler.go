package assistant

import (
	"sync"
	"time"
)

// Task names used by the controller.
const (
	taskSend          = "send"
	taskStatusDismiss = "status-dismiss"
	taskRedirect      = "redirect-login"
)

// Scheduler runs named, cancelable one-shot tasks tied to a session.
// Scheduling a name that is already pending replaces it. After Close nothing
// scheduled runs.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	timer *time.Timer
	fn    func()
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Schedule runs fn after d unless cancelled or replaced first. It returns
// false once the scheduler is closed.
func (s *Scheduler) Schedule(name string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if prev, ok := s.tasks[name]; ok {
		prev.timer.Stop()
	}

	t := &task{fn: fn}
	t.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.tasks[name]
		if !ok || current != t || s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, name)
		s.mu.Unlock()
		fn()
	})
	s.tasks[name] = t
	return true
}

// Cancel drops the pending task name and reports whether one was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, name)
	return true
}

// Flush starts the pending task name now, on its own goroutine, instead of
// waiting for its timer. It reports whether one was pending.
func (s *Scheduler) Flush(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok || s.closed || !t.timer.Stop() {
		s.mu.Unlock()
		return false
	}
	delete(s.tasks, name)
	s.mu.Unlock()
	go t.fn()
	return true
}

// Pending reports whether name is scheduled and has not fired yet.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Close cancels every pending task.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for name, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, name)
	}
}
