package api

import (
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/session"
)

// StatusTracker records session transitions for the status endpoints. It is
// a session.StatusSink.
type StatusTracker struct {
	mu         sync.RWMutex
	state      session.State
	since      time.Time
	lastError  string
	errorAt    time.Time
	reconnects int

	now func() time.Time
}

func NewStatusTracker() *StatusTracker {
	t := &StatusTracker{now: time.Now}
	t.since = t.now()
	return t
}

func (t *StatusTracker) StateChanged(state session.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state == session.Reconnecting || state == session.ReconnectingError {
		t.reconnects++
	}
	t.state = state
	t.since = t.now()
}

func (t *StatusTracker) ReconnectingAfterError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = err.Error()
	t.errorAt = t.now()
}

// SessionStatus is a point-in-time copy of the tracker.
type SessionStatus struct {
	State       session.State `json:"state"`
	Since       time.Time     `json:"since"`
	Reconnects  int           `json:"reconnects"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt *time.Time    `json:"last_error_at,omitempty"`
}

func (t *StatusTracker) Snapshot() SessionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := SessionStatus{
		State:      t.state,
		Since:      t.since,
		Reconnects: t.reconnects,
		LastError:  t.lastError,
	}
	if !t.errorAt.IsZero() {
		at := t.errorAt
		s.LastErrorAt = &at
	}
	return s
}
