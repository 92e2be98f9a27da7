package watch

import (
	"context"
	"sync"
)

// State describes where a session is in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// session tracks one account's live IMAP connection. The manager inserts a
// session in StateConnecting before dialing so concurrent connects for the
// same account collapse into one.
type session struct {
	mu         sync.Mutex
	accountID  int64
	chatID     int64
	spamFolder string
	state      State
	handle     MailSession
	active     bool
	cancel     context.CancelFunc
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// liveHandle returns the handle only while the session is subscribed.
func (s *session) liveHandle() (MailSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// shutdown marks the session inactive before touching the connection so the
// listener goroutine stops treating errors as faults.
func (s *session) shutdown() {
	s.mu.Lock()
	s.active = false
	s.state = StateDisconnected
	handle := s.handle
	s.handle = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		_ = handle.Logout()
		_ = handle.Close()
	}
}
