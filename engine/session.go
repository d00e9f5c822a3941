package engine

import (
	"sync"
	"time"

	"github.com/becomeliminal/nim-memory/core"
)

// State is the lifecycle position of an Agent's session.
type State int

const (
	// StateUnstarted means StartConversation has not been called.
	StateUnstarted State = iota

	// StateActive means the session accepts Chat calls.
	StateActive

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one conversation. Its turns are append-only and live only in
// process memory; the memories derived from them outlive the session in the
// Store.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`

	mu    sync.RWMutex
	turns []core.Message
}

func newSession(id, title string) *Session {
	return &Session{
		ID:        id,
		Title:     title,
		StartedAt: time.Now().UTC(),
	}
}

// Turns returns a copy of the session's turns in order.
func (s *Session) Turns() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Message(nil), s.turns...)
}

// TurnCount returns the number of recorded turns.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// recent returns up to the last n turns.
func (s *Session) recent(n int) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	return append([]core.Message(nil), s.turns[start:]...)
}

func (s *Session) append(turns ...core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}
