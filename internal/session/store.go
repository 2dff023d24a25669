package session

import (
	"errors"
	"sync"
)

// ErrUnknownSession is returned when appending to a session that was never created
var ErrUnknownSession = errors.New("unknown session")

// Store holds the ordered message history of every session.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns a copy of the session history, creating an empty
	// history on first access.
	GetOrCreate(id string) []Message

	// Snapshot returns a copy of the session history without creating it.
	Snapshot(id string) ([]Message, bool)

	// Append adds messages to an existing session and returns its new length.
	Append(id string, msgs ...Message) (int, error)

	// Clear removes the session. Clearing an absent session is a no-op.
	Clear(id string)

	// Count returns the number of live sessions.
	Count() int
}

// MemoryStore is a Store backed by a map. History is lost on process exit.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string][]Message
	maxMessages int
}

// NewMemoryStore creates an empty store. When maxMessages is positive the
// oldest messages of a session are dropped so it never holds more.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages < 0 {
		maxMessages = 0
	}
	return &MemoryStore{
		sessions:    make(map[string][]Message),
		maxMessages: maxMessages,
	}
}

func (s *MemoryStore) GetOrCreate(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.sessions[id]
	if !ok {
		msgs = []Message{}
		s.sessions[id] = msgs
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *MemoryStore) Snapshot(id string) ([]Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, true
}

func (s *MemoryStore) Append(id string, msgs ...Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.sessions[id]
	if !ok {
		return 0, ErrUnknownSession
	}
	history = append(history, msgs...)
	if s.maxMessages > 0 && len(history) > s.maxMessages {
		trimmed := make([]Message, s.maxMessages)
		copy(trimmed, history[len(history)-s.maxMessages:])
		history = trimmed
	}
	s.sessions[id] = history
	return len(history), nil
}

func (s *MemoryStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Locker hands out one mutex per session id so that work on a single
// session is serialized while different sessions proceed in parallel.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty Locker
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session is free and returns the matching unlock func.
func (l *Locker) Lock(id string) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &sessionLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
