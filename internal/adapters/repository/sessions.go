package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/metrics"
)

// Session is the server-side replica of one participant's session.
type Session struct {
	ID       string
	Scope    types.Scope
	Feed     types.Feed
	OpenedAt time.Time

	mu       sync.Mutex
	state    State
	lastSeen atomic.Int64
}

// State is the mutable part of a Session.
type State struct {
	Log *event.Log
	// Row is set once the participant submits.
	Row *participant.Row
}

// Do runs fn with exclusive access to the session state.
func (s *Session) Do(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Events returns a copy of the session's events.
func (s *Session) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Log.Events()
}

// Submitted reports whether a row has been built for the session.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Row != nil
}

// Sessions is the registry of open sessions.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessions creates an empty registry.
func NewSessions(opts ...Option) *Sessions {
	cfg := newSettings(opts)
	return &Sessions{
		sessions: make(map[string]*Session),
		now:      cfg.now,
	}
}

// Open registers a new session. Returns ErrSessionExists if id is taken.
func (r *Sessions) Open(_ context.Context, id string, scope types.Scope, feed types.Feed, opts ...event.LogOption) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:       id,
		Scope:    scope,
		Feed:     feed,
		OpenedAt: r.now(),
		state:    State{Log: event.NewLog(id, opts...)},
	}
	s.lastSeen.Store(s.OpenedAt.UnixNano())
	r.sessions[id] = s
	metrics.UpdateSessionsOpen(len(r.sessions))
	return s, nil
}

// Get returns an open session and marks it active. Returns
// ErrSessionNotFound if unknown.
func (r *Sessions) Get(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen.Store(r.now().UnixNano())
	return s, nil
}

// Sweep removes sessions that have not been looked up for longer than idle
// and returns how many were dropped.
func (r *Sessions) Sweep(_ context.Context, idle time.Duration) int {
	cutoff := r.now().Add(-idle).UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.lastSeen.Load() < cutoff {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		metrics.UpdateSessionsOpen(len(r.sessions))
	}
	return n
}

// Remove forgets a session.
func (r *Sessions) Remove(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	metrics.UpdateSessionsOpen(len(r.sessions))
}

// Len returns the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
