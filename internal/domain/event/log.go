package event

import (
	"fmt"
	"time"
)

// isoLayout is ISO-8601 in UTC with millisecond precision.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Clock supplies wall-clock time to the Log.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// FormatISO renders t the way the Log stamps timestamp_iso.
func FormatISO(t time.Time) string { return t.UTC().Format(isoLayout) }

// Log is the append-only interaction record of one session.
//
// A Log has a single writer and is not safe for concurrent use; callers
// serialize access.
type Log struct {
	sessionID   string
	participant *string
	clock       Clock
	events      []Event
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithClock replaces the wall clock.
func WithClock(c Clock) LogOption {
	return func(l *Log) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithCapacity preallocates room for n events.
func WithCapacity(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.events = make([]Event, 0, n)
		}
	}
}

// NewLog creates an empty log for sessionID.
func NewLog(sessionID string, opts ...LogOption) *Log {
	l := &Log{
		sessionID: sessionID,
		clock:     ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SessionID returns the session the log belongs to.
func (l *Log) SessionID() string { return l.sessionID }

// ParticipantID returns the current participant id, nil before entry.
func (l *Log) ParticipantID() *string {
	if l.participant == nil {
		return nil
	}
	id := *l.participant
	return &id
}

// Append stamps and records an event.
func (l *Log) Append(action Action, postID string, payload Payload) Event {
	now := l.clock.Now()
	e := Event{
		Action:        action,
		PostID:        postID,
		TSMillis:      now.UnixMilli(),
		TimestampISO:  FormatISO(now),
		SessionID:     l.sessionID,
		ParticipantID: l.ParticipantID(),
		Payload:       payload,
	}
	l.events = append(l.events, e)
	return e
}

// EnterParticipant sets the participant id and records participant_id_entered.
func (l *Log) EnterParticipant(id string) Event {
	l.participant = &id
	return l.Append(ActionParticipantEntered, "", &Marker{})
}

// Ingest records an event that was stamped elsewhere, e.g. by the browser.
func (l *Log) Ingest(e Event) error {
	if e.SessionID != l.sessionID {
		return fmt.Errorf("%w: %q into %q", ErrSessionMismatch, e.SessionID, l.sessionID)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Action == ActionParticipantEntered && e.ParticipantID != nil {
		id := *e.ParticipantID
		l.participant = &id
	}
	l.events = append(l.events, e)
	return nil
}

// Len returns the number of recorded events.
func (l *Log) Len() int { return len(l.events) }

// Events returns a copy of the log in insertion order.
func (l *Log) Events() []Event {
	return l.Since(0)
}

// Since returns a copy of the events recorded at or after offset.
func (l *Log) Since(offset int) []Event {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-offset)
	copy(out, l.events[offset:])
	return out
}
