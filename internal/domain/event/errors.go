package event

import "errors"

// Sentinel kinds for event errors.
var (
	ErrInvalidEvent    = errors.New("invalid event")
	ErrSessionMismatch = errors.New("event belongs to another session")
	ErrNoBeacon        = errors.New("no beacon configured")
)
