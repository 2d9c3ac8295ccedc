package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound          = errors.New("row not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already open")
	ErrInvalidKey        = errors.New("project, feed and session ids are required")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
	ErrMemoryDSN         = errors.New("in-memory sqlite dsn is not supported; use the memory driver")
)
