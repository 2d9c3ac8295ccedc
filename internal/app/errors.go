package service

import "errors"

// Sentinel kinds for service errors. Repository kinds (not found, session
// exists) pass through wrapped.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrBackpressure = errors.New("ingest queue full")
	ErrInvalidScope = errors.New("project_id and feed_id are required")
	ErrTooManyRows  = errors.New("too many rows in one import")
)
