package simulate

import "errors"

// Sentinel kinds for simulation errors.
var (
	ErrUnhealthy = errors.New("service is not healthy")
	ErrStatus    = errors.New("unexpected response status")
	ErrMismatch  = errors.New("server roster does not match the simulation")
)
