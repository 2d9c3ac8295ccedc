package visibility

import "errors"

// Sentinel kinds for visibility errors.
var (
	// ErrObservationUnavailable is returned by a Source that cannot observe
	// geometry. The Detector treats it as "track nothing", not as a failure.
	ErrObservationUnavailable = errors.New("observation unavailable")
)
