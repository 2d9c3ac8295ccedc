package visibility

import "context"

// Replay is a Source that plays back a fixed list of frames, e.g. a
// recorded trace or a simulated scroll.
type Replay []Frame

// Frames implements Source.
func (r Replay) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame)
	go func() {
		defer close(out)
		for _, f := range r {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Unavailable is a Source standing in for a missing observation primitive.
type Unavailable struct{}

// Frames implements Source.
func (Unavailable) Frames(context.Context) (<-chan Frame, error) {
	return nil, ErrObservationUnavailable
}
