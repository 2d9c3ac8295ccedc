package event

import "context"

// Beacon delivers a slice of events somewhere else, typically the ingest API.
type Beacon interface {
	Send(ctx context.Context, sessionID string, events []Event) error
}

// Flusher ships a Log's new events on page hide.
//
// Delivery is at-most-once, non-blocking and unguaranteed: the pending
// events are marked as sent before the beacon runs, and a failed send is
// reported but never retried.
type Flusher struct {
	log    *Log
	beacon Beacon
	sent   int
}

// NewFlusher binds a flusher to a log and a beacon.
func NewFlusher(log *Log, beacon Beacon) *Flusher {
	return &Flusher{log: log, beacon: beacon}
}

// Pending returns how many events have not been handed to the beacon yet.
func (f *Flusher) Pending() int { return f.log.Len() - f.sent }

// Flush hands everything recorded since the previous flush to the beacon
// on a separate goroutine and returns immediately. The returned channel
// receives the send result once; callers are free to ignore it.
func (f *Flusher) Flush(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if f.beacon == nil {
		done <- ErrNoBeacon
		close(done)
		return done
	}

	batch := f.log.Since(f.sent)
	f.sent = f.log.Len()
	if len(batch) == 0 {
		close(done)
		return done
	}

	sessionID := f.log.SessionID()
	go func() {
		defer close(done)
		if err := f.beacon.Send(ctx, sessionID, batch); err != nil {
			done <- err
		}
	}()
	return done
}
