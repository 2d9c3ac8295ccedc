package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/feedtrace/internal/adapters/mq/queue"
	"github.com/okian/feedtrace/internal/adapters/repository"
	"github.com/okian/feedtrace/internal/domain/dedupe"
	"github.com/okian/feedtrace/internal/domain/dwell"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/logger"
	"github.com/okian/feedtrace/pkg/metrics"
)

// OpenRequest starts a session. An empty SessionID is generated.
type OpenRequest struct {
	SessionID string      `json:"session_id,omitempty"`
	Scope     types.Scope `json:"scope"`
	Feed      types.Feed  `json:"feed"`
}

// SessionInfo is returned when a session opens.
type SessionInfo struct {
	SessionID  string           `json:"session_id"`
	Scope      types.Scope      `json:"scope"`
	OpenedAt   string           `json:"opened_at"`
	Visibility VisibilityConfig `json:"visibility"`
}

// Ack reports what happened to an uploaded batch.
type Ack struct {
	BatchID   string `json:"batch_id"`
	Duplicate bool   `json:"duplicate"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

// OpenSession registers a session replica for a participant.
func (s *Service) OpenSession(ctx context.Context, req OpenRequest) (SessionInfo, error) { //nolint:gocritic // hugeParam
	if !s.running() {
		return SessionInfo{}, ErrNotStarted
	}
	scope := req.Scope
	if strings.TrimSpace(scope.ProjectID) == "" || strings.TrimSpace(scope.FeedID) == "" {
		return SessionInfo{}, ErrInvalidScope
	}
	if !scope.Debug {
		scope.Debug = s.debugOverlay
	}
	feed := req.Feed
	if feed.ID == "" {
		feed.ID = scope.FeedID
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := s.sessions.Open(ctx, id, scope, feed, event.WithClock(s.clock))
	if err != nil {
		return SessionInfo{}, fmt.Errorf("open session %s: %w", id, err)
	}
	s.logger.Debug(ctx, "session opened",
		logger.String("sessionID", id),
		logger.String("projectID", scope.ProjectID),
		logger.String("feedID", scope.FeedID),
	)
	return SessionInfo{
		SessionID:  id,
		Scope:      scope,
		OpenedAt:   event.FormatISO(sess.OpenedAt),
		Visibility: s.Visibility(),
	}, nil
}

// AppendBatch validates a client batch and queues it on the session's
// shard. A batch id seen before for the session is acknowledged as a
// duplicate and dropped. Invalid events are dropped and counted; the rest
// of the batch still goes through.
func (s *Service) AppendBatch(ctx context.Context, sessionID, batchID string, events []event.Event) (Ack, error) {
	return s.append(ctx, sessionID, batchID, events, false)
}

// Beacon accepts a page-hide flush. It is best effort: the caller never
// learns whether the events were kept.
func (s *Service) Beacon(ctx context.Context, sessionID, batchID string, events []event.Event) {
	if _, err := s.append(ctx, sessionID, batchID, events, true); err != nil {
		s.logger.Warn(ctx, "beacon dropped", logger.String("sessionID", sessionID), logger.Error(err))
	}
}

func (s *Service) append(ctx context.Context, sessionID, batchID string, events []event.Event, beacon bool) (Ack, error) {
	if !s.running() {
		return Ack{}, ErrNotStarted
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		metrics.RecordBatchRejected("unknown_session")
		return Ack{}, fmt.Errorf("append to %s: %w", sessionID, err)
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}
	ack := Ack{BatchID: batchID}

	valid := make([]event.Event, 0, len(events))
	for i := range events {
		e := events[i]
		if e.SessionID == "" {
			e.SessionID = sessionID
		}
		if e.SessionID != sessionID {
			ack.Rejected++
			metrics.RecordEventInvalid()
			continue
		}
		if err := e.Validate(); err != nil {
			ack.Rejected++
			metrics.RecordEventInvalid()
			s.logger.Debug(ctx, "dropping invalid event", logger.String("sessionID", sessionID), logger.Error(err))
			continue
		}
		valid = append(valid, e)
	}

	if len(valid) == 0 {
		// Nothing to queue; the id stays free so a corrected batch is not
		// mistaken for a duplicate.
		metrics.RecordBatchRejected("no_valid_events")
		return ack, nil
	}

	key := dedupe.BatchKey(sessionID, batchID)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordBatchDuplicate()
		return Ack{BatchID: batchID, Duplicate: true}, nil
	}

	b := queue.Batch{
		BatchID:    batchID,
		SessionID:  sessionID,
		Events:     valid,
		ReceivedAt: s.clock.Now(),
		Beacon:     beacon,
	}
	if !s.pool.Submit(ctx, b) {
		s.deduper.Unrecord(ctx, key)
		metrics.RecordBatchRejected("queue_full")
		return Ack{}, ErrBackpressure
	}

	metrics.RecordBatchAccepted()
	if beacon {
		metrics.RecordBeaconFlush()
	}
	ack.Accepted = len(valid)
	return ack, nil
}

// handleBatch runs on the session's shard, so it is the only writer of the
// session log.
func (s *Service) handleBatch(ctx context.Context, b queue.Batch) error { //nolint:gocritic // hugeParam: batches travel by value
	sess, err := s.sessions.Get(ctx, b.SessionID)
	if err != nil {
		return err
	}

	var (
		built     *participant.Row
		ingestErr error
	)
	sess.Do(func(st *repository.State) {
		for _, e := range b.Events {
			if err := st.Log.Ingest(e); err != nil {
				metrics.RecordEventInvalid()
				ingestErr = errors.Join(ingestErr, err)
				continue
			}
			metrics.RecordEventIngested(string(e.Action))
			recordTransition(&e)

			if e.Action == event.ActionFeedSubmit && st.Row == nil {
				start := time.Now()
				row := participant.Build(sess.Scope, sess.Feed, st.Log.Events())
				metrics.RecordRowBuilt(float64(time.Since(start).Microseconds()) / 1000)
				st.Row = &row
				built = &row
			}
		}
	})

	if built != nil {
		stored := repository.StoredRow{
			ProjectID: sess.Scope.ProjectID,
			FeedID:    sess.Scope.FeedID,
			SessionID: sess.ID,
			Row:       built.Flat(),
			CreatedAt: s.clock.Now(),
		}
		if _, err := s.store.Put(ctx, stored); err != nil {
			metrics.RecordErrorByComponent("service", "store_error")
			return errors.Join(ingestErr, fmt.Errorf("store row %s: %w", sess.ID, err))
		}
		s.logger.Info(ctx, "participant row stored",
			logger.String("sessionID", sess.ID),
			logger.Bool("completed", built.Completed()),
		)
	}
	return ingestErr
}

func recordTransition(e *event.Event) {
	v, ok := e.Visibility()
	if !ok {
		return
	}
	switch {
	case e.Action.OpensVisit():
		metrics.RecordVisibilityTransition("enter")
	case v.Synthetic():
		metrics.RecordVisibilityTransition("synthetic_exit")
	default:
		metrics.RecordVisibilityTransition("exit")
	}
}

// Dwell returns the live dwell records of an open session, sorted by post id.
func (s *Service) Dwell(ctx context.Context, sessionID string) ([]dwell.Record, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("dwell of %s: %w", sessionID, err)
	}
	return dwell.Sorted(dwell.Aggregate(sess.Events())), nil
}

// SessionRow returns the row built for a session that has submitted.
func (s *Service) SessionRow(ctx context.Context, sessionID string) (participant.Row, error) {
	if !s.running() {
		return participant.Row{}, ErrNotStarted
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return participant.Row{}, fmt.Errorf("row of %s: %w", sessionID, err)
	}
	var (
		row participant.Row
		ok  bool
	)
	sess.Do(func(st *repository.State) {
		if st.Row != nil {
			row, ok = *st.Row, true
		}
	})
	if !ok {
		return participant.Row{}, fmt.Errorf("row of %s: %w", sessionID, repository.ErrNotFound)
	}
	return row, nil
}
