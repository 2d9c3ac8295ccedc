package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/event"
)

// EventDependencies defines the interface for event ingest dependencies.
type EventDependencies interface {
	AppendBatch(ctx context.Context, sessionID, batchID string, events []event.Event) (service.Ack, error)
	Beacon(ctx context.Context, sessionID, batchID string, events []event.Event)
}

// EventsHandler handles batch uploads and page-hide beacons.
type EventsHandler struct {
	deps         EventDependencies
	maxBodyBytes int64
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, maxBodyBytes int64) *EventsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &EventsHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// batchRequest mirrors the OpenAPI schema for POST /sessions/{id}/events.
type batchRequest struct {
	BatchID string        `json:"batch_id"`
	Events  []event.Event `json:"events"`
}

func (b batchRequest) validate() error {
	if strings.TrimSpace(b.BatchID) == "" {
		return errors.New("missing batch_id")
	}
	return nil
}

type ackResponse struct {
	Status string `json:"status"`
	service.Ack
}

// HandlePostEvents handles POST /sessions/{session_id}/events requests.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	sessionID := r.PathValue("session_id")

	var req batchRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		respond(w, Wrap(op, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ack, err := h.deps.AppendBatch(r.Context(), sessionID, req.BatchID, req.Events)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	if ack.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Ack: ack})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Ack: ack})
}

// HandleBeacon handles POST /sessions/{session_id}/beacon requests. Browsers
// never read the response of a beacon, so every outcome is a 204.
func (h *EventsHandler) HandleBeacon(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err == nil {
		// The request context ends with the response; the beacon must not.
		ctx := context.WithoutCancel(r.Context())
		h.deps.Beacon(ctx, r.PathValue("session_id"), req.BatchID, req.Events)
	}
	w.WriteHeader(http.StatusNoContent)
}
