package api

import (
	"net/http"

	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/dwell"
)

// SessionsHandler handles session lifecycle and live inspection.
type SessionsHandler struct {
	deps         SessionDependencies
	maxBodyBytes int64
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies, maxBodyBytes int64) *SessionsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &SessionsHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandleOpen handles POST /sessions requests.
func (h *SessionsHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	const op = "api.open_session"
	var req service.OpenRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		respond(w, Wrap(op, err))
		return
	}
	info, err := h.deps.OpenSession(r.Context(), req)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

type dwellResponse struct {
	SessionID string         `json:"session_id"`
	Posts     []dwell.Record `json:"posts"`
}

// HandleDwell handles GET /sessions/{session_id}/dwell requests.
func (h *SessionsHandler) HandleDwell(w http.ResponseWriter, r *http.Request) {
	const op = "api.dwell"
	id := r.PathValue("session_id")
	recs, err := h.deps.Dwell(r.Context(), id)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, dwellResponse{SessionID: id, Posts: recs})
}

// HandleRow handles GET /sessions/{session_id}/row: the row built when the
// participant submitted.
func (h *SessionsHandler) HandleRow(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_row"
	row, err := h.deps.SessionRow(r.Context(), r.PathValue("session_id"))
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, row)
}
