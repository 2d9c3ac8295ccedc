// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/feedtrace/internal/adapters/repository"
	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/dwell"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/roster"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	SessionDependencies
	AnalyticsDependencies
	Visibility() service.VisibilityConfig
}

// SessionDependencies covers the ingest side.
type SessionDependencies interface {
	OpenSession(ctx context.Context, req service.OpenRequest) (service.SessionInfo, error)
	AppendBatch(ctx context.Context, sessionID, batchID string, events []event.Event) (service.Ack, error)
	// Beacon is fire and forget.
	Beacon(ctx context.Context, sessionID, batchID string, events []event.Event)
	Dwell(ctx context.Context, sessionID string) ([]dwell.Record, error)
	SessionRow(ctx context.Context, sessionID string) (participant.Row, error)
}

// AnalyticsDependencies covers the read and import side.
type AnalyticsDependencies interface {
	Summary(ctx context.Context, projectID, feedID string) (roster.Summary, error)
	Export(ctx context.Context, projectID, feedID string) (normalize.Table, error)
	RowDetail(ctx context.Context, projectID, feedID, sessionID string) (service.RowDetail, error)
	ImportRows(ctx context.Context, projectID, feedID string, rows []types.FlatRow) (int, error)
	SetPostName(ctx context.Context, projectID, feedID, postID, name string) error
}

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultMaxImportBytes = 32 << 20
)

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	eventsHandler     *EventsHandler
	sessionsHandler   *SessionsHandler
	analyticsHandler  *AnalyticsHandler
	visibilityHandler *VisibilityHandler
	logger            logger.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxBodyBytes   int64
	maxImportBytes int64
	logger         logger.Logger
}

// WithMaxBodyBytes bounds request bodies of session endpoints.
func WithMaxBodyBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithMaxImportBytes bounds the body of a row import.
func WithMaxImportBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxImportBytes = n
		}
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{
		maxBodyBytes:   defaultMaxBodyBytes,
		maxImportBytes: defaultMaxImportBytes,
		logger:         logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		eventsHandler:     NewEventsHandler(deps, cfg.maxBodyBytes),
		sessionsHandler:   NewSessionsHandler(deps, cfg.maxBodyBytes),
		analyticsHandler:  NewAnalyticsHandler(deps, cfg.maxBodyBytes, cfg.maxImportBytes, cfg.logger),
		visibilityHandler: NewVisibilityHandler(deps),
		logger:            cfg.logger,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", s.wrap(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /visibility", s.wrap(s.visibilityHandler.HandleVisibility, "visibility"))

	mux.HandleFunc("POST /sessions", s.wrap(s.sessionsHandler.HandleOpen, "sessions"))
	mux.HandleFunc("POST /sessions/{session_id}/events", s.wrap(s.eventsHandler.HandlePostEvents, "events"))
	mux.HandleFunc("POST /sessions/{session_id}/beacon", s.wrap(s.eventsHandler.HandleBeacon, "beacon"))
	mux.HandleFunc("GET /sessions/{session_id}/dwell", s.wrap(s.sessionsHandler.HandleDwell, "dwell"))
	mux.HandleFunc("GET /sessions/{session_id}/row", s.wrap(s.sessionsHandler.HandleRow, "session_row"))

	const feed = "/projects/{project_id}/feeds/{feed_id}"
	mux.HandleFunc("GET "+feed+"/summary", s.wrap(s.analyticsHandler.HandleSummary, "summary"))
	mux.HandleFunc("GET "+feed+"/export", s.wrap(s.analyticsHandler.HandleExport, "export"))
	mux.HandleFunc("GET "+feed+"/rows/{session_id}", s.wrap(s.analyticsHandler.HandleRowDetail, "row_detail"))
	mux.HandleFunc("POST "+feed+"/rows", s.wrap(s.analyticsHandler.HandleImport, "import"))
	mux.HandleFunc("PUT "+feed+"/posts/{post_id}/name", s.wrap(s.analyticsHandler.HandlePostName, "post_name"))
}

func (s *Server) wrap(h http.HandlerFunc, endpoint string) http.HandlerFunc {
	return instrument(h, endpoint, s.logger)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// respond translates err into a status code and error body.
func respond(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidScope),
		errors.Is(err, repository.ErrInvalidKey):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict),
		errors.Is(err, repository.ErrSessionExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrTooLarge),
		errors.Is(err, service.ErrTooManyRows):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrBackpressure),
		errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// decode reads one JSON document of at most limit bytes into v.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, tooBig.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
