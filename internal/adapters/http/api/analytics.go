package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/logger"
)

// AnalyticsHandler serves per-feed summaries, exports and row imports.
type AnalyticsHandler struct {
	deps           AnalyticsDependencies
	maxBodyBytes   int64
	maxImportBytes int64
	logger         logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(deps AnalyticsDependencies, maxBodyBytes, maxImportBytes int64, l logger.Logger) *AnalyticsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if maxImportBytes <= 0 {
		maxImportBytes = defaultMaxImportBytes
	}
	if l == nil {
		l = logger.Nop()
	}
	return &AnalyticsHandler{deps: deps, maxBodyBytes: maxBodyBytes, maxImportBytes: maxImportBytes, logger: l}
}

// HandleSummary handles GET /projects/{project_id}/feeds/{feed_id}/summary.
func (h *AnalyticsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.summary"
	sum, err := h.deps.Summary(r.Context(), r.PathValue("project_id"), r.PathValue("feed_id"))
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type exportResponse struct {
	Header  []string   `json:"header"`
	Keys    []string   `json:"keys"`
	Records [][]string `json:"records"`
}

// HandleExport handles GET .../export?format=csv|json. CSV is the default.
func (h *AnalyticsHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	const op = "api.export"
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, fmt.Errorf("unknown format %q", format)))
		return
	}

	projectID, feedID := r.PathValue("project_id"), r.PathValue("feed_id")
	table, err := h.deps.Export(r.Context(), projectID, feedID)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	if format == "json" {
		writeJSON(w, http.StatusOK, exportResponse{Header: table.Header, Keys: table.Keys, Records: table.Records})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.csv"`, projectID, feedID))
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(table.Header)
	_ = cw.WriteAll(table.Records)
	if err := cw.Error(); err != nil {
		h.logger.Warn(r.Context(), "export write failed",
			logger.String("projectID", projectID),
			logger.String("feedID", feedID),
			logger.Error(err),
		)
	}
}

// HandleRowDetail handles GET .../rows/{session_id}.
func (h *AnalyticsHandler) HandleRowDetail(w http.ResponseWriter, r *http.Request) {
	const op = "api.row_detail"
	detail, err := h.deps.RowDetail(r.Context(), r.PathValue("project_id"), r.PathValue("feed_id"), r.PathValue("session_id"))
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type importRequest struct {
	Rows []types.FlatRow `json:"rows"`
}

type importResponse struct {
	Received int `json:"received"`
	Imported int `json:"imported"`
}

// HandleImport handles POST .../rows: historical rows in any schema variant.
func (h *AnalyticsHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	const op = "api.import"
	var req importRequest
	if err := decode(w, r, h.maxImportBytes, &req); err != nil {
		respond(w, Wrap(op, err))
		return
	}
	projectID, feedID := r.PathValue("project_id"), r.PathValue("feed_id")
	n, err := h.deps.ImportRows(r.Context(), projectID, feedID, req.Rows)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	h.logger.Info(r.Context(), "rows imported",
		logger.String("projectID", projectID),
		logger.String("feedID", feedID),
		logger.Int("received", len(req.Rows)),
		logger.Int("imported", n),
	)
	writeJSON(w, http.StatusOK, importResponse{Received: len(req.Rows), Imported: n})
}

type nameRequest struct {
	Name string `json:"name"`
}

// HandlePostName handles PUT .../posts/{post_id}/name.
func (h *AnalyticsHandler) HandlePostName(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_name"
	var req nameRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		respond(w, Wrap(op, err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	err := h.deps.SetPostName(r.Context(), r.PathValue("project_id"), r.PathValue("feed_id"), r.PathValue("post_id"), name)
	if err != nil {
		respond(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
