package api

import (
	"net/http"

	service "github.com/okian/feedtrace/internal/app"
)

// VisibilityDependencies exposes the detector settings clients run with.
type VisibilityDependencies interface {
	Visibility() service.VisibilityConfig
}

// VisibilityHandler handles GET /visibility.
type VisibilityHandler struct {
	deps VisibilityDependencies
}

// NewVisibilityHandler creates a new visibility handler.
func NewVisibilityHandler(deps VisibilityDependencies) *VisibilityHandler {
	return &VisibilityHandler{deps: deps}
}

// HandleVisibility returns the thresholds and chrome insets a client should
// feed its detector.
func (h *VisibilityHandler) HandleVisibility(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Visibility())
}
