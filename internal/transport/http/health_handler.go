package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	"dmsdk/pkg/contracts"
	api "dmsdk/pkg/contracts/api/v1"
)

// ConnectionChecker reports whether the launcher session is open.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	session ConnectionChecker
	license *license.StatusRecorder
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(session ConnectionChecker, status *license.StatusRecorder, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		session: session,
		license: status,
		logger:  infrastructure.ComponentLogger(logger, "health_handler"),
	}
}

// HealthCheck reports healthy when the session is open and the last license
// check succeeded. A degraded result is served with 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	connected := h.session != nil && h.session.IsConnected()
	snapshot := h.license.Snapshot()

	checks := map[string]string{
		"launcher": "disconnected",
		"license":  "unchecked",
	}
	if connected {
		checks["launcher"] = "connected"
	}
	if snapshot.Checked {
		checks["license"] = "invalid"
		if snapshot.Success {
			checks["license"] = "valid"
		}
	}

	resp := api.HealthResponse{
		Status:    "healthy",
		Version:   contracts.Version,
		Connected: connected,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	}
	if !connected || !snapshot.Success {
		resp.Status = "degraded"
		render.Status(r, http.StatusServiceUnavailable)
		h.logger.DebugContext(r.Context(), "Health degraded",
			slog.Bool("connected", connected),
			slog.Bool("license_ok", snapshot.Success),
		)
	}
	render.JSON(w, r, resp)
}
