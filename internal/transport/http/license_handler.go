package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"dmsdk/internal/license"
	api "dmsdk/pkg/contracts/api/v1"
)

// LicenseHandler serves the license summary.
type LicenseHandler struct {
	status *license.StatusRecorder
}

// NewLicenseHandler creates a license handler over status.
func NewLicenseHandler(status *license.StatusRecorder) *LicenseHandler {
	return &LicenseHandler{status: status}
}

// GetStatus handles GET /api/v1/license.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, LicenseStatusResponse(h.status.Snapshot()))
}

// LicenseStatusResponse converts a recorder snapshot to its API form.
func LicenseStatusResponse(s license.Status) api.LicenseStatusResponse {
	return api.LicenseStatusResponse{
		Checked:     s.Checked,
		Success:     s.Success,
		Verified:    s.Verified,
		Activated:   s.Activated,
		Online:      s.Online,
		Attempts:    s.Attempts,
		Error:       s.Error,
		CheckedAt:   timePtr(s.CheckedAt),
		ActivatedAt: timePtr(s.ActivatedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
