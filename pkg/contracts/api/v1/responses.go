// Package api contains the HTTP contract of the local status server.
// Version v1 represents the current stable API version.
package api

import (
	"time"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string            `json:"status"` // healthy|degraded
	Version   string            `json:"version"`
	Connected bool              `json:"connected"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// LicenseStatusResponse is returned by GET /api/v1/license.
// It never carries signed payload contents, nonces or signatures.
type LicenseStatusResponse struct {
	Checked     bool       `json:"checked"`
	Success     bool       `json:"success"`
	Verified    bool       `json:"verified"`
	Activated   bool       `json:"activated"`
	Online      *bool      `json:"online,omitempty"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// UpdateStateResponse is returned by GET /api/v1/update/state
type UpdateStateResponse struct {
	Available bool                   `json:"available"`
	Sequence  uint64                 `json:"sequence"`
	Status    string                 `json:"status,omitempty"`
	Terminal  bool                   `json:"terminal"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// UpdateActionRequest is the optional body of POST /api/v1/update/check and
// POST /api/v1/update/download. Options are forwarded to the launcher as-is.
type UpdateActionRequest struct {
	Options map[string]interface{} `json:"options,omitempty" validate:"omitempty,max=32,dive,keys,required,max=64,endkeys"`
}

// UpdateActionResponse wraps the data object the launcher returned
type UpdateActionResponse struct {
	Accepted bool                   `json:"accepted"`
	Data     map[string]interface{} `json:"data,omitempty"`
}
