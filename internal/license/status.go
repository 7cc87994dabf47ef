package license

import (
	"sync"
	"time"
)

// Status summarises the latest license outcome for local observers. It
// holds only flags, counts and timestamps; signed contents stay with the
// caller that received them.
type Status struct {
	Checked     bool
	Success     bool
	Verified    bool
	Activated   bool
	Online      *bool
	Attempts    int
	Error       string
	CheckedAt   time.Time
	ActivatedAt time.Time
}

// StatusRecorder keeps the latest Status. A nil recorder ignores updates.
type StatusRecorder struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewStatusRecorder creates an empty recorder.
func NewStatusRecorder() *StatusRecorder {
	return &StatusRecorder{now: time.Now}
}

// Snapshot returns a copy of the current status.
func (r *StatusRecorder) Snapshot() Status {
	if r == nil {
		return Status{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.status
	if s.Online != nil {
		online := *s.Online
		s.Online = &online
	}
	return s
}

func (r *StatusRecorder) recordVerify(res VerifyResult) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Checked = true
	r.status.Verified = res.LicenseValid()
	r.status.Activated = false
	r.status.Attempts = 0
	r.status.Online = nil
	if res.IsOnline != nil {
		online := *res.IsOnline
		r.status.Online = &online
	}
	r.status.CheckedAt = r.now()
}

func (r *StatusRecorder) recordAttempts(attempts int, activated bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Attempts = attempts
	r.status.Activated = activated
	if activated {
		r.status.ActivatedAt = r.now()
	}
}

func (r *StatusRecorder) recordResult(res Result) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Checked = true
	r.status.Success = res.Success
	r.status.Error = res.Error
	if r.status.CheckedAt.IsZero() {
		r.status.CheckedAt = r.now()
	}
}
