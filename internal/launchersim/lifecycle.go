package launchersim

import (
	"context"
	"log/slog"
	"time"

	"dmsdk/internal/config"
	"dmsdk/pkg/contracts/launcher"
)

// Advance moves the update lifecycle to status, bumps the sequence and wakes
// every pending wait_for_update_state_change. It returns the new sequence.
func (s *Simulator) Advance(status string, detail map[string]any) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(status, detail)
}

// Repeat wakes pending waiters without changing the sequence, the way a
// launcher that re-announces its current state would.
func (s *Simulator) Repeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

// Sequence returns the current update sequence.
func (s *Simulator) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

func (s *Simulator) advanceLocked(status string, detail map[string]any) uint64 {
	s.sequence++
	s.status = status
	s.detail = make(map[string]any, len(detail))
	for k, v := range detail {
		s.detail[k] = v
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.logger.Debug("Update state advanced",
		slog.Uint64("sequence", s.sequence),
		slog.String("status", status),
	)
	return s.sequence
}

func (s *Simulator) stateLocked() map[string]any {
	detail := make(map[string]any, len(s.detail))
	for k, v := range s.detail {
		detail[k] = v
	}
	return map[string]any{
		"sequence": s.sequence,
		"status":   s.status,
		"detail":   detail,
	}
}

// wait blocks until the sequence passes p.LastSequence, the request timeout
// elapses, or ctx ends. On timeout it returns the unchanged current state.
func (s *Simulator) wait(ctx context.Context, p launcher.WaitParams) any {
	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = config.DefaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.sequence > p.LastSequence {
			state := s.stateLocked()
			s.mu.Unlock()
			return wrap(state)
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			s.mu.Lock()
			defer s.mu.Unlock()
			return wrap(s.stateLocked())
		case <-ctx.Done():
			return wrap(nil)
		case <-s.stop:
			return wrap(nil)
		}
	}
}

func (s *Simulator) checkForUpdates() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked("checking", nil)
	if s.cfg.UpdateVersion == "" {
		s.advanceLocked("not_available", map[string]any{"current_version": s.cfg.Version})
		return wrap(map[string]any{"checking": true, "update_available": false})
	}
	s.advanceLocked("available", map[string]any{
		"version":         s.cfg.UpdateVersion,
		"current_version": s.cfg.Version,
	})
	return wrap(map[string]any{"checking": true, "update_available": true, "version": s.cfg.UpdateVersion})
}

func (s *Simulator) downloadUpdate() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != "available" {
		return wrap(map[string]any{"started": false, "status": s.status})
	}
	version := s.cfg.UpdateVersion
	s.advanceLocked("downloading", map[string]any{"version": version, "percent": 0})

	if s.cfg.StepDelay > 0 {
		s.wg.Add(1)
		go s.progress(version)
	}
	return wrap(map[string]any{"started": true, "version": version})
}

// progress walks downloading -> downloaded -> ready_to_install.
func (s *Simulator) progress(version string) {
	defer s.wg.Done()

	steps := []struct {
		status string
		detail map[string]any
	}{
		{"downloading", map[string]any{"version": version, "percent": 50}},
		{"downloaded", map[string]any{"version": version, "percent": 100}},
		{"ready_to_install", map[string]any{"version": version}},
	}
	for _, step := range steps {
		select {
		case <-s.stop:
			return
		case <-time.After(s.cfg.StepDelay):
		}
		s.Advance(step.status, step.detail)
	}
}

func (s *Simulator) quitAndInstall() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := s.status == "ready_to_install" || s.status == "downloaded"
	if accepted {
		s.quit = true
	}
	return wrap(map[string]any{"accepted": accepted})
}
