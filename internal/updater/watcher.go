package updater

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dmsdk/internal/infrastructure"
)

// StateHandler receives every state the watcher observes, in sequence
// order.
type StateHandler func(ctx context.Context, state State)

// Watcher follows the update lifecycle through repeated long-polls.
type Watcher struct {
	tracker *Tracker
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.RWMutex
	last *State
}

// NewWatcher creates a watcher. minInterval is the shortest time between
// two long-poll requests, so a launcher that answers immediately cannot
// make the loop spin. timeout is the per-request long-poll timeout.
func NewWatcher(tracker *Tracker, minInterval, timeout time.Duration, logger *slog.Logger) *Watcher {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Watcher{
		tracker: tracker,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		logger:  infrastructure.ComponentLogger(logger, "update_watcher"),
	}
}

// Last returns the most recent state observed, or nil.
func (w *Watcher) Last() *State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return nil
	}
	s := *w.last
	return &s
}

// Run polls until ctx is done or the tracker returns a hard error. With
// from == 0 it first reads the current snapshot and hands it to handle.
// A cancelled ctx ends Run with a nil error.
func (w *Watcher) Run(ctx context.Context, from uint64, handle StateHandler) error {
	if from == 0 {
		state, err := w.tracker.GetUpdateState(ctx)
		if err != nil {
			return w.exit(ctx, err)
		}
		if state != nil {
			w.deliver(ctx, *state, handle)
			from = state.Sequence
		}
	}

	w.logger.Debug("Watching update state", slog.Uint64("from", from))
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return w.exit(ctx, err)
		}

		state, err := w.tracker.WaitForStateChange(ctx, from, w.timeout)
		if err != nil {
			return w.exit(ctx, err)
		}
		if !state.Newer(from) {
			continue
		}
		w.deliver(ctx, *state, handle)
		from = state.Sequence
	}
}

func (w *Watcher) deliver(ctx context.Context, state State, handle StateHandler) {
	w.mu.Lock()
	prev := w.last
	w.last = &state
	w.mu.Unlock()

	if prev != nil && !ValidTransition(prev.Status, state.Status) {
		w.logger.Warn("Unexpected update transition",
			slog.String("from", prev.RawStatus),
			slog.String("to", state.RawStatus),
			slog.Uint64("sequence", state.Sequence),
		)
	}
	if handle != nil {
		handle(ctx, state)
	}
}

func (w *Watcher) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	w.logger.Warn("Update watcher stopped", slog.String("error", err.Error()))
	return err
}
