package dmapi

import (
	"context"
	"time"

	"dmsdk/internal/updater"
)

// CheckForUpdates asks the launcher to look for an update and returns the
// data object of its answer, or nil when the answer was unusable. The
// lifecycle itself is observed through GetUpdateState.
func (a *API) CheckForUpdates(ctx context.Context, options map[string]any) (map[string]any, error) {
	return a.updates.CheckForUpdates(ctx, options)
}

// CheckForUpdate is CheckForUpdates.
func (a *API) CheckForUpdate(ctx context.Context, options map[string]any) (map[string]any, error) {
	return a.CheckForUpdates(ctx, options)
}

// DownloadUpdate asks the launcher to download the available update.
func (a *API) DownloadUpdate(ctx context.Context, options map[string]any) (map[string]any, error) {
	return a.updates.DownloadUpdate(ctx, options)
}

// GetUpdateState returns the current state, or nil when the launcher gave
// no usable answer.
func (a *API) GetUpdateState(ctx context.Context) (*UpdateState, error) {
	return a.updates.GetUpdateState(ctx)
}

// WaitForUpdateStateChange blocks until the launcher reports a sequence
// above lastSequence. It returns nil with a nil error on timeout and when
// the sequence did not advance. A non-positive timeout uses
// DefaultWaitTimeout.
func (a *API) WaitForUpdateStateChange(ctx context.Context, lastSequence uint64, timeout time.Duration) (*UpdateState, error) {
	return a.updates.WaitForStateChange(ctx, lastSequence, timeout)
}

// QuitAndInstall asks the launcher to quit and install the downloaded
// update, and reports whether it accepted.
func (a *API) QuitAndInstall(ctx context.Context, options map[string]any) (bool, error) {
	return a.updates.QuitAndInstall(ctx, options)
}

// WatchOptions tunes Watch.
type WatchOptions struct {
	// From is the last sequence already seen. Zero starts from the current
	// state, which is delivered first.
	From uint64
	// MinInterval spaces consecutive long-polls.
	MinInterval time.Duration
	// Timeout bounds each long-poll; zero uses DefaultWaitTimeout.
	Timeout time.Duration
}

// Watch calls handle for every newer update state until ctx is done, which
// returns nil, or the connection fails, which returns the error.
func (a *API) Watch(ctx context.Context, opts WatchOptions, handle func(context.Context, UpdateState)) error {
	w := updater.NewWatcher(a.updates, opts.MinInterval, opts.Timeout, a.logger)
	return w.Run(ctx, opts.From, handle)
}
