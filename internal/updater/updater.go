package updater

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dmsdk/internal/config"
	updateErrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/pkg/contracts/launcher"
)

// DefaultWaitTimeout is the long-poll timeout when none is given.
const DefaultWaitTimeout = config.DefaultWaitTimeout

// waitGrace is how long past the requested timeout the launcher may take to
// answer a long-poll before the exchange is abandoned.
const waitGrace = 5 * time.Second

// Caller sends one launcher request and returns the raw result envelope.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Tracker exposes the launcher's update methods.
//
// Calls return (nil, nil) when the launcher's answer is absent or malformed.
// Only configuration errors, connectivity errors and cancellation are
// returned as errors.
type Tracker struct {
	caller  Caller
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics sets the instruments the tracker records into.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker over caller.
func NewTracker(caller Caller, opts ...Option) *Tracker {
	t := &Tracker{
		caller: caller,
		tracer: otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = infrastructure.ComponentLogger(t.logger, "update_tracker")
	return t
}

// CheckForUpdates asks the launcher to look for an update and returns the
// data object of its answer. options may be nil.
func (t *Tracker) CheckForUpdates(ctx context.Context, options map[string]any) (map[string]any, error) {
	return t.fireAndObserve(ctx, launcher.MethodCheckForUpdates, options)
}

// DownloadUpdate asks the launcher to download the available update.
func (t *Tracker) DownloadUpdate(ctx context.Context, options map[string]any) (map[string]any, error) {
	return t.fireAndObserve(ctx, launcher.MethodDownloadUpdate, options)
}

// GetUpdateState returns the current state snapshot.
func (t *Tracker) GetUpdateState(ctx context.Context) (*State, error) {
	ctx, span := t.tracer.Start(ctx, "update.get_state")
	defer span.End()

	data, err := t.call(ctx, launcher.MethodGetUpdateState, nil)
	if err != nil || data == nil {
		endSpan(span, err)
		return nil, err
	}
	state, ok := ParseState(data)
	if !ok {
		t.logger.Debug("Malformed update state", slog.String("method", launcher.MethodGetUpdateState))
		return nil, nil
	}
	span.SetAttributes(attribute.Int64("update.sequence", int64(state.Sequence)))
	return state, nil
}

// WaitForStateChange blocks until the launcher reports a sequence greater
// than lastSequence or timeout elapses. It returns (nil, nil) on timeout,
// when the launcher repeats a sequence it already reported, and on a
// malformed answer. A non-positive timeout uses DefaultWaitTimeout.
func (t *Tracker) WaitForStateChange(ctx context.Context, lastSequence uint64, timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	ctx, span := t.tracer.Start(ctx, "update.wait_for_state_change", trace.WithAttributes(
		attribute.Int64("update.last_sequence", int64(lastSequence)),
		attribute.Int64("update.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout+waitGrace)
	defer cancel()

	start := time.Now()
	data, err := t.call(callCtx, launcher.MethodWaitForUpdateStateChange, launcher.WaitParams{
		LastSequence: lastSequence,
		TimeoutMS:    timeout.Milliseconds(),
	})
	if err != nil {
		t.metrics.recordPoll(ctx, outcomeError, time.Since(start))
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = updateErrors.Connectivity("updater.wait", errors.New("launcher did not answer long-poll before its timeout"))
		}
		endSpan(span, err)
		return nil, err
	}

	state, ok := ParseState(data)
	switch {
	case !ok:
		t.metrics.recordPoll(ctx, outcomeTimeout, time.Since(start))
		span.SetAttributes(attribute.String("update.outcome", outcomeTimeout))
		return nil, nil
	case !state.Newer(lastSequence):
		t.metrics.recordPoll(ctx, outcomeNoChange, time.Since(start))
		span.SetAttributes(attribute.String("update.outcome", outcomeNoChange))
		return nil, nil
	}

	t.metrics.recordPoll(ctx, outcomeChanged, time.Since(start))
	t.metrics.recordChange(ctx, state)
	span.SetAttributes(
		attribute.String("update.outcome", outcomeChanged),
		attribute.Int64("update.sequence", int64(state.Sequence)),
		attribute.String("update.status", string(state.Status)),
	)
	t.logger.Debug("Update state changed",
		slog.Uint64("sequence", state.Sequence),
		slog.String("status", state.RawStatus),
	)
	return state, nil
}

// QuitAndInstall asks the launcher to quit the application and install the
// downloaded update. The result is whether the launcher accepted; the
// process may exit before any later state is observable.
func (t *Tracker) QuitAndInstall(ctx context.Context, options map[string]any) (bool, error) {
	ctx, span := t.tracer.Start(ctx, "update.quit_and_install")
	defer span.End()

	data, err := t.call(ctx, launcher.MethodQuitAndInstall, paramsOrEmpty(options))
	if err != nil || data == nil {
		endSpan(span, err)
		return false, err
	}
	accepted, _ := data["accepted"].(bool)
	span.SetAttributes(attribute.Bool("update.accepted", accepted))
	t.logger.Info("Quit and install requested", slog.Bool("accepted", accepted))
	return accepted, nil
}

func (t *Tracker) fireAndObserve(ctx context.Context, method string, options map[string]any) (map[string]any, error) {
	ctx, span := t.tracer.Start(ctx, "update."+method)
	defer span.End()

	data, err := t.call(ctx, method, paramsOrEmpty(options))
	endSpan(span, err)
	return data, err
}

// call sends method and unwraps the data object. A nil map with a nil error
// means the answer was unusable.
func (t *Tracker) call(ctx context.Context, method string, params any) (map[string]any, error) {
	raw, err := t.caller.Call(ctx, method, params)
	if err != nil {
		t.metrics.recordRequest(ctx, method, false)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if updateErrors.IsHard(err) {
			t.logger.Warn("Update request failed", slog.String("method", method), slog.String("error", err.Error()))
			return nil, err
		}
		t.logger.Debug("Update request rejected", slog.String("method", method), slog.String("error", err.Error()))
		return nil, nil
	}

	data, ok := unwrapData(raw)
	t.metrics.recordRequest(ctx, method, ok)
	if !ok {
		t.logger.Debug("Update response has no data object", slog.String("method", method))
		return nil, nil
	}
	return data, nil
}

func paramsOrEmpty(options map[string]any) any {
	if options == nil {
		return map[string]any{}
	}
	return options
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
