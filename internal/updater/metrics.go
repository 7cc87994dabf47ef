package updater

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	TracerName = "dmsdk/updater"
	MeterName  = "dmsdk/updater"
)

// Poll outcomes.
const (
	outcomeChanged  = "changed"
	outcomeNoChange = "no_change"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// Metrics holds update tracking instruments. A nil *Metrics records nothing.
type Metrics struct {
	Requests     metric.Int64Counter
	Polls        metric.Int64Counter
	PollDuration metric.Float64Histogram
	StateChanges metric.Int64Counter
	LastSequence metric.Int64Gauge
}

// NewMetrics creates the instruments from meter. A nil meter yields no-op
// instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &Metrics{}
	var err error

	if m.Requests, err = meter.Int64Counter(
		"update_requests_total",
		metric.WithDescription("Update method calls sent to the launcher"),
	); err != nil {
		return nil, fmt.Errorf("failed to create update requests counter: %w", err)
	}

	if m.Polls, err = meter.Int64Counter(
		"update_state_polls_total",
		metric.WithDescription("Long-poll requests for update state changes"),
	); err != nil {
		return nil, fmt.Errorf("failed to create polls counter: %w", err)
	}

	if m.PollDuration, err = meter.Float64Histogram(
		"update_state_poll_duration_seconds",
		metric.WithDescription("Time a long-poll request stayed open"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create poll duration histogram: %w", err)
	}

	if m.StateChanges, err = meter.Int64Counter(
		"update_state_changes_total",
		metric.WithDescription("Observed update state changes by status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create state changes counter: %w", err)
	}

	if m.LastSequence, err = meter.Int64Gauge(
		"update_state_sequence",
		metric.WithDescription("Sequence of the most recently observed update state"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sequence gauge: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordRequest(ctx context.Context, method string, ok bool) {
	if m == nil {
		return
	}
	m.Requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) recordPoll(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Polls.Add(ctx, 1, attrs)
	m.PollDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) recordChange(ctx context.Context, state *State) {
	if m == nil || state == nil {
		return
	}
	m.StateChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(state.Status))))
	m.LastSequence.Record(ctx, int64(state.Sequence))
}
