package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	licenseErrors "dmsdk/internal/errors"
)

const (
	TracerName = "dmsdk/license"
	MeterName  = "dmsdk/license"
)

// Metrics holds the license protocol instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	VerifyAttempts metric.Int64Counter
	VerifySuccess  metric.Int64Counter
	VerifyFailures metric.Int64Counter
	VerifyDuration metric.Float64Histogram

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	// SignatureRejections counts envelopes that were well formed but failed
	// the signature check.
	SignatureRejections metric.Int64Counter
	RetryWaits          metric.Float64Histogram
	HardErrors          metric.Int64Counter
}

// NewMetrics creates all license instruments from meter. A nil meter yields
// no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &Metrics{}
	var err error

	if m.VerifyAttempts, err = meter.Int64Counter(
		"license_verify_attempts_total",
		metric.WithDescription("Total number of license verification challenges sent"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify attempts counter: %w", err)
	}

	if m.VerifySuccess, err = meter.Int64Counter(
		"license_verify_success_total",
		metric.WithDescription("Total number of verification responses that passed the signature check"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify success counter: %w", err)
	}

	if m.VerifyFailures, err = meter.Int64Counter(
		"license_verify_failures_total",
		metric.WithDescription("Total number of verification exchanges that ended invalid"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify failures counter: %w", err)
	}

	if m.VerifyDuration, err = meter.Float64Histogram(
		"license_verify_duration_seconds",
		metric.WithDescription("License verification round-trip duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify duration histogram: %w", err)
	}

	if m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation challenges sent"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	if m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	if m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of activation exchanges that did not activate"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	if m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation round-trip duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	if m.SignatureRejections, err = meter.Int64Counter(
		"license_signature_rejections_total",
		metric.WithDescription("Total number of signed objects rejected by the verifier"),
	); err != nil {
		return nil, fmt.Errorf("failed to create signature rejections counter: %w", err)
	}

	if m.RetryWaits, err = meter.Float64Histogram(
		"license_activation_backoff_seconds",
		metric.WithDescription("Backoff waited before an activation retry"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create retry wait histogram: %w", err)
	}

	if m.HardErrors, err = meter.Int64Counter(
		"license_hard_errors_total",
		metric.WithDescription("Configuration and connectivity errors surfaced to callers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create hard errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordExchange(ctx context.Context, method string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("component", "license_client"),
	)
	switch method {
	case "activate":
		m.ActivationAttempts.Add(ctx, 1, attrs)
		m.ActivationDuration.Record(ctx, duration.Seconds(), attrs)
		if ok {
			m.ActivationSuccess.Add(ctx, 1, attrs)
		} else {
			m.ActivationFailures.Add(ctx, 1, attrs)
		}
	default:
		m.VerifyAttempts.Add(ctx, 1, attrs)
		m.VerifyDuration.Record(ctx, duration.Seconds(), attrs)
		if ok {
			m.VerifySuccess.Add(ctx, 1, attrs)
		} else {
			m.VerifyFailures.Add(ctx, 1, attrs)
		}
	}
}

func (m *Metrics) recordRejection(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.SignatureRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) recordBackoff(ctx context.Context, wait time.Duration) {
	if m == nil {
		return
	}
	m.RetryWaits.Record(ctx, wait.Seconds())
}

func (m *Metrics) recordHardError(ctx context.Context, method string, err error) {
	if m == nil {
		return
	}
	m.HardErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("kind", string(licenseErrors.KindOf(err))),
	))
}
