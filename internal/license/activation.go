package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dmsdk/internal/config"
	licenseErrors "dmsdk/internal/errors"
)

// DefaultConnectTimeout is used when VerifyThenActivate opens the session.
const DefaultConnectTimeout = config.DefaultConnectTimeout

// Messages reported by VerifyThenActivate. They are intentionally coarse.
const (
	MsgEndpointMissing  = "launcher endpoint not configured"
	MsgConnectFailed    = "failed to connect to license service"
	MsgNotActivated     = "license activation did not succeed"
	MsgActivationCancel = "license activation cancelled"
	MsgNotConfigured    = "license service not configured"
)

var errNotActivated = errors.New("activation not accepted")

// RetryPolicy bounds the activation loop. A zero MaxAttempts or MaxElapsed
// disables that bound; the context always applies.
type RetryPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         int
	MaxElapsed          time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicyFrom(config.Default().Retry)
}

// RetryPolicyFrom converts the retry section of the configuration.
func RetryPolicyFrom(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		InitialInterval:     cfg.InitialInterval,
		MaxInterval:         cfg.MaxInterval,
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
		MaxAttempts:         cfg.MaxAttempts,
		MaxElapsed:          cfg.MaxElapsed,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.MaxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = backoff.DefaultInitialInterval
	}
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.Reset()

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// VerifyThenActivate connects to endpoint when the session is not already
// open, verifies the license and, unless the launcher reports it valid,
// activates it with exponential backoff between attempts. The loop ends on
// activation, on the policy's attempt or time bound, on a hard error, or
// when ctx is done.
func (c *Client) VerifyThenActivate(ctx context.Context, endpoint string) Result {
	ctx, span := c.tracer.Start(ctx, "license.verify_then_activate")
	defer span.End()

	result := c.verifyThenActivate(ctx, endpoint, span.SetAttributes)
	if result.Success {
		span.SetStatus(codes.Ok, "License ready")
	} else {
		span.SetStatus(codes.Error, result.Error)
	}
	c.status.recordResult(result)
	return result
}

func (c *Client) verifyThenActivate(ctx context.Context, endpoint string, annotate func(...attribute.KeyValue)) Result {
	if strings.TrimSpace(endpoint) == "" {
		c.metrics.recordHardError(ctx, "connect", licenseErrors.ErrEndpointMissing)
		c.logger.LogAttrs(ctx, slog.LevelError, "License check aborted",
			slog.String("error", licenseErrors.ErrEndpointMissing.Error()),
		)
		return Result{Error: MsgEndpointMissing}
	}

	if !c.session.IsConnected() {
		if err := c.session.Connect(ctx, endpoint, c.connectTimeout); err != nil {
			c.metrics.recordHardError(ctx, "connect", err)
			c.logger.LogAttrs(ctx, slog.LevelError, "Failed to connect to launcher",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return Result{Error: MsgActivationCancel}
			}
			return Result{Error: MsgConnectFailed}
		}
	}

	verified, err := c.VerifyLicense(ctx)
	if err != nil {
		return c.failure(ctx, err)
	}
	if verified.LicenseValid() {
		annotate(attribute.Bool("license.activation_required", false))
		c.logger.LogAttrs(ctx, slog.LevelInfo, "License verified")
		return Result{Success: true}
	}
	annotate(attribute.Bool("license.activation_required", true))

	attempts := 0
	operation := func() error {
		attempts++
		activated, err := c.ActivateLicense(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !activated.Activated {
			return errNotActivated
		}
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		c.metrics.recordBackoff(ctx, wait)
		c.logger.LogAttrs(ctx, slog.LevelDebug, "License activation not accepted, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
		)
	}

	err = backoff.RetryNotify(operation, c.retry.backOff(ctx), notify)
	annotate(attribute.Int("license.activation_attempts", attempts))
	c.status.recordAttempts(attempts, err == nil)
	if err != nil {
		if errors.Is(err, errNotActivated) {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "License activation exhausted",
				slog.Int("attempts", attempts),
			)
			return Result{Error: MsgNotActivated}
		}
		return c.failure(ctx, err)
	}

	c.logger.LogAttrs(ctx, slog.LevelInfo, "License activated", slog.Int("attempts", attempts))
	return Result{Success: true}
}

func (c *Client) failure(ctx context.Context, err error) Result {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.logger.LogAttrs(ctx, slog.LevelWarn, "License check cancelled", slog.String("error", err.Error()))
		return Result{Error: MsgActivationCancel}
	case licenseErrors.IsKind(err, licenseErrors.KindConfiguration):
		c.logger.LogAttrs(ctx, slog.LevelError, "License check misconfigured", slog.String("error", err.Error()))
		return Result{Error: MsgNotConfigured}
	case licenseErrors.IsKind(err, licenseErrors.KindConnectivity):
		c.logger.LogAttrs(ctx, slog.LevelError, "Lost connection to launcher", slog.String("error", err.Error()))
		return Result{Error: MsgConnectFailed}
	default:
		c.logger.LogAttrs(ctx, slog.LevelError, "License check failed", slog.String("error", err.Error()))
		return Result{Error: MsgNotActivated}
	}
}
