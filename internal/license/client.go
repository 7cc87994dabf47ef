package license

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

	"dmsdk/internal/canonical"
	licenseErrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/pkg/contracts/launcher"
)

const (
	verificationField = "verification"
	activationField   = "activation"
	onlineField       = "is_online"
	successField      = "success"
	dataField         = "data"
)

// Session is the launcher connection the protocol runs over. Call sends one
// request and returns the raw result envelope of the matching response.
// Implementations serialise calls; one exchange is in flight at a time.
type Session interface {
	Connect(ctx context.Context, endpoint string, timeout time.Duration) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	IsConnected() bool
	Close() error
}

// Client runs the challenge-response protocol against a launcher.
type Client struct {
	session        Session
	verifier       *Verifier
	nonce          NonceFunc
	retry          RetryPolicy
	connectTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	status         *StatusRecorder
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The component attribute is added by the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the instruments the client records into.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithNonceFunc replaces the nonce source. Only tests should need this.
func WithNonceFunc(fn NonceFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.nonce = fn
		}
	}
}

// WithRetryPolicy sets the activation backoff policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithConnectTimeout sets the timeout used by VerifyThenActivate when it
// has to open the session.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithTracer sets the tracer used for protocol spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithStatusRecorder makes the client publish outcome summaries.
func WithStatusRecorder(r *StatusRecorder) Option {
	return func(c *Client) { c.status = r }
}

// NewClient creates a client that verifies every response with key.
func NewClient(session Session, key *PublicKey, opts ...Option) *Client {
	c := &Client{
		session:        session,
		verifier:       NewVerifier(key),
		nonce:          NewNonce,
		retry:          DefaultRetryPolicy(),
		connectTimeout: DefaultConnectTimeout,
		tracer:         otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infrastructure.ComponentLogger(c.logger, "license_client")
	return c
}

// VerifyLicense sends a verify challenge and checks the signed verification
// object. Protocol and verification failures return the zero VerifyResult
// with a nil error; only configuration, connectivity and cancellation errors
// are returned.
func (c *Client) VerifyLicense(ctx context.Context) (VerifyResult, error) {
	ctx, span := c.tracer.Start(ctx, "license.verify", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	data, signed, err := c.exchange(ctx, launcher.MethodVerify, verificationField)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return VerifyResult{}, err
	}
	if signed == nil {
		span.SetStatus(codes.Error, "license verification invalid")
		c.status.recordVerify(VerifyResult{})
		return VerifyResult{}, nil
	}

	result := VerifyResult{Valid: true, Verification: signed.Clone()}
	if online, ok := data[onlineField].(bool); ok {
		result.IsOnline = &online
	}

	span.SetAttributes(attribute.Bool("license.valid", result.LicenseValid()))
	span.SetStatus(codes.Ok, "License verification response authenticated")
	c.status.recordVerify(result)
	return result, nil
}

// ActivateLicense sends an activate challenge and checks the signed
// activation object. Error semantics match VerifyLicense.
func (c *Client) ActivateLicense(ctx context.Context) (ActivateResult, error) {
	ctx, span := c.tracer.Start(ctx, "license.activate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	_, signed, err := c.exchange(ctx, launcher.MethodActivate, activationField)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ActivateResult{}, err
	}
	if signed == nil {
		span.SetStatus(codes.Error, "license not activated")
		return ActivateResult{}, nil
	}

	span.SetStatus(codes.Ok, "License activation response authenticated")
	return ActivateResult{Activated: true, Activation: signed.Clone()}, nil
}

// exchange performs one challenge round-trip. It returns the data object
// and the authenticated nested object, or two nils when the response must
// be treated as invalid.
func (c *Client) exchange(ctx context.Context, method, field string) (map[string]any, Payload, error) {
	start := time.Now()

	nonce, err := c.nonce()
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelError, "Failed to generate challenge nonce",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		c.metrics.recordExchange(ctx, method, time.Since(start), false)
		return nil, nil, nil
	}

	raw, err := c.session.Call(ctx, method, launcher.ChallengeParams{Nonce: nonce})
	if err != nil {
		if hard := surfaceable(ctx, err); hard != nil {
			c.metrics.recordHardError(ctx, method, hard)
			c.logger.LogAttrs(ctx, slog.LevelWarn, "Launcher call failed",
				slog.String("method", method),
				slog.String("error", hard.Error()),
			)
			return nil, nil, hard
		}
		c.logger.LogAttrs(ctx, slog.LevelDebug, "Launcher call rejected",
			slog.String("method", method),
			slog.String("nonce", maskNonce(nonce)),
			slog.String("error", err.Error()),
		)
		c.metrics.recordExchange(ctx, method, time.Since(start), false)
		return nil, nil, nil
	}

	data, signed, reason := openEnvelope(raw, field)
	if signed == nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "Launcher response not usable",
			slog.String("method", method),
			slog.String("nonce", maskNonce(nonce)),
			slog.String("reason", reason),
		)
		c.metrics.recordExchange(ctx, method, time.Since(start), false)
		return nil, nil, nil
	}

	if !c.verifier.Verify(signed, nonce) {
		c.metrics.recordRejection(ctx, method)
		c.metrics.recordExchange(ctx, method, time.Since(start), false)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "Launcher response failed signature verification",
			slog.String("method", method),
			slog.String("nonce", maskNonce(nonce)),
		)
		infrastructure.AddSpanEvent(ctx, "license.signature_rejected", map[string]interface{}{
			"method": method,
		})
		return nil, nil, nil
	}

	c.metrics.recordExchange(ctx, method, time.Since(start), true)
	c.logger.LogAttrs(ctx, slog.LevelDebug, "Launcher response authenticated",
		slog.String("method", method),
		slog.String("nonce", maskNonce(nonce)),
		slog.Duration("duration", time.Since(start)),
	)
	return data, signed, nil
}

// openEnvelope unwraps {"data":{"success":true,<field>:{...}}}. The reason
// is for debug logs only and never reaches callers.
func openEnvelope(raw json.RawMessage, field string) (map[string]any, Payload, string) {
	if len(raw) == 0 {
		return nil, nil, "empty response"
	}
	v, err := canonical.Parse(raw)
	if err != nil {
		return nil, nil, "unparseable envelope"
	}
	envelope, ok := v.(map[string]any)
	if !ok {
		return nil, nil, "envelope is not an object"
	}
	data, ok := envelope[dataField].(map[string]any)
	if !ok {
		return nil, nil, "missing data object"
	}
	if success, _ := data[successField].(bool); !success {
		return nil, nil, "success flag not set"
	}
	signed, ok := data[field].(map[string]any)
	if !ok {
		return nil, nil, "missing " + field + " object"
	}
	return data, Payload(signed), ""
}

// surfaceable returns the error a caller must see, or nil when err should
// collapse into an invalid outcome.
func surfaceable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if licenseErrors.IsHard(err) {
		return err
	}
	return nil
}
