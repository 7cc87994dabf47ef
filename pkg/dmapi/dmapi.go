package dmapi

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	"dmsdk/internal/transport/pipe"
	"dmsdk/internal/updater"
)

// Defaults for Connect and WaitForUpdateStateChange.
const (
	DefaultConnectTimeout = config.DefaultConnectTimeout
	DefaultWaitTimeout    = config.DefaultWaitTimeout
)

// PipeEnv names the variable the launcher sets to its endpoint.
const PipeEnv = config.PipeEnv

type (
	// Result is the outcome of VerifyAndActivate.
	Result = license.Result
	// VerifyResult is an authenticated verify answer, or the zero value.
	VerifyResult = license.VerifyResult
	// ActivateResult is an authenticated activate answer, or the zero value.
	ActivateResult = license.ActivateResult
	// RetryPolicy bounds the activation loop of VerifyAndActivate.
	RetryPolicy = license.RetryPolicy
	// StatusRecorder keeps a summary of the latest license outcome.
	StatusRecorder = license.StatusRecorder
	// UpdateState is one snapshot of the update lifecycle.
	UpdateState = updater.State
	// UpdateStatus is the normalised lifecycle status.
	UpdateStatus = updater.Status
)

// NewStatusRecorder creates an empty recorder for WithStatusRecorder.
func NewStatusRecorder() *StatusRecorder {
	return license.NewStatusRecorder()
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return license.DefaultRetryPolicy()
}

// API talks to the launcher over one connection.
type API struct {
	session  *pipe.Client
	license  *license.Client
	updates  *updater.Tracker
	endpoint string
	logger   *slog.Logger
}

type options struct {
	logger         *slog.Logger
	endpoint       string
	retry          *RetryPolicy
	connectTimeout time.Duration
	requestTimeout time.Duration
	meter          metric.Meter
	status         *StatusRecorder
	dialer         pipe.DialFunc
}

// Option configures an API.
type Option func(*options)

// WithLogger sets the logger used by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEndpoint sets the endpoint VerifyAndActivate connects to instead of
// the one in DM_PIPE.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithRetryPolicy bounds the activation loop.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = &p }
}

// WithConnectTimeout sets the timeout VerifyAndActivate uses when it is
// given none.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithRequestTimeout bounds each launcher round-trip made with a ctx that
// has no deadline. By default the connect timeout is used.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithMeter records license and update instruments into meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithStatusRecorder publishes license outcomes to r.
func WithStatusRecorder(r *StatusRecorder) Option {
	return func(o *options) { o.status = r }
}

// WithDialer replaces how endpoints are dialled.
func WithDialer(dial pipe.DialFunc) Option {
	return func(o *options) { o.dialer = dial }
}

// New creates a disconnected API that authenticates responses with the PEM
// encoded RSA public key. A missing or unusable key is a configuration
// error.
func New(publicKeyPEM string, opts ...Option) (*API, error) {
	key, err := license.ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	o := options{connectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	pipeOpts := []pipe.ClientOption{pipe.WithClientLogger(o.logger)}
	if o.dialer != nil {
		pipeOpts = append(pipeOpts, pipe.WithDialer(o.dialer))
	}
	if o.requestTimeout > 0 {
		pipeOpts = append(pipeOpts, pipe.WithRequestTimeout(o.requestTimeout))
	}
	session := pipe.NewClient(pipeOpts...)

	licenseOpts := []license.Option{
		license.WithLogger(o.logger),
		license.WithConnectTimeout(o.connectTimeout),
		license.WithStatusRecorder(o.status),
	}
	if o.retry != nil {
		licenseOpts = append(licenseOpts, license.WithRetryPolicy(*o.retry))
	}
	updaterOpts := []updater.Option{updater.WithLogger(o.logger)}

	if o.meter != nil {
		licenseMetrics, err := license.NewMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		updateMetrics, err := updater.NewMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		licenseOpts = append(licenseOpts, license.WithMetrics(licenseMetrics))
		updaterOpts = append(updaterOpts, updater.WithMetrics(updateMetrics))
	}

	return &API{
		session:  session,
		license:  license.NewClient(session, key, licenseOpts...),
		updates:  updater.NewTracker(session, updaterOpts...),
		endpoint: o.endpoint,
		logger:   infrastructure.ComponentLogger(o.logger, "dmapi"),
	}, nil
}

// Connect opens the launcher connection. A non-positive timeout uses
// DefaultConnectTimeout.
func (a *API) Connect(ctx context.Context, endpoint string, timeout time.Duration) error {
	return a.session.Connect(ctx, endpoint, timeout)
}

// Close closes the launcher connection.
func (a *API) Close() error {
	return a.session.Close()
}

// IsConnected reports whether the connection is open and healthy.
func (a *API) IsConnected() bool {
	return a.session.IsConnected()
}

// Endpoint returns the endpoint VerifyAndActivate would use: the one
// configured with WithEndpoint, else DM_PIPE.
func (a *API) Endpoint() string {
	if a.endpoint != "" {
		return a.endpoint
	}
	return os.Getenv(PipeEnv)
}
