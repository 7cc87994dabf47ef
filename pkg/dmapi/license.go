package dmapi

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dmsdk/internal/license"
)

// VerifyLicense runs one verify exchange. An unauthenticated answer is the
// zero VerifyResult with a nil error; errors are reserved for a missing
// connection, a broken transport and ctx.
func (a *API) VerifyLicense(ctx context.Context) (VerifyResult, error) {
	return a.license.VerifyLicense(ctx)
}

// ActivateLicense runs one activate exchange with the same error rules as
// VerifyLicense.
func (a *API) ActivateLicense(ctx context.Context) (ActivateResult, error) {
	return a.license.ActivateLicense(ctx)
}

// VerifyAndActivate connects to Endpoint when not yet connected, verifies
// the license and activates it when verification does not report it valid.
// A non-positive timeout uses the configured connect timeout. The result
// never says which check failed.
func (a *API) VerifyAndActivate(ctx context.Context, timeout time.Duration) Result {
	endpoint := a.Endpoint()
	if strings.TrimSpace(endpoint) != "" && timeout > 0 && !a.session.IsConnected() {
		if err := a.session.Connect(ctx, endpoint, timeout); err != nil {
			a.logger.LogAttrs(ctx, slog.LevelError, "Failed to connect to launcher",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return Result{Error: license.MsgActivationCancel}
			}
			return Result{Error: license.MsgConnectFailed}
		}
	}
	return a.license.VerifyThenActivate(ctx, endpoint)
}
