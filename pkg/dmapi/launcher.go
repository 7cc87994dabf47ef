package dmapi

import (
	"context"
	"encoding/json"
	"log/slog"

	dmerrors "dmsdk/internal/errors"
	"dmsdk/pkg/contracts"
	"dmsdk/pkg/contracts/launcher"
)

// LibraryVersion returns the version of this SDK. It needs no launcher.
func LibraryVersion() string {
	return contracts.Version
}

// Initiated tells the launcher that the application finished starting.
// A launcher that does not acknowledge is reported as a protocol error.
func (a *API) Initiated(ctx context.Context) error {
	var res launcher.InitiatedResult
	if err := a.callData(ctx, "dmapi.initiated", launcher.MethodInitiated, &res); err != nil {
		return err
	}
	if !res.Acknowledged {
		return dmerrors.Protocol("dmapi.initiated", "launcher did not acknowledge initiated")
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "Launcher notified of startup")
	return nil
}

// Version returns the version the launcher reports. See LibraryVersion for
// the SDK's own.
func (a *API) Version(ctx context.Context) (string, error) {
	var res launcher.VersionResult
	if err := a.callData(ctx, "dmapi.version", launcher.MethodVersion, &res); err != nil {
		return "", err
	}
	if res.Version == "" {
		return "", dmerrors.Protocol("dmapi.version", "launcher reported no version")
	}
	return res.Version, nil
}

// callData sends method with no parameters and decodes the data object of
// the answer into out.
func (a *API) callData(ctx context.Context, op, method string, out any) error {
	raw, err := a.session.Call(ctx, method, nil)
	if err != nil {
		return err
	}
	var env launcher.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return dmerrors.Wrap(dmerrors.KindProtocol, op, dmerrors.ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return dmerrors.Wrap(dmerrors.KindProtocol, op, dmerrors.ErrMalformedEnvelope)
	}
	return nil
}
