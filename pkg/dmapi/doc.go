// Package dmapi is the application-facing API of the launcher SDK.
//
// An application started by the launcher finds the launcher endpoint in the
// DM_PIPE environment variable. The usual startup is:
//
//	api, err := dmapi.New(publicKeyPEM)
//	if err != nil {
//	    return err
//	}
//	defer api.Close()
//
//	if res := api.VerifyAndActivate(ctx, 0); !res.Success {
//	    return errors.New(res.Error)
//	}
//	if err := api.Initiated(ctx); err != nil {
//	    return err
//	}
//
// Every response is authenticated against the public key. Verification
// failures are never returned as errors: VerifyLicense and ActivateLicense
// return zero results, and VerifyAndActivate reports a fixed message.
//
// Update operations forward to the launcher's updater. WaitForUpdateStateChange
// long-polls for a newer state, and Watch wraps it in a loop.
//
// An API holds one launcher connection. Calls on it are serialised, so a
// long-poll delays every other call until it returns.
package dmapi
