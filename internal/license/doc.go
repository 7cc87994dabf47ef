// Package license authenticates license responses from the launcher that
// supervises the application.
//
// # Protocol
//
// Every verify or activate exchange follows the same steps:
//
//	1. Generate a fresh 16 byte nonce (NewNonce)
//	2. Send {"nonce_str": nonce} through the Session
//	3. Unwrap {"data": {"success": true, "<verification|activation>": {...}}}
//	4. Verify the nested object's signature (Verifier)
//
// The signed message is the nested object without its "signature" field,
// with "nonce_str" set to the nonce of this exchange, encoded by the
// canonical package. The signature is RSA PKCS#1 v1.5 over SHA-256. Because
// the verifier injects the nonce itself, an envelope captured during an
// earlier exchange never validates again.
//
// # Outcomes
//
// VerifyLicense and ActivateLicense return tagged results. A missing
// response, a false success flag, a missing nested object, a malformed
// envelope and a bad signature all produce the same zero result so callers
// cannot tell which check failed. Only configuration errors, connectivity
// errors and context cancellation are returned as errors.
//
// # Activation
//
// VerifyThenActivate activates when verification does not report a valid
// license. Attempts are spaced by an exponential backoff (RetryPolicy) and
// bounded by attempt count, elapsed time and the caller's context. The
// caller only sees Result{Success, Error} with a fixed message.
//
// # Observability
//
// Each exchange gets a span and feeds Metrics. Nonces are logged truncated
// and signatures are never logged.
package license
