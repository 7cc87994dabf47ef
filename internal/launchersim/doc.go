// Package launchersim is an in-process launcher for development and tests.
//
// It answers the launcher wire contract over a pipe.Server: verify and
// activate responses are signed with a generated RSA key over the canonical
// payload plus the request's nonce, activation can be made to succeed only
// after a number of attempts, and tamper modes produce the malformed or
// forged responses a client must reject. The update lifecycle is driven
// either by the simulated methods or directly through Advance.
package launchersim
