// Package launcher defines the wire contract between an application and the
// licensing launcher that supervises it.
//
// Frames are newline-delimited JSON objects. A client writes one Request and
// reads exactly one Response before writing the next; Response.ID echoes the
// request so a desynchronised stream is detected instead of misattributed.
package launcher

import (
	"encoding/json"
)

// Method names understood by the launcher.
const (
	MethodVerify                   = "verify"
	MethodActivate                 = "activate"
	MethodInitiated                = "initiated"
	MethodVersion                  = "version"
	MethodCheckForUpdates          = "check_for_updates"
	MethodDownloadUpdate           = "download_update"
	MethodGetUpdateState           = "get_update_state"
	MethodWaitForUpdateStateChange = "wait_for_update_state_change"
	MethodQuitAndInstall           = "quit_and_install"
)

// Methods lists every method in a stable order.
var Methods = []string{
	MethodVerify,
	MethodActivate,
	MethodInitiated,
	MethodVersion,
	MethodCheckForUpdates,
	MethodDownloadUpdate,
	MethodGetUpdateState,
	MethodWaitForUpdateStateChange,
	MethodQuitAndInstall,
}

// Request is a single call frame.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID. Code 0 means success and
// Result then holds the method's envelope.
type Response struct {
	ID      uint64          `json:"id"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ChallengeParams is the body of verify and activate requests.
type ChallengeParams struct {
	Nonce string `json:"nonce_str"`
}

// WaitParams is the body of a wait_for_update_state_change request.
type WaitParams struct {
	LastSequence uint64 `json:"last_sequence"`
	TimeoutMS    int64  `json:"timeout_ms"`
}

// Envelope wraps every method result.
type Envelope struct {
	Data json.RawMessage `json:"data"`
}

// QuitAndInstallResult is the data object of a quit_and_install response.
type QuitAndInstallResult struct {
	Accepted bool `json:"accepted"`
}

// VersionResult is the data object of a version response.
type VersionResult struct {
	Version string `json:"version"`
}

// InitiatedResult is the data object of an initiated response.
type InitiatedResult struct {
	Acknowledged bool `json:"acknowledged"`
}

// IsKnownMethod reports whether name is part of the contract.
func IsKnownMethod(name string) bool {
	for _, m := range Methods {
		if m == name {
			return true
		}
	}
	return false
}
