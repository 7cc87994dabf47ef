package errors

import (
	"fmt"
)

// License and launcher sentinel errors
var (
	ErrEndpointMissing     = New(KindConfiguration, "launcher endpoint not configured")
	ErrPublicKeyMissing    = New(KindConfiguration, "public key not configured")
	ErrInvalidPublicKey    = New(KindConfiguration, "invalid public key")
	ErrNotConnected        = New(KindConnectivity, "not connected to launcher")
	ErrConnectionClosed    = New(KindConnectivity, "launcher connection closed")
	ErrMalformedEnvelope   = New(KindProtocol, "malformed launcher envelope")
	ErrVerificationFailed  = New(KindVerification, "response verification failed")
	ErrActivationExhausted = New(KindVerification, "license activation attempts exhausted")
)

// Code is the closed set of status codes a launcher attaches to a response
// frame. Codes outside the set are preserved through CodeUnknown.
type Code int

const (
	CodeOK                 Code = 0
	CodeLauncherStarted    Code = 1
	CodeNotConnected       Code = -1
	CodeTimeout            Code = -2
	CodeInvalidRequest     Code = -3
	CodeServiceUnavailable Code = -4
	CodeInternal           Code = -5
	CodeUnknown            Code = -1000
)

var codeNames = map[Code]string{
	CodeOK:                 "ok",
	CodeLauncherStarted:    "launcher_started",
	CodeNotConnected:       "not_connected",
	CodeTimeout:            "timeout",
	CodeInvalidRequest:     "invalid_request",
	CodeServiceUnavailable: "service_unavailable",
	CodeInternal:           "internal",
	CodeUnknown:            "unknown",
}

// ParseCode maps a raw wire code into the enumeration. Unknown values map to
// CodeUnknown; the caller keeps the raw value for diagnostics.
func ParseCode(raw int) Code {
	c := Code(raw)
	if _, ok := codeNames[c]; ok && c != CodeUnknown {
		return c
	}
	return CodeUnknown
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Kind maps a launcher code onto the error taxonomy.
func (c Code) Kind() Kind {
	switch c {
	case CodeNotConnected, CodeTimeout:
		return KindConnectivity
	case CodeInvalidRequest:
		return KindProtocol
	case CodeServiceUnavailable:
		return KindProtocol
	default:
		return KindInternal
	}
}

// CodeError is a non-zero status code returned by the launcher.
type CodeError struct {
	Code    Code
	Raw     int
	Method  string
	Message string
}

// NewCodeError builds a CodeError from a raw wire code.
func NewCodeError(method string, raw int, message string) *CodeError {
	return &CodeError{Code: ParseCode(raw), Raw: raw, Method: method, Message: message}
}

func (e *CodeError) Error() string {
	name := e.Code.String()
	if e.Code == CodeUnknown {
		name = fmt.Sprintf("unknown(%d)", e.Raw)
	}
	if e.Message == "" {
		return fmt.Sprintf("launcher %s: %s", e.Method, name)
	}
	return fmt.Sprintf("launcher %s: %s: %s", e.Method, name, e.Message)
}
