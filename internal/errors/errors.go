package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
// Callers branch on Kind, never on the message text.
type Kind string

const (
	// KindConfiguration covers a missing endpoint, identity or key material.
	// Never retried.
	KindConfiguration Kind = "configuration"
	// KindConnectivity covers an unreachable or broken launcher connection.
	// Never retried at the protocol layer.
	KindConnectivity Kind = "connectivity"
	// KindProtocol covers malformed or unparseable envelopes.
	KindProtocol Kind = "protocol"
	// KindVerification covers signature, nonce and signed-field failures.
	KindVerification Kind = "verification"
	// KindEncoding covers values that have no canonical form. It indicates a
	// caller bug rather than an adversarial response.
	KindEncoding Kind = "encoding"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// Error is the structured error type shared by every package of the SDK.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error with the same Kind and Message, so sentinels
// declared with New can be compared through errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message && t.Op == "" && t.Cause == nil
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause. Op names the
// operation that failed.
func Wrap(kind Kind, op string, cause error) *Error {
	msg := ""
	var inner *Error
	if errors.As(cause, &inner) && inner.Kind == kind {
		msg = inner.Message
		cause = inner.Cause
		if inner.Op != "" {
			op = op + ": " + inner.Op
		}
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// Configuration creates a configuration error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Connectivity wraps a transport failure.
func Connectivity(op string, cause error) *Error {
	return &Error{Kind: KindConnectivity, Op: op, Message: "launcher unreachable", Cause: cause}
}

// Protocol creates a protocol error.
func Protocol(op, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Encoding creates an encoding error.
func Encoding(op, format string, args ...any) *Error {
	return &Error{Kind: KindEncoding, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or KindInternal when err is not structured.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code.Kind()
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsHard reports whether err must surface to the top-level caller instead
// of collapsing into an invalid outcome.
func IsHard(err error) bool {
	k := KindOf(err)
	return k == KindConfiguration || k == KindConnectivity
}

// Is, As and Unwrap re-export the standard helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
