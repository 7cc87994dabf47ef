package license

import (
	"encoding/json"
)

// Payload is a verified signed object with its signature field still
// present. Values follow the JSON decoding of the canonical parser:
// map[string]any, []any, string, bool, json.Number and nil.
type Payload map[string]any

// Bool returns the boolean at key, or false.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// String returns the string at key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Clone returns a deep copy so callers cannot alias the parsed response.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return cloneValue(map[string]any(p)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Payload:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

// VerifyResult is the outcome of a verify exchange. The zero value is
// Invalid.
type VerifyResult struct {
	Valid        bool
	Verification Payload
	// IsOnline mirrors the unsigned is_online sibling field when the
	// launcher sent one.
	IsOnline *bool
}

// LicenseValid reports whether the signed verification object itself
// declares the license valid. A verified response may still carry
// valid=false, which means activation is required.
func (r VerifyResult) LicenseValid() bool {
	return r.Valid && r.Verification.Bool("valid")
}

// Map renders the result the way the launcher binding reports it:
// {"success":true,"is_online":...,"verification":{...}}, or nil when
// invalid.
func (r VerifyResult) Map() map[string]any {
	if !r.Valid {
		return nil
	}
	out := map[string]any{
		"success":      true,
		"verification": map[string]any(r.Verification.Clone()),
	}
	if r.IsOnline != nil {
		out["is_online"] = *r.IsOnline
	}
	return out
}

// ActivateResult is the outcome of an activate exchange. The zero value is
// NotActivated.
type ActivateResult struct {
	Activated  bool
	Activation Payload
}

// Map renders {"success":true,"activation":{...}}, or nil when not
// activated.
func (r ActivateResult) Map() map[string]any {
	if !r.Activated {
		return nil
	}
	return map[string]any{
		"success":    true,
		"activation": map[string]any(r.Activation.Clone()),
	}
}

// Result is the coarse outcome of VerifyThenActivate. Error is a fixed
// human-readable message that does not reveal which check failed.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
