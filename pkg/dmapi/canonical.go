package dmapi

import "dmsdk/internal/canonical"

// JSONToCanonical returns the canonical form of a JSON document: sorted
// keys, no insignificant whitespace, one spelling per number. ok is false
// when the input is not valid JSON or holds a value with no canonical form.
func JSONToCanonical(jsonText string) (string, bool) {
	out, err := canonical.String(jsonText)
	if err != nil {
		return "", false
	}
	return out, true
}
