// Package canonical produces the deterministic JSON encoding that license
// signatures are computed over.
//
// Signer and verifier must agree on every byte, so the encoding lives in one
// place and is shared by the license verifier, the launcher simulator and the
// public JSONToCanonical helper.
//
// Rules:
//   - object keys sorted in ascending byte order
//   - no insignificant whitespace
//   - strings escaped as encoding/json does by default (including the
//     HTML-safe escapes for <, > and &)
//   - integer literals kept exact, other numbers in the shortest float64
//     form encoding/json produces, negative zero written as 0
//
// Example:
//
//	out, err := canonical.String(`{"b":1, "a":[true,null]}`)
//	// out == `{"a":[true,null],"b":1}`
package canonical
