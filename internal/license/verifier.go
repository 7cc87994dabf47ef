package license

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"dmsdk/internal/canonical"
)

const (
	// SignatureField holds the base64 signature inside a signed object.
	SignatureField = "signature"
	// NonceField carries the challenge in requests and signed payloads.
	NonceField = "nonce_str"
)

// Verifier checks launcher signatures against a fixed public key.
type Verifier struct {
	key *PublicKey
}

// NewVerifier creates a verifier bound to key.
func NewVerifier(key *PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Verify reports whether signed carries a valid signature over its other
// fields plus nonce_str set to nonce. Any nonce_str sent by the launcher is
// overwritten, so an envelope captured under a different challenge fails.
// Every failure, including a panic in decoding, yields false.
func (v *Verifier) Verify(signed map[string]any, nonce string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if v == nil || v.key == nil || signed == nil {
		return false
	}

	sigText, isString := signed[SignatureField].(string)
	if !isString || sigText == "" {
		return false
	}
	sig, err := base64.StdEncoding.Strict().DecodeString(sigText)
	if err != nil {
		return false
	}

	payload := make(map[string]any, len(signed))
	for k, val := range signed {
		if k != SignatureField {
			payload[k] = val
		}
	}
	payload[NonceField] = nonce

	message, err := canonical.Marshal(payload)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(v.key.key, crypto.SHA256, digest[:], sig) == nil
}
