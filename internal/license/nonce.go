package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NonceSize is the number of random bytes in a challenge nonce.
const NonceSize = 16

// NonceFunc produces a fresh challenge nonce.
type NonceFunc func() (string, error)

// NewNonce returns NonceSize bytes from crypto/rand as lowercase hex.
func NewNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// maskNonce keeps enough of a nonce to correlate log lines.
func maskNonce(nonce string) string {
	if len(nonce) <= 8 {
		return "****"
	}
	return nonce[:8] + "****"
}
