package license

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	licenseErrors "dmsdk/internal/errors"
)

// MinKeyBits is the smallest RSA modulus accepted for license signatures.
const MinKeyBits = 2048

// PublicKey is the launcher's signing key. It is immutable once parsed and
// safe to share between goroutines.
type PublicKey struct {
	key *rsa.PublicKey
}

// ParsePublicKey parses a PEM encoded RSA public key in either PKIX
// ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY") form.
func ParsePublicKey(pemText string) (*PublicKey, error) {
	if strings.TrimSpace(pemText) == "" {
		return nil, licenseErrors.ErrPublicKeyMissing
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, invalidKey("no PEM block found")
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, invalidKey(err.Error())
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, invalidKey(fmt.Sprintf("unsupported key type %T", parsed))
		}
		pub = rsaKey
	case "RSA PUBLIC KEY":
		parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, invalidKey(err.Error())
		}
		pub = parsed
	default:
		return nil, invalidKey(fmt.Sprintf("unexpected PEM block %q", block.Type))
	}

	if pub.N.BitLen() < MinKeyBits {
		return nil, invalidKey(fmt.Sprintf("key size %d below %d bits", pub.N.BitLen(), MinKeyBits))
	}
	return &PublicKey{key: pub}, nil
}

// NewPublicKey wraps an already parsed RSA key.
func NewPublicKey(key *rsa.PublicKey) (*PublicKey, error) {
	if key == nil {
		return nil, licenseErrors.ErrPublicKeyMissing
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, invalidKey(fmt.Sprintf("key size %d below %d bits", key.N.BitLen(), MinKeyBits))
	}
	return &PublicKey{key: key}, nil
}

// Bits returns the modulus size.
func (k *PublicKey) Bits() int {
	return k.key.N.BitLen()
}

func invalidKey(detail string) error {
	return &licenseErrors.Error{
		Kind:    licenseErrors.KindConfiguration,
		Op:      "license.public_key",
		Message: licenseErrors.ErrInvalidPublicKey.Message,
		Cause:   errors.New(detail),
	}
}
