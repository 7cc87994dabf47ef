package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"dmsdk/internal/canonical"
	licenseErrors "dmsdk/internal/errors"
)

// Signer produces signatures the Verifier accepts. The launcher simulator
// and tests use it; applications only ever verify.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner wraps key.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, licenseErrors.Configuration("license.signer", "private key not configured")
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, invalidKey("signing key below minimum size")
	}
	return &Signer{key: key}, nil
}

// GenerateSigner creates a signer with a fresh key of the given size.
func GenerateSigner(bits int) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}

// PublicKey returns the verification half of the key.
func (s *Signer) PublicKey() *PublicKey {
	return &PublicKey{key: &s.key.PublicKey}
}

// PublicKeyPEM renders the public key as a PKIX "PUBLIC KEY" block.
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Sign returns a copy of payload with a "signature" field computed over the
// payload plus nonce_str=nonce. The returned object does not contain
// nonce_str unless payload already did.
func (s *Signer) Sign(payload map[string]any, nonce string) (map[string]any, error) {
	message := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		if k != SignatureField {
			message[k] = v
		}
	}
	message[NonceField] = nonce

	data, err := canonical.Marshal(message)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, err
	}

	signed := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		signed[k] = v
	}
	signed[SignatureField] = base64.StdEncoding.EncodeToString(sig)
	return signed, nil
}

// ParseSigner reads a PEM encoded RSA private key in PKCS#1 ("RSA PRIVATE
// KEY") or PKCS#8 ("PRIVATE KEY") form.
func ParseSigner(pemText string) (*Signer, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, invalidKey("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, invalidKey(err.Error())
		}
		return NewSigner(key)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, invalidKey(err.Error())
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, invalidKey("private key is not RSA")
		}
		return NewSigner(key)
	default:
		return nil, invalidKey("unexpected PEM block " + block.Type)
	}
}

// PrivateKeyPEM renders the signing key as a PKCS#1 block.
func (s *Signer) PrivateKeyPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(s.key),
	}))
}
