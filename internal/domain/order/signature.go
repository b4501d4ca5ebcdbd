package order

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSigningKeyMissing is returned when signing without a private key.
	ErrSigningKeyMissing = errors.New("signing key is not configured")
	// ErrMalformedKey is returned for PEM data that holds no usable RSA key.
	ErrMalformedKey = errors.New("malformed RSA key")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer produces RSA-SHA256 PKCS#1 v1.5 signatures. The key stays in memory.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner wraps an RSA private key.
func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// LoadSigner reads a PEM private key (PKCS#1 or PKCS#8) from path.
func LoadSigner(path string) (*Signer, error) {
	if path == "" {
		return nil, ErrSigningKeyMissing
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// ParsePrivateKey decodes a PEM encoded RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrMalformedKey)
	}
	return key, nil
}

// Sign signs the canonical string and returns the base64 signature.
func (s *Signer) Sign(canonical string) (string, error) {
	if s == nil || s.key == nil {
		return "", ErrSigningKeyMissing
	}
	digest := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign order: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verifier checks RSA-SHA256 signatures against a public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier wraps an RSA public key.
func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// LoadVerifier reads a PEM public key or certificate from path.
func LoadVerifier(path string) (*Verifier, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: public key path is empty", ErrMalformedKey)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key), nil
}

// ParsePublicKey decodes a PKIX, PKCS#1 or certificate PEM into an RSA public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return key, nil
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		key, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: certificate key is not RSA", ErrMalformedKey)
		}
		return key, nil
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrMalformedKey)
		}
		return key, nil
	}
}

// Verify checks a base64 signature over canonical.
func (v *Verifier) Verify(canonical, signature string) error {
	if v == nil || v.key == nil {
		return fmt.Errorf("%w: verification key is not configured", ErrInvalidSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	digest := sha256.Sum256([]byte(canonical))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
