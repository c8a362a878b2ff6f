package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")

// ParsePublicKey decodes and validates base64-encoded Ed25519 public key
// material as returned by the key directory.
func ParsePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// ValidateKeyMaterial checks raw key bytes without decoding.
func ValidateKeyMaterial(material []byte) (ed25519.PublicKey, error) {
	if len(material) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(material))
	}
	return ed25519.PublicKey(material), nil
}
