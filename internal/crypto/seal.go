// Package crypto implements the per-recipient sealing used by the fan-out
// encoder. Each recipient copy is encrypted independently: an ephemeral
// X25519 key agreement against the recipient's key, HKDF-SHA256 key
// derivation, and ChaCha20-Poly1305 AEAD.
//
// Wire format: ephemeral_pk[32] | nonce[12] | ciphertext+tag[N+16].
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	protocolVersion = "qryptchat-seal-v1"

	ephemeralPKSize = 32
	nonceSize       = 12
	keySize         = 32
	tagSize         = 16

	// MinSealedLen is the smallest possible sealed blob (empty plaintext).
	MinSealedLen = ephemeralPKSize + nonceSize + tagSize
)

// SealError represents an encryption/decryption failure.
type SealError struct {
	Message string
}

func (e *SealError) Error() string {
	return e.Message
}

// IsSealError reports whether err is a SealError.
func IsSealError(err error) bool {
	var se *SealError
	return errors.As(err, &se)
}

// ed25519PubToX25519 converts an Ed25519 public key to an X25519 public key.
func ed25519PubToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// ed25519SeedToX25519Private converts an Ed25519 seed to an X25519 private key.
func ed25519SeedToX25519Private(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// deriveKey derives the AEAD key via HKDF-SHA256, salted with both public
// values so the key binds to this specific exchange.
func deriveKey(sharedSecret, ephemeralPK, recipientX25519PK []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPK)+len(recipientX25519PK))
	salt = append(salt, ephemeralPK...)
	salt = append(salt, recipientX25519PK...)

	hkdfReader := hkdf.New(sha256.New, sharedSecret, salt, []byte(protocolVersion))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for the holder of recipientPub (an Ed25519 public
// key, as served by the key directory). Every call produces a fresh
// ephemeral key and nonce, so sealing the same plaintext twice yields
// different blobs.
func Seal(plaintext []byte, recipientPub ed25519.PublicKey) ([]byte, error) {
	if len(recipientPub) != ed25519.PublicKeySize {
		return nil, &SealError{Message: fmt.Sprintf("invalid public key length: %d, expected %d", len(recipientPub), ed25519.PublicKeySize)}
	}

	recipientX25519Pub, err := ed25519PubToX25519(recipientPub)
	if err != nil {
		return nil, &SealError{Message: fmt.Sprintf("failed to convert recipient key: %v", err)}
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	sharedSecret, err := curve25519.X25519(ephPriv[:], recipientX25519Pub)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(sharedSecret, ephPub, recipientX25519Pub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	sealed := make([]byte, 0, len(ephPub)+nonceSize+len(ciphertext))
	sealed = append(sealed, ephPub...)
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)

	return sealed, nil
}

// Open decrypts a sealed blob using the recipient's Ed25519 private key.
// Used by clients and tests; the server itself can never open a copy.
func Open(sealed []byte, privateKey ed25519.PrivateKey) ([]byte, error) {
	if len(sealed) < MinSealedLen {
		return nil, &SealError{Message: fmt.Sprintf("sealed blob too short: %d bytes, minimum %d", len(sealed), MinSealedLen)}
	}

	ephPK := sealed[:ephemeralPKSize]
	nonce := sealed[ephemeralPKSize : ephemeralPKSize+nonceSize]
	ciphertext := sealed[ephemeralPKSize+nonceSize:]

	seed := privateKey.Seed()
	ownX25519Priv := ed25519SeedToX25519Private(seed)
	ownX25519Pub, err := curve25519.X25519(ownX25519Priv, curve25519.Basepoint)
	if err != nil {
		return nil, &SealError{Message: fmt.Sprintf("failed to derive X25519 public key: %v", err)}
	}

	sharedSecret, err := curve25519.X25519(ownX25519Priv, ephPK)
	if err != nil {
		return nil, &SealError{Message: "decryption failed: invalid ephemeral key"}
	}

	key, err := deriveKey(sharedSecret, ephPK, ownX25519Pub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &SealError{Message: "decryption failed: wrong key or tampered ciphertext"}
	}

	return plaintext, nil
}
