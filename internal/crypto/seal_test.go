package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func generateTestKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func TestRoundTrip(t *testing.T) {
	bobPriv, bobPub := generateTestKeypair(t)

	sealed, err := Seal([]byte("Hello Bob!"), bobPub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Open(sealed, bobPriv)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "Hello Bob!" {
		t.Fatalf("expected 'Hello Bob!', got %q", pt)
	}
}

func TestWireFormatStructure(t *testing.T) {
	_, pub := generateTestKeypair(t)

	sealed, err := Seal([]byte("test"), pub)
	if err != nil {
		t.Fatal(err)
	}
	// 32 (eph pk) + 12 (nonce) + 4 (plaintext) + 16 (tag) = 64
	if len(sealed) != 64 {
		t.Fatalf("expected sealed length 64, got %d", len(sealed))
	}
}

func TestDifferentCiphertexts(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	s1, _ := Seal([]byte("same"), pub)
	s2, _ := Seal([]byte("same"), pub)
	if bytes.Equal(s1, s2) {
		t.Fatal("sealed blobs should differ for same plaintext")
	}

	p1, _ := Open(s1, priv)
	p2, _ := Open(s2, priv)
	if string(p1) != "same" || string(p2) != "same" {
		t.Fatal("both blobs should decrypt to the original plaintext")
	}
}

func TestWrongRecipientCannotOpen(t *testing.T) {
	_, alicePub := generateTestKeypair(t)
	evePriv, _ := generateTestKeypair(t)

	sealed, err := Seal([]byte("for alice only"), alicePub)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open(sealed, evePriv); err == nil {
		t.Fatal("expected decryption to fail for wrong recipient")
	}
}

func TestTamperedCiphertext(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	sealed, err := Seal([]byte("integrity"), pub)
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Open(sealed, priv)
	if err == nil {
		t.Fatal("expected decryption to fail for tampered blob")
	}
	if !IsSealError(err) {
		t.Fatalf("expected SealError, got %T", err)
	}
}

func TestOpenTooShort(t *testing.T) {
	priv, _ := generateTestKeypair(t)

	if _, err := Open(make([]byte, MinSealedLen-1), priv); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestSealRejectsBadKey(t *testing.T) {
	if _, err := Seal([]byte("x"), make([]byte, 16)); err == nil {
		t.Fatal("expected error for short public key")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, pub := generateTestKeypair(t)
	b64 := base64.StdEncoding.EncodeToString(pub)

	parsed, err := ParsePublicKey(b64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(parsed, pub) {
		t.Fatal("parsed key does not match original")
	}

	if _, err := ParsePublicKey("not-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for wrong length")
	}
}
