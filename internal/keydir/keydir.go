// Package keydir provides key-directory implementations for the fan-out
// encoder. The real directory is an external collaborator; these adapters
// cover deployment (file-backed) and tests (in-memory).
package keydir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/profullstack/qryptchat-web-sub004/internal/crypto"
)

var ErrUnknownUser = errors.New("no key material for user")

// Directory maps user ids to Ed25519 public key material. Safe for
// concurrent use.
type Directory struct {
	mu   sync.RWMutex
	keys map[uuid.UUID][]byte
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{keys: make(map[uuid.UUID][]byte)}
}

// LoadFile reads a JSON object of user id -> base64 Ed25519 public key,
// as emitted by cmd/genkey.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse key directory: %w", err)
	}

	d := New()
	for idStr, keyB64 := range raw {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("key directory user %q: %w", idStr, err)
		}
		pub, err := crypto.ParsePublicKey(keyB64)
		if err != nil {
			return nil, fmt.Errorf("key directory user %s: %w", idStr, err)
		}
		d.keys[id] = pub
	}

	return d, nil
}

// Set registers or replaces a user's key material.
func (d *Directory) Set(userID uuid.UUID, material []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[userID] = material
}

// PublicKeyMaterial implements the fan-out encoder's KeyDirectory.
func (d *Directory) PublicKeyMaterial(_ context.Context, userID uuid.UUID) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	material, ok := d.keys[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return material, nil
}
