// Package vault seals stored passwords with NaCl secretbox.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrNotConfigured = errors.New("vault key not configured")
	ErrInvalidKey    = errors.New("vault key must be 32 bytes hex encoded")
	ErrCorrupt       = errors.New("sealed value could not be opened")
)

// Vault holds the key. The zero value is unconfigured and refuses to seal.
type Vault struct {
	key *[keySize]byte
}

// New parses a hex key. An empty key yields an unconfigured vault.
func New(hexKey string) (*Vault, error) {
	if hexKey == "" {
		return &Vault{}, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &Vault{key: &key}, nil
}

func (v *Vault) Configured() bool {
	return v != nil && v.key != nil
}

// Seal returns nonce || box.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	if !v.Configured() {
		return nil, ErrNotConfigured
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, v.key), nil
}

func (v *Vault) Open(sealed []byte) ([]byte, error) {
	if !v.Configured() {
		return nil, ErrNotConfigured
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, v.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return out, nil
}
