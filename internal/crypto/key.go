// Package crypto provides key file handling for the pre-shared chat key.
// The key file holds the 32-byte key base64-encoded on a single line, so
// it can be copied between machines by hand.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// SaveKey writes key to path base64-encoded, readable only by the owner.
func SaveKey(path string, key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return fmt.Errorf("%w: got %d", ErrBadKey, len(key))
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("save key file: %w", err)
	}
	return nil
}

// LoadKey reads a base64-encoded key from path and returns the raw bytes.
func LoadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key file %s: %w: got %d", path, ErrBadKey, len(key))
	}
	return key, nil
}
