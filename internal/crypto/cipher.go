// Package crypto implements the symmetric cipher the chat relay and its
// clients share: ChaCha20-Poly1305 under a pre-distributed 32-byte key,
// with a random nonce prepended to every ciphertext. Key provisioning is
// out of band; see key.go and cmd/keygen.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryption reports ciphertext that failed authentication: tampered
// bytes, a wrong key, or input too short to contain a nonce.
var ErrDecryption = errors.New("crypto: decryption failed")

// ErrBadKey reports a key of the wrong length.
var ErrBadKey = errors.New("crypto: key must be 32 bytes")

// Cipher encrypts and decrypts chat payloads under a shared key. It is
// safe for concurrent use; the underlying AEAD is stateless between
// calls and every Encrypt draws a fresh nonce.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a 32-byte pre-shared key.
func New(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrBadKey, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns nonce || ciphertext. Output is
// non-deterministic: the same plaintext encrypts differently each call.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens nonce || ciphertext produced by Encrypt under the same
// key. Any failure is reported as ErrDecryption; Decrypt never panics on
// malformed input.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: input shorter than nonce", ErrDecryption)
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}
