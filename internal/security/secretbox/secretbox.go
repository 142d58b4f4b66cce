// Package secretbox seals durable slot values (session tokens, order ids) so
// they are not readable at rest.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrMalformed = errors.New("secretbox: malformed sealed value")

type Box struct {
	aead cipher.AEAD
}

// New accepts either a base64 encoded 32-byte key or an arbitrary passphrase,
// which is stretched with SHA-256.
func New(key string) (*Box, error) {
	if key == "" {
		return nil, errors.New("secretbox: empty key")
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 32 {
		sum := sha256.Sum256([]byte(key))
		raw = sum[:]
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("secretbox: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal binds the ciphertext to label so a value sealed for one slot cannot be
// replayed into another.
func (b *Box) Seal(label, plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (b *Box) Open(label, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < b.aead.NonceSize() {
		return "", ErrMalformed
	}
	n := b.aead.NonceSize()
	plaintext, err := b.aead.Open(nil, raw[:n], raw[n:], []byte(label))
	if err != nil {
		return "", fmt.Errorf("secretbox: open %s: %w", label, err)
	}
	return string(plaintext), nil
}
