// Package secrets encrypts provider credentials at rest. It is injected as a
// single dependency wherever tokens are persisted, so key rotation has one
// seam.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeySize is the required symmetric key length (AES-256).
const KeySize = 32

// Cipher seals and opens secrets with AES-256-GCM. The stored form is
// base64(nonce || ciphertext || tag) with a fresh random nonce per call.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into the stored form.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value produced by Encrypt.
func (c *Cipher) Decrypt(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// IsCiphertext reports whether v is structurally recognizable as a stored
// value: strict base64 of at least nonce+tag bytes. A heuristic, not proof.
func (c *Cipher) IsCiphertext(v string) bool {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return false
	}
	return len(raw) >= c.aead.NonceSize()+c.aead.Overhead()
}

// SafeEncrypt encrypts v unless it is already recognized as ciphertext, in
// which case it is returned unchanged. Guards against double-encrypting a
// secret that was never decrypted in between.
func (c *Cipher) SafeEncrypt(v string) (string, error) {
	if c.IsCiphertext(v) {
		return v, nil
	}
	return c.Encrypt(v)
}

// SafeDecrypt decrypts v when it is recognized as ciphertext and returns it
// unchanged otherwise. A value that looks like ciphertext but fails
// authentication is an error, not a pass-through.
func (c *Cipher) SafeDecrypt(v string) (string, error) {
	if !c.IsCiphertext(v) {
		return v, nil
	}
	return c.Decrypt(v)
}
