// Package crypto provides the at-rest cipher for stored IMAP credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength     = 32
	keyIterations = 100000
	// keySalt binds derived keys to this application; the passphrase itself
	// is the secret.
	keySalt = "mailgram.credentials.v1"
)

var errCiphertextTooShort = errors.New("ciphertext too short")

// Cipher encrypts and decrypts credential strings with AES-256-GCM using a
// key derived from a deployment passphrase.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the encryption key from the passphrase and returns a ready
// cipher. The passphrase must not be empty.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("crypto passphrase must not be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLength, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errCiphertextTooShort
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
