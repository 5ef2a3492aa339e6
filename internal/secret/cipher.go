// Package secret generates per-room TOTP secrets and seals them with AES-GCM
// under the process master key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the GCM nonce length stored in front of every blob.
	NonceSize = 12
	// SecretSize is the raw entropy of a room secret (160 bits).
	SecretSize = 20
)

var (
	ErrInvalidMasterKey = errors.New("master key must be 16, 24 or 32 bytes")
	ErrDecryption       = errors.New("failed to decrypt secret")
	ErrInvalidNonce     = errors.New("nonce must be 12 bytes")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Cipher seals and opens room secrets with a fixed master key.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher validates the master key and prepares the AEAD.
func NewCipher(masterKey []byte) (*Cipher, error) {
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// GenerateSecret returns a fresh base32 secret as ASCII bytes and a fresh nonce.
func (c *Cipher) GenerateSecret() (secret, nonce []byte, err error) {
	raw := make([]byte, SecretSize)
	if _, err := io.ReadFull(c.rand, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read secret entropy: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return []byte(secretEncoding.EncodeToString(raw)), nonce, nil
}

// Seal generates a secret and returns it together with its encrypted blob.
func (c *Cipher) Seal() (secret []byte, blob string, err error) {
	secret, nonce, err := c.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	blob, err = c.Encrypt(secret, nonce)
	if err != nil {
		return nil, "", err
	}
	return secret, blob, nil
}

// Encrypt returns base64(nonce || ciphertext || tag).
func (c *Cipher) Encrypt(secret, nonce []byte) (string, error) {
	if len(nonce) != NonceSize {
		return "", ErrInvalidNonce
	}
	out := make([]byte, 0, NonceSize+len(secret)+c.aead.Overhead())
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, secret, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered input
// yields ErrDecryption and no plaintext.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(data) < NonceSize+c.aead.Overhead() {
		return nil, ErrDecryption
	}

	plain, err := c.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// Encrypt seals secret under masterKey with the given nonce.
func Encrypt(secret, nonce, masterKey []byte) (string, error) {
	c, err := NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	return c.Encrypt(secret, nonce)
}

// Decrypt opens blob with masterKey.
func Decrypt(blob string, masterKey []byte) ([]byte, error) {
	c, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(blob)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidMasterKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}
	return cipher.NewGCM(block)
}
