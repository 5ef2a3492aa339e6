package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrMasterKeyMissing = errors.New("master key is not configured")

// ParseMasterKey decodes a base64 master key and checks its length.
func ParseMasterKey(b64 string) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, ErrMasterKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrInvalidMasterKey)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, ErrInvalidMasterKey
	}
}

// GenerateMasterKey returns a fresh random key of size bytes, base64 encoded.
func GenerateMasterKey(size int) (string, error) {
	switch size {
	case 16, 24, 32:
	default:
		return "", ErrInvalidMasterKey
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// KeySource resolves the master key once and serves the cached result for
// the rest of the process lifetime.
type KeySource struct {
	load   func() (string, error)
	once   sync.Once
	cipher *Cipher
	err    error
}

// NewKeySource wraps a loader returning the base64 master key.
func NewKeySource(load func() (string, error)) *KeySource {
	return &KeySource{load: load}
}

// StaticKeySource serves a key that is already known.
func StaticKeySource(b64 string) *KeySource {
	return NewKeySource(func() (string, error) { return b64, nil })
}

// Cipher returns the process cipher, loading the key on first use.
func (s *KeySource) Cipher() (*Cipher, error) {
	s.once.Do(func() {
		b64, err := s.load()
		if err != nil {
			s.err = err
			return
		}
		key, err := ParseMasterKey(b64)
		if err != nil {
			s.err = err
			return
		}
		s.cipher, s.err = NewCipher(key)
	})
	return s.cipher, s.err
}
