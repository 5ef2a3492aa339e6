package secret

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base32Secret = regexp.MustCompile(`^[A-Z2-7]{32}$`)

func testKey(size int) []byte {
	return bytes.Repeat([]byte{0x42}, size)
}

func TestNewCipher_KeyLength(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		_, err := NewCipher(testKey(size))
		assert.NoError(t, err, "size %d", size)
	}
	for _, size := range []int{0, 8, 15, 31, 33, 64} {
		_, err := NewCipher(testKey(size))
		assert.ErrorIs(t, err, ErrInvalidMasterKey, "size %d", size)
	}
}

func TestCipher_GenerateSecret(t *testing.T) {
	c, err := NewCipher(testKey(32))
	require.NoError(t, err)

	s1, n1, err := c.GenerateSecret()
	require.NoError(t, err)
	s2, n2, err := c.GenerateSecret()
	require.NoError(t, err)

	assert.Regexp(t, base32Secret, string(s1))
	assert.Len(t, n1, NonceSize)
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, n1, n2)
}

func TestCipher_RoundTrip(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		key := testKey(size)
		c, err := NewCipher(key)
		require.NoError(t, err)

		secret, nonce, err := c.GenerateSecret()
		require.NoError(t, err)

		blob, err := Encrypt(secret, nonce, key)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(blob)
		require.NoError(t, err)
		assert.Equal(t, nonce, raw[:NonceSize], "blob starts with the nonce")
		assert.Len(t, raw, NonceSize+len(secret)+16)

		plain, err := Decrypt(blob, key)
		require.NoError(t, err)
		assert.Equal(t, secret, plain)
	}
}

func TestCipher_DecryptRejectsTampering(t *testing.T) {
	key := testKey(32)
	c, err := NewCipher(key)
	require.NoError(t, err)

	secret, blob, err := c.Seal()
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	flipped := append([]byte(nil), raw...)
	flipped[NonceSize+2] ^= 0x01

	wrongKey, err := NewCipher(testKey(16))
	require.NoError(t, err)

	tests := []struct {
		name string
		c    *Cipher
		blob string
	}{
		{"flipped ciphertext byte", c, base64.StdEncoding.EncodeToString(flipped)},
		{"flipped nonce byte", c, base64.StdEncoding.EncodeToString(append([]byte{raw[0] ^ 0xff}, raw[1:]...))},
		{"truncated", c, base64.StdEncoding.EncodeToString(raw[:NonceSize+4])},
		{"not base64", c, "%%%not-base64%%%"},
		{"empty", c, ""},
		{"wrong key", wrongKey, blob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := tt.c.Decrypt(tt.blob)
			assert.ErrorIs(t, err, ErrDecryption)
			assert.Nil(t, plain)
		})
	}
}

func TestCipher_EncryptRejectsBadNonce(t *testing.T) {
	c, err := NewCipher(testKey(16))
	require.NoError(t, err)

	_, err = c.Encrypt([]byte("JBSWY3DPEHPK3PXP"), make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidNonce)
}
