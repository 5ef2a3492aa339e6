package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueAndValidate(t *testing.T) {
	m, err := NewManager([]byte("test-signing-key"), "wes-totp-chat", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.Issue("u-1", "alice", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestManager_Validate(t *testing.T) {
	m, err := NewManager([]byte("test-signing-key"), "wes-totp-chat", time.Hour)
	require.NoError(t, err)

	other, err := NewManager([]byte("another-key"), "wes-totp-chat", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Issue("u-1", "alice", "")
	require.NoError(t, err)

	wrongIssuer, err := NewManager([]byte("test-signing-key"), "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, _, err := wrongIssuer.Issue("u-1", "alice", "")
	require.NoError(t, err)

	expiring, err := NewManager([]byte("test-signing-key"), "wes-totp-chat", time.Minute)
	require.NoError(t, err)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiring.Issue("u-1", "alice", "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong key", foreign, ErrInvalidToken},
		{"wrong issuer", misissued, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewManager_RequiresKey(t *testing.T) {
	_, err := NewManager(nil, "x", time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)
}
