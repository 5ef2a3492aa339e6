package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// "12345678901234567890" in base32, the RFC 6238 SHA1 test secret.
var rfcSecret = []byte("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ")

func TestEngine_DeriveMatchesRFCVectors(t *testing.T) {
	e := NewEngine(DefaultConfig())

	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, tt := range tests {
		got, err := e.Derive(rfcSecret, time.Unix(tt.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "t=%d", tt.unix)
	}
}

func TestEngine_DeriveIsDeterministicWithinStep(t *testing.T) {
	e := NewEngine(DefaultConfig())
	start := time.Unix(1700000010, 0)

	a, err := e.Derive(rfcSecret, start)
	require.NoError(t, err)
	b, err := e.Derive(rfcSecret, start.Add(15*time.Second))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEngine_VerifyWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	issued := time.Unix(1111111109, 0)

	code, err := e.Derive(rfcSecret, issued)
	require.NoError(t, err)

	assert.True(t, e.Verify(rfcSecret, code, issued))
	assert.True(t, e.Verify(rfcSecret, code, issued.Add(30*time.Second)), "next step")
	assert.True(t, e.Verify(rfcSecret, code, issued.Add(-30*time.Second)), "previous step")
	assert.False(t, e.Verify(rfcSecret, code, issued.Add(90*time.Second)))
	assert.False(t, e.Verify(rfcSecret, code, issued.Add(-90*time.Second)))
}

func TestEngine_VerifyRejectsMalformedInput(t *testing.T) {
	e := NewEngine(DefaultConfig())
	at := time.Unix(59, 0)

	// 94287082 is the eight digit RFC vector for t=59
	for _, code := range []string{"", "28708", "2870821", "94287082", "28708a", " 287082", "２８７０８２"} {
		assert.False(t, e.Verify(rfcSecret, code, at), "code %q", code)
		assert.False(t, e.ValidFormat(code), "code %q", code)
	}
	assert.True(t, e.ValidFormat("287082"))
}

func TestEngine_CodesAreAlwaysSixDigits(t *testing.T) {
	e := NewEngine(Config{Period: 60 * time.Second})
	for _, unix := range []int64{59, 1111111109, 2000000000} {
		code, err := e.Derive(rfcSecret, time.Unix(unix, 0))
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)
		assert.True(t, e.ValidFormat(code))
	}
}

func TestEngine_StepStart(t *testing.T) {
	e := NewEngine(DefaultConfig())
	assert.Equal(t, int64(1111111080), e.StepStart(time.Unix(1111111109, 0)).Unix())
	assert.Equal(t, 30, e.Interval())
}
