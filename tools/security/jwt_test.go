package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("unit-test-secret"))

	token, hash, exp, err := Generate(opts, 42)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, strings.HasPrefix(hash, "sha256:"))
	assert.True(t, exp.After(time.Now()))

	uid, err := Verify(opts, token, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, _, err := Generate(DefaultOptions([]byte("secret-a")), 7)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("secret-b")), token, "")
	assert.Error(t, err)
}

func TestVerifyRejectsHashMismatch(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	token, _, _, err := Generate(opts, 7)
	require.NoError(t, err)

	// 旧会话的 hash 与新签发的 token 不一致时必须拒绝
	_, err = Verify(opts, token, "sha256:deadbeef")
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	opts.TTL = -time.Minute
	token, _, _, err := Generate(opts, 7)
	require.NoError(t, err)

	_, err = Verify(opts, token, "")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	opts.Alg = "RS256"
	_, _, _, err := Generate(opts, 1)
	assert.Error(t, err)
}
