package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return c
}

func TestNewCipher_RejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.Error(t, err)
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{
		"",
		"at1",
		"sl.BKt8-long-dropbox-style-token-value",
		strings.Repeat("x", 4096),
		"unicode: żółć 秘密",
	} {
		stored, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, stored)

		got, err := c.Decrypt(stored)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same secret")
	require.NoError(t, err)
	b, err := c.Encrypt("same secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_DecryptRejectsTampering(t *testing.T) {
	c := newTestCipher(t)

	stored, err := c.Encrypt("secret")
	require.NoError(t, err)

	tampered := []byte(stored)
	tampered[len(tampered)-5] ^= 0x01
	_, err = c.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestCipher_DecryptRejectsGarbage(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt("not base64 at all!!!")
	assert.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=") // valid base64, too short
	assert.Error(t, err)
}

func TestCipher_SafeEncryptIdempotent(t *testing.T) {
	c := newTestCipher(t)

	once, err := c.SafeEncrypt("rt1")
	require.NoError(t, err)
	twice, err := c.SafeEncrypt(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	got, err := c.Decrypt(twice)
	require.NoError(t, err)
	assert.Equal(t, "rt1", got)
}

func TestCipher_SafeDecryptPassesThroughPlaintext(t *testing.T) {
	c := newTestCipher(t)

	got, err := c.SafeDecrypt("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", got)
}

func TestCipher_SafeDecryptOpensCiphertext(t *testing.T) {
	c := newTestCipher(t)

	stored, err := c.Encrypt("secret")
	require.NoError(t, err)

	got, err := c.SafeDecrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}
