package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKey_RoundTrip(t *testing.T) {
	t.Setenv(SecretKeyEnv, "test-secret-key-for-unit-tests")
	sk, err := NewSecretKey()
	require.NoError(t, err)

	for _, plain := range []string{
		"sk-abc123def456xyz",
		"sk-or-v1-very-long-openrouter-key-1234567890abcdef",
		"sk-+/=!@#$%^&*()",
	} {
		sealed, err := sk.Encrypt(plain)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "enc:"))
		assert.NotContains(t, sealed, plain)

		opened, err := sk.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}

	sealed, err := sk.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

func TestSecretKey_NonceIsRandom(t *testing.T) {
	sk := NewSecretKeyFromPassphrase("test-key")
	a, err := sk.Encrypt("same")
	require.NoError(t, err)
	b, err := sk.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretKey_DecryptPassesPlainValues(t *testing.T) {
	sk := NewSecretKeyFromPassphrase("test-key")
	got, err := sk.Decrypt("plain-text-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-text-value", got)

	_, err = sk.Decrypt("enc:not base64!")
	assert.Error(t, err)
	_, err = sk.Decrypt("enc:AAAA")
	assert.ErrorContains(t, err, "too short")
}

func TestSecretKey_PersistedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret.key")

	first, err := loadOrCreateKey(path)
	require.NoError(t, err)
	sealed, err := first.Encrypt("sk-openrouter")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := loadOrCreateKey(path)
	require.NoError(t, err)
	got, err := second.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-openrouter", got)

	_, err = NewSecretKeyFromPassphrase("other").Decrypt(sealed)
	assert.Error(t, err)
}

func TestSecretKey_RejectsTruncatedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	_, err := loadOrCreateKey(path)
	assert.ErrorContains(t, err, "shorter than")
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                            "",
		"ab":                          "****",
		"abcd":                        "****",
		"sk-abc123def":                "****3def",
		"sk-proj-very-long-key-12345": "****2345",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskSecret(in), "MaskSecret(%q)", in)
	}
}
