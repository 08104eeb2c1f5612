//go:build !windows

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretboxProtector(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", masterKeyFile)

	p, err := NewSecretboxProtector(keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	blob, err := p.Protect([]byte(testKey))
	require.NoError(t, err)
	assert.Len(t, blob, nonceLen+len(testKey)+16)

	other, err := p.Protect([]byte(testKey))
	require.NoError(t, err)
	assert.NotEqual(t, blob, other, "nonce must differ per blob")

	// A second instance must load the same master key.
	reopened, err := NewSecretboxProtector(keyPath)
	require.NoError(t, err)
	plain, err := reopened.Unprotect(blob)
	require.NoError(t, err)
	assert.Equal(t, testKey, string(plain))
}

func TestSecretboxProtectorRejectsTampering(t *testing.T) {
	p, err := NewSecretboxProtector(filepath.Join(t.TempDir(), masterKeyFile))
	require.NoError(t, err)

	blob, err := p.Protect([]byte(testKey))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff

	_, err = p.Unprotect(blob)
	assert.ErrorIs(t, err, errSealedBlobCorrupt)

	_, err = p.Unprotect([]byte("short"))
	assert.ErrorIs(t, err, errSealedBlobCorrupt)
}

func TestSecretboxProtectorWrongKey(t *testing.T) {
	a, err := NewSecretboxProtector(filepath.Join(t.TempDir(), masterKeyFile))
	require.NoError(t, err)
	b, err := NewSecretboxProtector(filepath.Join(t.TempDir(), masterKeyFile))
	require.NoError(t, err)

	blob, err := a.Protect([]byte(testKey))
	require.NoError(t, err)
	_, err = b.Unprotect(blob)
	assert.Error(t, err)
}

func TestSecretboxProtectorBadMasterKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), masterKeyFile)
	require.NoError(t, os.WriteFile(keyPath, []byte("too short"), 0o600))

	_, err := NewSecretboxProtector(keyPath)
	assert.Error(t, err)
}
