package casevault

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileProvider(t *testing.T) (*FileKeyProvider, []byte, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "casevault-keys-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	master, err := GenerateKey()
	require.NoError(t, err)
	provider, err := NewFileKeyProvider(dir, master)
	require.NoError(t, err)
	return provider, master, dir
}

func TestFileKeyProviderLifecycle(t *testing.T) {
	provider, master, dir := newFileProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.InitTenant(ctx, "acme"))
	require.NoError(t, provider.InitTenant(ctx, "acme"), "InitTenant must be idempotent")

	firstID, firstKey, err := provider.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, firstKey, KeySize)

	newID, err := provider.RotateKey(ctx, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, newID)

	// The retired key stays resolvable by id.
	historical, err := provider.GetKey(ctx, "acme", firstID)
	require.NoError(t, err)
	assert.Equal(t, firstKey, historical)

	activeID, activeKey, err := provider.GetActiveKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, newID, activeID)
	assert.False(t, bytes.Equal(firstKey, activeKey))

	t.Run("survives reload", func(t *testing.T) {
		reloaded, err := NewFileKeyProvider(dir, master)
		require.NoError(t, err)
		key, err := reloaded.GetKey(ctx, "acme", firstID)
		require.NoError(t, err)
		assert.Equal(t, firstKey, key)
	})

	t.Run("wrong master key cannot unseal", func(t *testing.T) {
		other, err := GenerateKey()
		require.NoError(t, err)
		locked, err := NewFileKeyProvider(dir, other)
		require.NoError(t, err)
		_, err = locked.GetKey(ctx, "acme", firstID)
		assert.ErrorIs(t, err, ErrKeyProvider)
	})

	t.Run("unknown key id", func(t *testing.T) {
		_, err := provider.GetKey(ctx, "acme", "no-such-key")
		assert.ErrorIs(t, err, ErrKeyProvider)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, _, err := provider.GetActiveKey(ctx, "ghost")
		assert.ErrorIs(t, err, ErrKeyProvider)
	})
}

func TestEnsureMasterKey(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		dir := t.TempDir()
		explicit, err := GenerateKey()
		require.NoError(t, err)
		key, err := EnsureMasterKey(dir, explicit)
		require.NoError(t, err)
		assert.Equal(t, explicit, key)
		// No key file is persisted when an explicit key is supplied.
		_, statErr := os.Stat(filepath.Join(dir, masterKeyFilename))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("explicit key wrong length", func(t *testing.T) {
		_, err := EnsureMasterKey(t.TempDir(), make([]byte, 16))
		assert.ErrorIs(t, err, ErrInvalidKeyLength)
	})

	t.Run("environment variable", func(t *testing.T) {
		fromEnv, err := GenerateKey()
		require.NoError(t, err)
		t.Setenv(masterKeyEnvVar, base64.StdEncoding.EncodeToString(fromEnv))
		key, err := EnsureMasterKey(t.TempDir(), nil)
		require.NoError(t, err)
		assert.Equal(t, fromEnv, key)
	})

	t.Run("generated key persists across runs", func(t *testing.T) {
		t.Setenv(masterKeyEnvVar, "")
		dir := t.TempDir()
		first, err := EnsureMasterKey(dir, nil)
		require.NoError(t, err)
		assert.Len(t, first, KeySize)
		second, err := EnsureMasterKey(dir, nil)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestParseKeyString(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	fromB64, err := ParseKeyString(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, fromB64)

	fromRaw, err := ParseKeyString(string(bytes.Repeat([]byte("k"), KeySize)))
	require.NoError(t, err)
	assert.Len(t, fromRaw, KeySize)

	_, err = ParseKeyString("")
	assert.Error(t, err)
	_, err = ParseKeyString("too-short")
	assert.Error(t, err)
}

func TestDeriveMasterKey(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)

	first, err := DeriveMasterKey([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	same, err := DeriveMasterKey([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	assert.Equal(t, first, same)

	other, err := DeriveMasterKey([]byte("different passphrase"), salt)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = DeriveMasterKey(nil, salt)
	assert.Error(t, err)
	_, err = DeriveMasterKey([]byte("p"), []byte("short"))
	assert.Error(t, err)
}

func TestSplitAndCombineMasterKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	shares, err := SplitMasterKey(key, 2, 3)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	// Any threshold-sized subset reconstructs the key.
	recovered, err := CombineMasterShares([][]byte{shares[0], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, key, recovered)

	_, err = SplitMasterKey(make([]byte, 16), 2, 3)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
