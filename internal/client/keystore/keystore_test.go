package keystore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/cryptox"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) *cryptox.Secret {
	t.Helper()
	k, err := DeriveKey(cryptox.NewSecret(bytes.Repeat([]byte{seed}, 32)), []byte("params-salt"))
	require.NoError(t, err)
	return k
}

func TestOpen_MissingFileIsFirstRun(t *testing.T) {
	ks, err := Open(filepath.Join(t.TempDir(), "keystore.bin"), testKey(t, 1))
	require.NoError(t, err)
	_, ok := ks.Get(StoreLabel)
	require.False(t, ok)
	require.False(t, ks.Modified())
}

func TestStorePassphrase_GeneratedOnceAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.bin")

	ks, err := Open(path, testKey(t, 1))
	require.NoError(t, err)
	pass, created, err := ks.StorePassphrase()
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, pass, StorePassphraseSize)
	require.True(t, ks.Modified())
	require.NoError(t, ks.Store(path))
	require.False(t, ks.Modified())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, pass))

	reopened, err := Open(path, testKey(t, 1))
	require.NoError(t, err)
	again, created, err := reopened.StorePassphrase()
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, pass, again)
}

func TestOpen_WrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.bin")
	ks, err := Open(path, testKey(t, 1))
	require.NoError(t, err)
	ks.Set("x", []byte("y"))
	require.NoError(t, ks.Store(path))

	_, err = Open(path, testKey(t, 2))
	require.ErrorIs(t, err, common.ErrCannotUnlock)
}

func TestOpen_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a keystore"), 0o600))
	_, err := Open(path, testKey(t, 1))
	require.ErrorIs(t, err, common.ErrCannotUnlock)
}

func TestOpen_FailureWipesKeyCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.bin")
	ks, err := Open(path, testKey(t, 1))
	require.NoError(t, err)
	ks.Set("x", []byte("y"))
	require.NoError(t, ks.Store(path))

	var failed []*Keystore
	orig := closeKeystore
	closeKeystore = func(k *Keystore) {
		failed = append(failed, k)
		orig(k)
	}
	t.Cleanup(func() { closeKeystore = orig })

	_, err = Open(path, testKey(t, 2))
	require.ErrorIs(t, err, common.ErrCannotUnlock)
	require.NoError(t, os.WriteFile(path, []byte("not a keystore"), 0o600))
	_, err = Open(path, testKey(t, 1))
	require.ErrorIs(t, err, common.ErrCannotUnlock)

	require.Len(t, failed, 2)
	for _, k := range failed {
		require.Equal(t, [keySize]byte{}, k.key)
		require.Empty(t, k.entries)
	}
}

func TestStore_NoopWhenUnmodified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.bin")
	ks, err := Open(path, testKey(t, 1))
	require.NoError(t, err)
	require.NoError(t, ks.Store(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestGet_ReturnsCopy(t *testing.T) {
	ks, err := Open(filepath.Join(t.TempDir(), "k"), testKey(t, 1))
	require.NoError(t, err)
	ks.Set("a", []byte("value"))
	v, _ := ks.Get("a")
	common.WipeByteArray(v)
	again, _ := ks.Get("a")
	require.Equal(t, "value", string(again))

	ks.Close()
	_, ok := ks.Get("a")
	require.False(t, ok)
}

func TestOpen_RejectsShortKey(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "k"), cryptox.NewSecret([]byte("short")))
	require.Error(t, err)
}
