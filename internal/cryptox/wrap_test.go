package cryptox

import (
	"bytes"
	"strings"
	"testing"

	"github.com/francitoshi/lettera/internal/common"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T, seed byte) *Wrapper {
	t.Helper()
	w, err := NewWrapper(NewSecret(bytes.Repeat([]byte{seed}, MasterKeySize)))
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestWrapper_RoundTrip(t *testing.T) {
	w := newTestWrapper(t, 1)

	v, err := w.Wrap(PurposeEmail, "alice", []byte("app-password"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(v), "v1."))
	require.NotContains(t, string(v), "app-password")

	pt, err := w.Unwrap(PurposeEmail, "alice", v)
	require.NoError(t, err)
	require.Equal(t, "app-password", string(pt))
}

func TestWrapper_FreshRandomness(t *testing.T) {
	w := newTestWrapper(t, 1)
	a, err := w.Wrap(PurposeEmail, "alice", []byte("x"))
	require.NoError(t, err)
	b, err := w.Wrap(PurposeEmail, "alice", []byte("x"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestWrapper_LabelBinding(t *testing.T) {
	w := newTestWrapper(t, 1)
	v, err := w.Wrap(PurposeEmail, "alice", []byte("secret"))
	require.NoError(t, err)

	_, err = w.Unwrap(PurposeSigningKey, "alice", v)
	require.ErrorIs(t, err, common.ErrAuthentication)

	_, err = w.Unwrap(PurposeEmail, "bob", v)
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestWrapper_DifferentMaster(t *testing.T) {
	v, err := newTestWrapper(t, 1).Wrap(PurposeSigningKey, "alice", []byte("gpg-pass"))
	require.NoError(t, err)

	_, err = newTestWrapper(t, 2).Unwrap(PurposeSigningKey, "alice", v)
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestWrapper_Tampering(t *testing.T) {
	w := newTestWrapper(t, 1)
	v, err := w.Wrap(PurposeEmail, "alice", []byte("secret"))
	require.NoError(t, err)

	b := []byte(v)
	i := len(b) - 3
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	_, err = w.Unwrap(PurposeEmail, "alice", Wrapped(b))
	require.Error(t, err)

	_, err = w.Unwrap(PurposeEmail, "alice", "v0.abc")
	require.ErrorIs(t, err, common.ErrMalformed)

	_, err = w.Unwrap(PurposeEmail, "alice", "v1.AAAA")
	require.ErrorIs(t, err, common.ErrMalformed)
}

func TestWrapper_ClosedFails(t *testing.T) {
	w, err := NewWrapper(NewSecret(bytes.Repeat([]byte{3}, MasterKeySize)))
	require.NoError(t, err)
	w.Close()
	_, err = w.Wrap(PurposeEmail, "alice", []byte("x"))
	require.Error(t, err)
}
