package cryptox

import (
	"bytes"
	"testing"

	"github.com/francitoshi/lettera/internal/common"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestSealJSON_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 32)
	in := sample{ID: 1, Name: "alice"}

	blob, err := SealJSON(in, key, []byte("accounts/alice"))
	require.NoError(t, err)
	require.NotContains(t, string(blob), "alice")

	var out sample
	require.NoError(t, OpenJSON(blob, key, []byte("accounts/alice"), &out))
	require.Equal(t, in, out)
}

func TestOpen_WrongKeyOrAAD(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 32)
	blob, err := Seal([]byte("hello"), key, []byte("a"))
	require.NoError(t, err)

	_, err = Open(blob, key, []byte("b"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	_, err = Open(blob, bytes.Repeat([]byte{8}, 32), []byte("a"))
	require.ErrorIs(t, err, common.ErrAuthentication)

	_, err = Open(blob[:5], key, []byte("a"))
	require.ErrorIs(t, err, common.ErrMalformed)
}

func TestSeal_BadKeyLength(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"), nil)
	require.Error(t, err)
}
