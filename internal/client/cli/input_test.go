package cli

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("  hello world \r\n"), "Name?", &out)
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
	require.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleText_EOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	require.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	require.ErrorIs(t, err, io.EOF)
}

func TestGetTextDefault(t *testing.T) {
	var out bytes.Buffer
	got, err := GetTextDefault(rdr("\n"), "Host", "smtp.example.org", &out)
	require.NoError(t, err)
	require.Equal(t, "smtp.example.org", got)
	require.Contains(t, out.String(), "Host [smtp.example.org]")

	got, err = GetTextDefault(rdr("mx.example.org\n"), "Host", "smtp.example.org", &out)
	require.NoError(t, err)
	require.Equal(t, "mx.example.org", got)
}

func TestGetYesNo(t *testing.T) {
	var out bytes.Buffer
	got, err := GetYesNo(rdr("maybe\nY\n"), "Sure?", false, &out)
	require.NoError(t, err)
	require.True(t, got)
	require.Contains(t, out.String(), "please answer y or n")

	got, err = GetYesNo(rdr("\n"), "Sure?", true, &out)
	require.NoError(t, err)
	require.True(t, got)

	got, err = GetYesNo(rdr("no\n"), "Sure?", true, &out)
	require.NoError(t, err)
	require.False(t, got)
}

func TestGetNumber(t *testing.T) {
	var out bytes.Buffer
	got, err := GetNumber(rdr("abc\n99\n3\n"), "Pick", 1, 1, 5, &out)
	require.NoError(t, err)
	require.Equal(t, 3, got)
	require.Equal(t, 2, strings.Count(out.String(), "enter a number between 1 and 5"))

	got, err = GetNumber(rdr("\n"), "Pick", 2, 1, 5, &out)
	require.NoError(t, err)
	require.Equal(t, 2, got)
}

func TestGetPassword(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }
	var out bytes.Buffer
	pw, err := GetPassword(&out, "Email password")
	require.NoError(t, err)
	require.Equal(t, "s3cret", string(pw))
	require.Equal(t, "Email password: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
	_, err = GetPassword(&out, "Email password")
	require.Error(t, err)
}
