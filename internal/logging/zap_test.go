package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZapLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZapLogger(&buf, false)
	ctx := context.Background()

	log.With("chat", "alice-bob").Info(ctx, "sent", "count", 2)
	log.Debug(ctx, "hidden")
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug must be filtered at info level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "sent", entry["msg"])
	require.Equal(t, "alice-bob", entry["chat"])
	require.EqualValues(t, 2, entry["count"])
}

func TestZapLogger_DebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	log := NewZapLogger(&buf, true)
	log.Debug(context.Background(), "visible")
	require.Contains(t, buf.String(), `"msg":"visible"`)
}

func TestNew_SelectsBackend(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(FormatJSON, false, &buf)
	require.NoError(t, err)
	l.Info(context.Background(), "hello", "k", "v")
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	l, err = New(FormatText, false, &buf)
	require.NoError(t, err)
	l.Info(context.Background(), "hello")
	require.Contains(t, buf.String(), "msg=hello")

	l, err = New(FormatZap, false, &buf)
	require.NoError(t, err)
	require.IsType(t, &ZapLogger{}, l)

	_, err = New("xml", false, &buf)
	require.Error(t, err)
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.With("a", 1).Error(context.Background(), "ignored")
}
