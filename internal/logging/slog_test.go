package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TextLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatText, true, &buf)
	require.NoError(t, err)
	ctx := context.Background()

	log.Debug(ctx, "cycle", "sent", 0)
	log.Info(ctx, "chat started", "chat", "alice-bob")
	log.Warn(ctx, "poll failed", "attempt", 2)
	log.Error(ctx, "send failed", "note", 17)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=cycle", "sent=0",
		"level=INFO", `msg="chat started"`, "chat=alice-bob",
		"level=WARN", "attempt=2",
		"level=ERROR", "note=17",
	} {
		assert.Contains(t, out, want)
	}
}

func TestNew_InfoHidesDebug(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("", false, &buf)
	require.NoError(t, err)

	log.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestNew_JSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatJSON, false, &buf)
	require.NoError(t, err)

	log.With("chat", "alice-bob").Info(context.TODO(), "state", "to", "polling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "state", line["msg"])
	assert.Equal(t, "alice-bob", line["chat"])
	assert.Equal(t, "polling", line["to"])
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("xml", false, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNop_Discards(t *testing.T) {
	log := Nop()
	log.With("k", "v").Error(context.Background(), "ignored")
}

func TestNew_RedactsSecretKeys(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatText, false, &buf)
	require.NoError(t, err)

	log.With("email_password", "hunter2").Info(context.Background(), "login", "Passphrase", "open sesame", "user", "alice")

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "open sesame")
	assert.Contains(t, out, "email_password="+redacted)
	assert.Contains(t, out, "user=alice")
}
