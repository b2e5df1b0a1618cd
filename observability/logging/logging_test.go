package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrowctl", Env: "test", Level: "debug"})
	logger.Debug("pin verified", slog.String("pin", "123456"), slog.String("escrow_ref", "ESC-1"), slog.String("biometric_token", "tok"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "pin verified", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "escrowctl", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["pin"])
	require.Equal(t, RedactedValue, line["biometric_token"])
	require.Equal(t, "ESC-1", line["escrow_ref"])
	require.Contains(t, line, "timestamp")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "svc", Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestRedactCoversEveryKind(t *testing.T) {
	require.Equal(t, RedactedValue, redact(slog.String("pin", "000000")).Value.String())
	require.Equal(t, "", redact(slog.String("pin", "")).Value.String())
	require.Equal(t, RedactedValue, redact(slog.Int("newPin", 123456)).Value.String())
	require.Equal(t, "boom", redact(slog.String("error", "boom")).Value.String())
	require.Equal(t, "ESC-1", redact(slog.String("escrow_ref", "ESC-1")).Value.String())
	require.True(t, IsSensitive("Authorization"))
	require.False(t, IsSensitive("escrow_ref"))

	var buf bytes.Buffer
	New(&buf, Options{Service: "svc"}).Info("login", slog.Group("session", slog.String("access_token", "jwt"), slog.String("user", "U1")))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	session := line["session"].(map[string]any)
	require.Equal(t, RedactedValue, session["access_token"])
	require.Equal(t, "U1", session["user"])
}
