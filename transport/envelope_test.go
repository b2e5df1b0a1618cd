package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeFalsyStatus(t *testing.T) {
	cases := map[string]bool{
		`{"status":true,"data":1}`:       true,
		`{"status":"success","data":1}`:  true,
		`{"data":1}`:                     true,
		`{"status":false,"message":"x"}`: false,
		`{"status":"error"}`:             false,
		`{"status":0}`:                   false,
		`{"success":false}`:              false,
	}
	for raw, want := range cases {
		var env Envelope[json.RawMessage]
		require.NoError(t, json.Unmarshal([]byte(raw), &env), raw)
		require.Equal(t, want, env.OK(), raw)
	}

	var env Envelope[json.RawMessage]
	require.NoError(t, json.Unmarshal([]byte(`{"status":false,"message":"Invalid PIN"}`), &env))
	require.ErrorIs(t, env.Err(), ErrRejected)
	require.Equal(t, "Invalid PIN", UserMessage(env.Err(), ""))
}

func TestDecodeSignal(t *testing.T) {
	truthy := []string{`true`, `"success"`, `{"status":true}`, `{"success":"ok"}`, `{"data":true}`, `{"status":true,"data":{"valid":true}}`, `{"valid":1}`}
	for _, raw := range truthy {
		ok, err := DecodeSignal([]byte(raw))
		require.NoError(t, err, raw)
		require.True(t, ok, raw)
	}
	falsy := []string{`false`, `{"status":false}`, `{"status":true,"data":false}`, `{"status":true,"data":{"valid":false}}`, `{"verified":"no"}`}
	for _, raw := range falsy {
		ok, err := DecodeSignal([]byte(raw))
		require.NoError(t, err, raw)
		require.False(t, ok, raw)
	}
	for _, raw := range []string{``, `null`, `{"message":"hello"}`, `[1]`} {
		_, err := DecodeSignal([]byte(raw))
		require.Error(t, err, raw)
	}
}
