package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowkit/transport"
)

type stubPoster struct {
	paths    []string
	bodies   []any
	response string
	err      error
}

func (s *stubPoster) Post(_ context.Context, path string, body, out any) error {
	s.paths = append(s.paths, path)
	s.bodies = append(s.bodies, body)
	if s.err != nil {
		return s.err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(s.response), out)
}

func TestValidatePIN(t *testing.T) {
	require.NoError(t, ValidatePIN("012345"))
	for _, pin := range []string{"", "12345", "1234567", "12345a", "١٢٣٤٥٦"} {
		require.ErrorIs(t, ValidatePIN(pin), ErrInvalidPINFormat, pin)
	}
}

func TestVerifyTxPin(t *testing.T) {
	api := &stubPoster{response: `{"status":true}`}
	client := NewClient(api)

	ok, err := client.VerifyTxPin(context.Background(), "U1", "123456")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{PathVerifyTxPin}, api.paths)
	require.Equal(t, pinRequest{UserID: "U1", Pin: "123456"}, api.bodies[0])

	api.response = `{"status":false,"message":"wrong pin"}`
	ok, err = client.VerifyTxPin(context.Background(), "U1", "000000")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyTxPinTreatsAuthStatusAsRejection(t *testing.T) {
	api := &stubPoster{err: &transport.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid PIN"}}
	ok, err := NewClient(api).VerifyTxPin(context.Background(), "U1", "000000")
	require.NoError(t, err)
	require.False(t, ok)

	api.err = &transport.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	_, err = NewClient(api).VerifyTxPin(context.Background(), "U1", "000000")
	require.Error(t, err)
}

func TestVerifySkipsRequestForMalformedPIN(t *testing.T) {
	api := &stubPoster{response: `true`}
	_, err := NewClient(api).VerifyLoginPin(context.Background(), "U1", "12")
	require.ErrorIs(t, err, ErrInvalidPINFormat)
	require.Empty(t, api.paths)
}

func TestUpdatePinRejectsSamePin(t *testing.T) {
	api := &stubPoster{response: `{"status":true}`}
	require.Error(t, NewClient(api).UpdatePin(context.Background(), "U1", "111111", "111111"))
	require.Empty(t, api.paths)

	require.NoError(t, NewClient(api).UpdatePin(context.Background(), "U1", "111111", "222222"))
	require.Equal(t, []string{PathUpdatePin}, api.paths)

	api.response = `{"status":false,"message":"old pin mismatch"}`
	err := NewClient(api).CreateLoginPin(context.Background(), "U1", "333333")
	require.ErrorIs(t, err, transport.ErrRejected)
}

func TestBiometricRoundTrip(t *testing.T) {
	api := &stubPoster{response: `{"status":true,"data":{"token":"tok-1"}}`}
	client := NewClient(api)

	token, err := client.IssueBiometricToken(context.Background(), "U1", "dev-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)

	api.response = `{"status":true,"data":{"token":""}}`
	_, err = client.IssueBiometricToken(context.Background(), "U1", "dev-1")
	require.Error(t, err)

	api.response = `{"status":true,"data":{"userId":"U1","valid":true}}`
	userID, ok, err := client.ValidateBiometricToken(context.Background(), "tok-1", "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "U1", userID)

	api.response = `{"status":false,"message":"revoked"}`
	_, ok, err = client.ValidateBiometricToken(context.Background(), "tok-1", "dev-1")
	require.NoError(t, err)
	require.False(t, ok)

	api.err = errors.New("offline")
	require.Error(t, client.DeactivateBiometric(context.Background(), "U1", "dev-1"))
}
