package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"escrowkit/observability/otel"
	"escrowkit/transport"
)

const (
	PathVerifyTxPin       = "/api/auth/verifyTxPin"
	PathVerifyLoginPin    = "/api/auth/verify_login_pin"
	PathCreateLoginPin    = "/api/auth/create_login_pin"
	PathUpdatePin         = "/api/auth/update_pin"
	PathBiometricEnable   = "/api/auth/biometric/enable"
	PathBiometricValidate = "/api/auth/biometric/validate"
	PathBiometricDisable  = "/api/auth/biometric/disable"

	pinLength = 6
)

// ErrInvalidPINFormat is returned before any request when a PIN is not
// exactly six ASCII digits.
var ErrInvalidPINFormat = errors.New("auth: pin must be 6 digits")

// ValidatePIN checks the local PIN format.
func ValidatePIN(pin string) error {
	if len(pin) != pinLength {
		return ErrInvalidPINFormat
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPINFormat
		}
	}
	return nil
}

// Client calls the PIN and biometric session endpoints.
type Client struct {
	api transport.Poster
}

// NewClient wraps a transport.
func NewClient(api transport.Poster) *Client {
	return &Client{api: api}
}

type pinRequest struct {
	UserID string `json:"userId"`
	Pin    string `json:"pin"`
}

// VerifyTxPin checks a transaction PIN. A false result with a nil error means
// the backend rejected the PIN.
func (c *Client) VerifyTxPin(ctx context.Context, userID, pin string) (bool, error) {
	return c.verify(ctx, PathVerifyTxPin, userID, pin)
}

// VerifyLoginPin checks the login PIN on the manual sign-in path.
func (c *Client) VerifyLoginPin(ctx context.Context, userID, pin string) (bool, error) {
	return c.verify(ctx, PathVerifyLoginPin, userID, pin)
}

func (c *Client) verify(ctx context.Context, path, userID, pin string) (bool, error) {
	ctx, span := otel.Tracer().Start(ctx, "auth.verify_pin")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", path))

	if err := ValidatePIN(pin); err != nil {
		return false, err
	}
	var raw json.RawMessage
	if err := c.api.Post(ctx, path, pinRequest{UserID: userID, Pin: pin}, &raw); err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 400 || apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
			return false, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	ok, err := transport.DecodeSignal(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("verify pin: %w", err)
	}
	return ok, nil
}

// CreateLoginPin registers the user's first login PIN.
func (c *Client) CreateLoginPin(ctx context.Context, userID, pin string) error {
	if err := ValidatePIN(pin); err != nil {
		return err
	}
	return c.postEnvelope(ctx, PathCreateLoginPin, pinRequest{UserID: userID, Pin: pin})
}

// UpdatePin replaces an existing PIN.
func (c *Client) UpdatePin(ctx context.Context, userID, oldPin, newPin string) error {
	if err := ValidatePIN(oldPin); err != nil {
		return err
	}
	if err := ValidatePIN(newPin); err != nil {
		return err
	}
	if oldPin == newPin {
		return errors.New("auth: new pin must differ from the current pin")
	}
	return c.postEnvelope(ctx, PathUpdatePin, map[string]string{
		"userId": userID,
		"oldPin": oldPin,
		"newPin": newPin,
	})
}

// IssueBiometricToken asks the backend for a device-bound session token.
func (c *Client) IssueBiometricToken(ctx context.Context, userID, deviceID string) (string, error) {
	var env transport.Envelope[struct {
		Token string `json:"token"`
	}]
	err := c.api.Post(ctx, PathBiometricEnable, map[string]string{"userId": userID, "deviceId": deviceID}, &env)
	if err != nil {
		return "", err
	}
	if err := env.Err(); err != nil {
		return "", err
	}
	token := strings.TrimSpace(env.Data.Token)
	if token == "" {
		return "", errors.New("auth: backend issued an empty biometric token")
	}
	return token, nil
}

// ValidateBiometricToken trades a stored token for the user id it was issued
// to. ok is false when the backend refuses the token.
func (c *Client) ValidateBiometricToken(ctx context.Context, token, deviceID string) (string, bool, error) {
	var raw json.RawMessage
	err := c.api.Post(ctx, PathBiometricValidate, map[string]string{"token": token, "deviceId": deviceID}, &raw)
	if err != nil {
		return "", false, err
	}
	ok, err := transport.DecodeSignal(raw)
	if err != nil || !ok {
		return "", false, err
	}
	var env transport.Envelope[struct {
		UserID string `json:"userId"`
	}]
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false, fmt.Errorf("decode biometric validation: %w", err)
	}
	return strings.TrimSpace(env.Data.UserID), true, nil
}

// DeactivateBiometric revokes the device's biometric session server-side.
func (c *Client) DeactivateBiometric(ctx context.Context, userID, deviceID string) error {
	return c.postEnvelope(ctx, PathBiometricDisable, map[string]string{"userId": userID, "deviceId": deviceID})
}

func (c *Client) postEnvelope(ctx context.Context, path string, body any) error {
	var env transport.Envelope[json.RawMessage]
	if err := c.api.Post(ctx, path, body, &env); err != nil {
		return err
	}
	return env.Err()
}
