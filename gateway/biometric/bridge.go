// Package biometric lets a device biometric check stand in for PIN entry at
// login by trading a device-bound session token with the backend.
package biometric

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"escrowkit/notify"
	"escrowkit/observability/metrics"
)

var (
	// ErrUnsupported is returned by sensors on hardware without biometrics.
	ErrUnsupported = errors.New("biometric: hardware not available")
	// ErrCancelled is returned when the user dismisses the platform prompt.
	ErrCancelled = errors.New("biometric: prompt cancelled")
)

const noticeTitle = "Biometrics"

// Sensor is the platform biometric prompt.
type Sensor interface {
	Supported(ctx context.Context) bool
	// Prompt runs the biometric check and returns nil when the user passed.
	Prompt(ctx context.Context, reason string) error
}

// SessionAPI issues, validates and revokes device-bound session tokens.
type SessionAPI interface {
	IssueBiometricToken(ctx context.Context, userID, deviceID string) (string, error)
	ValidateBiometricToken(ctx context.Context, token, deviceID string) (string, bool, error)
	DeactivateBiometric(ctx context.Context, userID, deviceID string) error
}

// TokenStore is the secure on-device home of the session token.
type TokenStore interface {
	DeviceID(ctx context.Context) (string, error)
	BiometricToken(ctx context.Context) (string, error)
	SaveBiometricToken(ctx context.Context, token string) error
	ClearBiometricToken(ctx context.Context) error
}

// Options wires optional collaborators.
type Options struct {
	Metrics *metrics.ClientMetrics
	Logger  *slog.Logger
}

// Bridge owns the biometric toggle.
type Bridge struct {
	sensor   Sensor
	api      SessionAPI
	tokens   TokenStore
	notifier notify.Notifier
	metrics  *metrics.ClientMetrics
	logger   *slog.Logger

	mu      sync.Mutex
	enabled bool
}

// NewBridge builds a bridge with the toggle off. Call Load to read the stored
// state.
func NewBridge(sensor Sensor, api SessionAPI, tokens TokenStore, notifier notify.Notifier, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Func(nil)
	}
	return &Bridge{
		sensor:   sensor,
		api:      api,
		tokens:   tokens,
		notifier: notifier,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", "biometric_bridge")),
	}
}

// Load sets the toggle from secure storage: on exactly when a token is stored.
func (b *Bridge) Load(ctx context.Context) error {
	token, err := b.tokens.BiometricToken(ctx)
	if err != nil {
		return err
	}
	b.setEnabled(token != "")
	return nil
}

// Enabled reports the toggle.
func (b *Bridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled enrolls or disables biometrics for userID and returns the
// resulting toggle. Enabling leaves the toggle off on any failure. Disabling
// keeps it on unless the backend confirmed the deactivation.
func (b *Bridge) SetEnabled(ctx context.Context, userID string, on bool) bool {
	if on {
		return b.enable(ctx, userID)
	}
	return b.disable(ctx, userID)
}

func (b *Bridge) enable(ctx context.Context, userID string) bool {
	fail := func(msg string, err error) bool {
		b.logger.WarnContext(ctx, "biometric enrollment failed", slog.Any("error", err))
		b.metrics.RecordBiometric("enable", "failed")
		b.notifier.Notify(ctx, notify.Error(noticeTitle, msg))
		b.setEnabled(false)
		return false
	}
	if !b.sensor.Supported(ctx) {
		return fail("Biometric authentication is not available on this device.", ErrUnsupported)
	}
	if err := b.sensor.Prompt(ctx, "Confirm to enable biometric login"); err != nil {
		return fail("Biometric verification failed.", err)
	}
	deviceID, err := b.tokens.DeviceID(ctx)
	if err != nil {
		return fail("Unable to enable biometrics. Please try again.", err)
	}
	token, err := b.api.IssueBiometricToken(ctx, userID, deviceID)
	if err != nil {
		return fail("Unable to enable biometrics. Please try again.", err)
	}
	if err := b.tokens.SaveBiometricToken(ctx, token); err != nil {
		return fail("Unable to enable biometrics. Please try again.", err)
	}
	b.metrics.RecordBiometric("enable", "ok")
	b.setEnabled(true)
	return true
}

func (b *Bridge) disable(ctx context.Context, userID string) bool {
	prior := b.Enabled()
	fail := func(err error) bool {
		b.logger.WarnContext(ctx, "biometric deactivation failed", slog.Any("error", err))
		b.metrics.RecordBiometric("disable", "failed")
		b.notifier.Notify(ctx, notify.Error(noticeTitle, "Unable to disable biometrics. Please try again."))
		b.setEnabled(prior)
		return prior
	}
	deviceID, err := b.tokens.DeviceID(ctx)
	if err != nil {
		return fail(err)
	}
	if err := b.api.DeactivateBiometric(ctx, userID, deviceID); err != nil {
		return fail(err)
	}
	if err := b.tokens.ClearBiometricToken(ctx); err != nil {
		// Server side is already revoked.
		b.logger.WarnContext(ctx, "clear biometric token", slog.Any("error", err))
	}
	b.metrics.RecordBiometric("disable", "ok")
	b.setEnabled(false)
	return false
}

// TryBypass runs the login bypass. It returns the authenticated user id and
// true only when a stored token exists, the biometric prompt passes and the
// backend accepts the token for this device. Every failure falls through
// silently to manual PIN entry.
func (b *Bridge) TryBypass(ctx context.Context) (string, bool) {
	token, err := b.tokens.BiometricToken(ctx)
	if err != nil || token == "" {
		if err != nil {
			b.logger.DebugContext(ctx, "read biometric token", slog.Any("error", err))
		}
		return "", false
	}
	miss := func(stage string, err error) (string, bool) {
		b.logger.DebugContext(ctx, "biometric bypass unavailable", slog.String("stage", stage), slog.Any("error", err))
		b.metrics.RecordBiometric("validate", stage)
		return "", false
	}
	if !b.sensor.Supported(ctx) {
		return miss("unsupported", ErrUnsupported)
	}
	if err := b.sensor.Prompt(ctx, "Sign in with biometrics"); err != nil {
		return miss("prompt", err)
	}
	deviceID, err := b.tokens.DeviceID(ctx)
	if err != nil {
		return miss("device", err)
	}
	userID, ok, err := b.api.ValidateBiometricToken(ctx, token, deviceID)
	if err != nil {
		return miss("transport", err)
	}
	if !ok || userID == "" {
		return miss("rejected", nil)
	}
	b.metrics.RecordBiometric("validate", "ok")
	return userID, true
}

func (b *Bridge) setEnabled(on bool) {
	b.mu.Lock()
	b.enabled = on
	b.mu.Unlock()
}
