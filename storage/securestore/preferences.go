package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	keyDeviceID          = "device.id"
	keyBiometricSession  = "biometric.session"
	keyRequirePINOnStart = "prefs.require_pin_on_launch"
	keyBalanceVisible    = "prefs.balance_visible"
)

// BiometricSession is the device-bound credential issued after a successful
// biometric enrollment.
type BiometricSession struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

// Preferences exposes the typed values the client keeps in secure storage.
type Preferences struct {
	store Store

	deviceMu sync.Mutex
}

// NewPreferences wraps a secure store.
func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// DeviceID returns the stable per-install identifier, creating it on first use.
func (p *Preferences) DeviceID(ctx context.Context) (string, error) {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()
	raw, err := p.store.Get(ctx, keyDeviceID)
	switch {
	case err == nil && strings.TrimSpace(string(raw)) != "":
		return string(raw), nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("load device id: %w", err)
	}
	id := uuid.NewString()
	if err := p.store.Put(ctx, keyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// BiometricSession returns the stored session, or ok=false when biometrics
// were never enabled or have been disabled.
func (p *Preferences) BiometricSession(ctx context.Context) (BiometricSession, bool, error) {
	var session BiometricSession
	raw, err := p.store.Get(ctx, keyBiometricSession)
	if errors.Is(err, ErrNotFound) {
		return session, false, nil
	}
	if err != nil {
		return session, false, fmt.Errorf("load biometric session: %w", err)
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return session, false, fmt.Errorf("decode biometric session: %w", err)
	}
	if session.Token == "" {
		return session, false, nil
	}
	return session, true, nil
}

// BiometricToken returns the stored token, or "" when none is stored.
func (p *Preferences) BiometricToken(ctx context.Context) (string, error) {
	session, ok, err := p.BiometricSession(ctx)
	if err != nil || !ok {
		return "", err
	}
	return session.Token, nil
}

// SaveBiometricToken persists a freshly issued token bound to this device.
func (p *Preferences) SaveBiometricToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("biometric token required")
	}
	deviceID, err := p.DeviceID(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(BiometricSession{Token: token, DeviceID: deviceID})
	if err != nil {
		return fmt.Errorf("encode biometric session: %w", err)
	}
	return p.store.Put(ctx, keyBiometricSession, raw)
}

// ClearBiometricToken removes the stored session.
func (p *Preferences) ClearBiometricToken(ctx context.Context) error {
	return p.store.Delete(ctx, keyBiometricSession)
}

// RequirePINOnLaunch reports whether biometric bypass is disabled at start-up.
func (p *Preferences) RequirePINOnLaunch(ctx context.Context) (bool, error) {
	return p.flag(ctx, keyRequirePINOnStart, false)
}

// SetRequirePINOnLaunch stores the require-PIN-on-launch flag.
func (p *Preferences) SetRequirePINOnLaunch(ctx context.Context, on bool) error {
	return p.store.Put(ctx, keyRequirePINOnStart, []byte(strconv.FormatBool(on)))
}

// BalanceVisible reports whether balances are shown. Defaults to true.
func (p *Preferences) BalanceVisible(ctx context.Context) (bool, error) {
	return p.flag(ctx, keyBalanceVisible, true)
}

// SetBalanceVisible stores the balance visibility preference.
func (p *Preferences) SetBalanceVisible(ctx context.Context, visible bool) error {
	return p.store.Put(ctx, keyBalanceVisible, []byte(strconv.FormatBool(visible)))
}

func (p *Preferences) flag(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := p.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("load %s: %w", key, err)
	}
	value, err := strconv.ParseBool(strings.TrimSpace(string(raw)))
	if err != nil {
		return fallback, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
