package login

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowkit/observability/logging"
	"escrowkit/storage/securestore"
)

type bypassFunc func(ctx context.Context) (string, bool)

func (f bypassFunc) TryBypass(ctx context.Context) (string, bool) { return f(ctx) }

type scriptedPrompter struct {
	entries [][2]string
	retries []string
}

func (p *scriptedPrompter) PromptLogin(_ context.Context, retry string) (string, string, error) {
	p.retries = append(p.retries, retry)
	if len(p.entries) == 0 {
		return "", "", ErrCancelled
	}
	next := p.entries[0]
	p.entries = p.entries[1:]
	return next[0], next[1], nil
}

type verifierFunc func(ctx context.Context, userID, pin string) (bool, error)

func (f verifierFunc) VerifyLoginPin(ctx context.Context, userID, pin string) (bool, error) {
	return f(ctx, userID, pin)
}

func pinAccepts(pin string) verifierFunc {
	return func(_ context.Context, _, got string) (bool, error) { return got == pin, nil }
}

func TestBiometricSuccessSkipsPIN(t *testing.T) {
	prompter := &scriptedPrompter{}
	coord := NewCoordinator(nil, logging.Discard(),
		BiometricStrategy{Bridge: bypassFunc(func(context.Context) (string, bool) { return "U1", true })},
		PINStrategy{Prompter: prompter, Verifier: pinAccepts("123456")},
	)
	var signals []Session
	coord.Subscribe(func(s Session) { signals = append(signals, s) })

	session, err := coord.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session{UserID: "U1", Method: MethodBiometric}, session)
	require.Equal(t, []Session{session}, signals)
	require.Empty(t, prompter.retries)
}

func TestBiometricFailureFallsThroughToPIN(t *testing.T) {
	prompter := &scriptedPrompter{entries: [][2]string{{"U2", "000000"}, {"U2", "12"}, {"U2", "123456"}}}
	coord := NewCoordinator(nil, logging.Discard(),
		BiometricStrategy{Bridge: bypassFunc(func(context.Context) (string, bool) { return "", false })},
		PINStrategy{Prompter: prompter, Verifier: pinAccepts("123456")},
	)
	var signals int
	coord.Subscribe(func(Session) { signals++ })

	session, err := coord.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session{UserID: "U2", Method: MethodPIN}, session)
	require.Equal(t, 1, signals)
	require.Equal(t, []string{"", "Invalid PIN", "PIN must be 6 digits"}, prompter.retries)

	current, ok := coord.Current()
	require.True(t, ok)
	require.Equal(t, session, current)
	coord.Logout()
	_, ok = coord.Current()
	require.False(t, ok)
}

func TestRequirePINOnLaunchSkipsBiometrics(t *testing.T) {
	prefs := securestore.NewPreferences(securestore.NewMemoryStore())
	require.NoError(t, prefs.SetRequirePINOnLaunch(context.Background(), true))

	bypassed := false
	coord := NewCoordinator(prefs, logging.Discard(),
		BiometricStrategy{Bridge: bypassFunc(func(context.Context) (string, bool) { bypassed = true; return "U1", true })},
		PINStrategy{Prompter: &scriptedPrompter{entries: [][2]string{{"U1", "123456"}}}, Verifier: pinAccepts("123456")},
	)
	session, err := coord.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, MethodPIN, session.Method)
	require.False(t, bypassed)
}

func TestCancelledPromptIsNotAuthenticated(t *testing.T) {
	coord := NewCoordinator(nil, logging.Discard(),
		PINStrategy{Prompter: &scriptedPrompter{}, Verifier: pinAccepts("123456")},
	)
	_, err := coord.Login(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestVerifierErrorReprompts(t *testing.T) {
	calls := 0
	prompter := &scriptedPrompter{entries: [][2]string{{"U1", "123456"}, {"U1", "123456"}}}
	strategy := PINStrategy{Prompter: prompter, Verifier: verifierFunc(func(context.Context, string, string) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("offline")
		}
		return true, nil
	})}
	userID, ok, err := strategy.Authenticate(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "U1", userID)
	require.Equal(t, "Unable to verify PIN. Please try again.", prompter.retries[1])
}
