package login

import (
	"context"
	"errors"
	"fmt"

	"escrowkit/notify"
	"escrowkit/services/auth"
	"escrowkit/transport"
)

// Bypasser is the biometric login bypass.
type Bypasser interface {
	TryBypass(ctx context.Context) (string, bool)
}

// BiometricStrategy signs in with a stored biometric session token.
type BiometricStrategy struct {
	Bridge Bypasser
}

func (BiometricStrategy) Method() Method { return MethodBiometric }

func (s BiometricStrategy) Authenticate(ctx context.Context) (string, bool, error) {
	if s.Bridge == nil {
		return "", false, nil
	}
	userID, ok := s.Bridge.TryBypass(ctx)
	return userID, ok, nil
}

// Prompter collects manual credentials. It returns ErrCancelled when the
// user backs out.
type Prompter interface {
	PromptLogin(ctx context.Context, retryMessage string) (userID, pin string, err error)
}

// LoginVerifier checks a login PIN.
type LoginVerifier interface {
	VerifyLoginPin(ctx context.Context, userID, pin string) (bool, error)
}

// PINStrategy signs in with a user id and login PIN. It keeps prompting after
// a rejection until the prompter gives up.
type PINStrategy struct {
	Prompter Prompter
	Verifier LoginVerifier
	Haptics  notify.Haptics
}

func (PINStrategy) Method() Method { return MethodPIN }

func (s PINStrategy) Authenticate(ctx context.Context) (string, bool, error) {
	retry := ""
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		userID, pin, err := s.Prompter.PromptLogin(ctx, retry)
		if errors.Is(err, ErrCancelled) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("prompt: %w", err)
		}
		if auth.ValidatePIN(pin) != nil {
			retry = "PIN must be 6 digits"
			continue
		}
		ok, err := s.Verifier.VerifyLoginPin(ctx, userID, pin)
		if err == nil && ok {
			return userID, true, nil
		}
		retry = "Invalid PIN"
		if err != nil {
			retry = transport.UserMessage(err, "Unable to verify PIN. Please try again.")
		}
		if s.Haptics != nil {
			s.Haptics.Failure()
		}
	}
}
