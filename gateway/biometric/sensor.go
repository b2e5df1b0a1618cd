package biometric

import (
	"context"
	"os"
	"strings"
)

// SimulateEnv selects the outcome of SimulatedSensor prompts.
const SimulateEnv = "ESCROWKIT_BIOMETRIC_SIMULATE"

// SimulatedSensor stands in for platform biometrics on headless hosts. Its
// behaviour comes from Mode, or from SimulateEnv when Mode is empty:
//
//	pass        prompts succeed
//	fail        prompts are cancelled
//	unsupported no biometric hardware (default)
type SimulatedSensor struct {
	Mode string
}

func (s SimulatedSensor) mode() string {
	mode := s.Mode
	if mode == "" {
		mode = os.Getenv(SimulateEnv)
	}
	return strings.ToLower(strings.TrimSpace(mode))
}

func (s SimulatedSensor) Supported(context.Context) bool {
	switch s.mode() {
	case "pass", "fail":
		return true
	}
	return false
}

func (s SimulatedSensor) Prompt(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch s.mode() {
	case "pass":
		return nil
	case "fail":
		return ErrCancelled
	}
	return ErrUnsupported
}
