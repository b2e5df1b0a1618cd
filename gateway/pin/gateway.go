// Package pin serialises every sensitive action behind one transaction-PIN
// prompt and one verification call.
package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"escrowkit/notify"
	"escrowkit/observability/metrics"
	"escrowkit/observability/otel"
	"escrowkit/services/auth"
)

// InvalidPINMessage is shown when verification rejects the PIN.
const InvalidPINMessage = "Invalid PIN"

var (
	// ErrPromptInFlight is returned by ConfirmPin while another authorization
	// is prompting, verifying or executing. The in-flight action is kept.
	ErrPromptInFlight = errors.New("pin: authorization already in progress")
	errNilAction      = errors.New("pin: nil action")
)

// Phase is the gateway's position in the authorization flow.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePrompting Phase = "prompting"
	PhaseVerifying Phase = "verifying"
	PhaseExecuting Phase = "executing"
	// PhaseFailed keeps the prompt open showing why the authorized action
	// failed. The action is gone; the user must start over.
	PhaseFailed    Phase = "failed"
)

// State is what a PIN modal renders.
type State struct {
	Phase   Phase
	Visible bool
	Error   string
	Loading bool
}

// Action is the sensitive operation run once the PIN is accepted.
type Action func(ctx context.Context) error

// Verifier checks a transaction PIN for a user.
type Verifier interface {
	VerifyTxPin(ctx context.Context, userID, pin string) (bool, error)
}

// Result tells the caller of OnConfirm what happened.
type Result string

const (
	ResultCompleted    Result = "completed"
	ResultInvalidPIN   Result = "invalid_pin"
	ResultActionFailed Result = "action_failed"
	// ResultStale means the prompt was closed while the request was in
	// flight; its outcome was dropped.
	ResultStale        Result = "stale"
	ResultIncomplete   Result = "incomplete"
	ResultNotPrompting Result = "not_prompting"
)

// Options wires optional collaborators.
type Options struct {
	Haptics notify.Haptics
	Metrics *metrics.ClientMetrics
	Logger  *slog.Logger
}

// Gateway is the shared PIN authorization coordinator. One instance per
// application context; screens share it by reference.
type Gateway struct {
	verifier Verifier
	haptics  notify.Haptics
	metrics  *metrics.ClientMetrics
	logger   *slog.Logger

	mu          sync.Mutex
	userID      string
	phase       Phase
	errText     string
	action      Action
	token       uint64
	nextSubID   uint64
	subscribers map[uint64]func(State)
}

// New builds an idle gateway.
func New(verifier Verifier, opts Options) *Gateway {
	g := &Gateway{
		verifier:    verifier,
		haptics:     opts.Haptics,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		phase:       PhaseIdle,
		subscribers: make(map[uint64]func(State)),
	}
	if g.haptics == nil {
		g.haptics = notify.NopHaptics{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With(slog.String("component", "pin_gateway"))
	return g
}

// SetUser sets the signed-in user whose PIN is verified.
func (g *Gateway) SetUser(userID string) {
	g.mu.Lock()
	g.userID = userID
	g.mu.Unlock()
}

// State returns the current modal state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (g *Gateway) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	g.mu.Lock()
	id := g.nextSubID
	g.nextSubID++
	g.subscribers[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.subscribers, id)
		g.mu.Unlock()
	}
}

// ConfirmPin opens the prompt and stores action to run after a successful
// verification. It fails with ErrPromptInFlight rather than replacing an
// action that is already waiting.
func (g *Gateway) ConfirmPin(action Action) error {
	if action == nil {
		return errNilAction
	}
	g.mu.Lock()
	switch g.phase {
	case PhasePrompting, PhaseVerifying, PhaseExecuting:
		g.mu.Unlock()
		return ErrPromptInFlight
	}
	g.phase = PhasePrompting
	g.errText = ""
	g.action = action
	g.token++
	state, subs := g.stateLocked(), g.subscribersLocked()
	g.mu.Unlock()
	publish(subs, state)
	return nil
}

// OnConfirm verifies pin and, on success, runs the stored action. The action
// never runs unless the verification made for this prompt succeeded.
func (g *Gateway) OnConfirm(ctx context.Context, pin string) (result Result) {
	ctx, span := otel.Tracer().Start(ctx, "pin.confirm")
	defer func() {
		span.SetAttributes(attribute.String("pin.result", string(result)))
		if result == ResultActionFailed {
			span.SetStatus(codes.Error, string(result))
		}
		span.End()
	}()

	g.mu.Lock()
	if g.phase != PhasePrompting {
		g.mu.Unlock()
		return ResultNotPrompting
	}
	if auth.ValidatePIN(pin) != nil {
		g.mu.Unlock()
		return ResultIncomplete
	}
	token, action, userID := g.token, g.action, g.userID
	g.phase = PhaseVerifying
	g.errText = ""
	state, subs := g.stateLocked(), g.subscribersLocked()
	g.mu.Unlock()
	publish(subs, state)

	ok, err := g.verifier.VerifyTxPin(ctx, userID, pin)

	g.mu.Lock()
	if g.token != token {
		g.mu.Unlock()
		g.logger.DebugContext(ctx, "dropping verification for closed prompt")
		return ResultStale
	}
	if err != nil || !ok {
		g.phase = PhasePrompting
		g.errText = InvalidPINMessage
		state, subs = g.stateLocked(), g.subscribersLocked()
		g.mu.Unlock()
		if err != nil {
			g.logger.WarnContext(ctx, "pin verification failed", slog.Any("error", err))
		}
		g.metrics.RecordPINAttempt("invalid")
		g.haptics.Failure()
		publish(subs, state)
		return ResultInvalidPIN
	}
	g.phase = PhaseExecuting
	state, subs = g.stateLocked(), g.subscribersLocked()
	g.mu.Unlock()
	g.metrics.RecordPINAttempt("accepted")
	publish(subs, state)

	runErr := runAction(ctx, action)

	g.mu.Lock()
	if g.token != token {
		g.mu.Unlock()
		return ResultStale
	}
	g.action = nil
	result = ResultCompleted
	if runErr != nil {
		g.phase = PhaseFailed
		g.errText = runErr.Error()
		result = ResultActionFailed
	} else {
		g.phase = PhaseIdle
		g.errText = ""
	}
	state, subs = g.stateLocked(), g.subscribersLocked()
	g.mu.Unlock()
	if runErr != nil {
		g.logger.InfoContext(ctx, "authorized action failed", slog.Any("error", runErr))
		span.RecordError(runErr)
	}
	publish(subs, state)
	return result
}

// runAction converts a panicking action into an error so the gateway always
// leaves the executing phase.
func runAction(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action aborted: %v", r)
		}
	}()
	return action(ctx)
}

// OnClose returns the gateway to idle from any phase, dropping the stored
// action and error. Requests already sent are not aborted; their results are
// ignored.
func (g *Gateway) OnClose() {
	g.mu.Lock()
	g.phase = PhaseIdle
	g.errText = ""
	g.action = nil
	g.token++
	state, subs := g.stateLocked(), g.subscribersLocked()
	g.mu.Unlock()
	publish(subs, state)
}

func (g *Gateway) stateLocked() State {
	return State{
		Phase:   g.phase,
		Visible: g.phase != PhaseIdle,
		Error:   g.errText,
		Loading: g.phase == PhaseVerifying || g.phase == PhaseExecuting,
	}
}

func (g *Gateway) subscribersLocked() []func(State) {
	out := make([]func(State), 0, len(g.subscribers))
	for _, fn := range g.subscribers {
		out = append(out, fn)
	}
	return out
}

func publish(subs []func(State), state State) {
	for _, fn := range subs {
		fn(state)
	}
}
