// Package login runs the sign-in strategies in order and converges every
// successful path on a single authenticated signal.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Method names the strategy that authenticated a session.
type Method string

const (
	MethodBiometric Method = "biometric"
	MethodPIN       Method = "pin"
)

var (
	// ErrNotAuthenticated is returned when every strategy fell through.
	ErrNotAuthenticated = errors.New("login: not authenticated")
	// ErrCancelled is returned by prompters when the user backs out.
	ErrCancelled = errors.New("login: cancelled")
)

// Session is the authenticated signal.
type Session struct {
	UserID string
	Method Method
}

// Strategy is one way of signing in. A strategy that cannot authenticate
// returns ok=false; err is reserved for conditions that should stop the
// login entirely.
type Strategy interface {
	Method() Method
	Authenticate(ctx context.Context) (userID string, ok bool, err error)
}

// LaunchPolicy reports whether the user asked to always type the PIN.
type LaunchPolicy interface {
	RequirePINOnLaunch(ctx context.Context) (bool, error)
}

// Coordinator walks strategies in order.
type Coordinator struct {
	strategies []Strategy
	policy     LaunchPolicy
	logger     *slog.Logger

	mu          sync.Mutex
	session     *Session
	nextSubID   uint64
	subscribers map[uint64]func(Session)
}

// NewCoordinator builds a coordinator. policy may be nil.
func NewCoordinator(policy LaunchPolicy, logger *slog.Logger, strategies ...Strategy) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		strategies:  strategies,
		policy:      policy,
		logger:      logger.With(slog.String("component", "login")),
		subscribers: make(map[uint64]func(Session)),
	}
}

// Subscribe registers fn for successful logins.
func (c *Coordinator) Subscribe(fn func(Session)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Current returns the active session.
func (c *Coordinator) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Logout drops the active session.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Login tries each strategy until one authenticates. Biometric strategies
// are skipped when the launch policy requires the PIN.
func (c *Coordinator) Login(ctx context.Context) (Session, error) {
	requirePIN := false
	if c.policy != nil {
		v, err := c.policy.RequirePINOnLaunch(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "read launch policy", slog.Any("error", err))
		}
		requirePIN = v
	}
	for _, strategy := range c.strategies {
		method := strategy.Method()
		if requirePIN && method == MethodBiometric {
			continue
		}
		userID, ok, err := strategy.Authenticate(ctx)
		if err != nil {
			return Session{}, fmt.Errorf("%s login: %w", method, err)
		}
		if !ok {
			c.logger.DebugContext(ctx, "login strategy fell through", slog.String("method", string(method)))
			continue
		}
		return c.authenticated(ctx, Session{UserID: userID, Method: method}), nil
	}
	return Session{}, ErrNotAuthenticated
}

func (c *Coordinator) authenticated(ctx context.Context, session Session) Session {
	c.mu.Lock()
	c.session = &session
	subs := make([]func(Session), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "authenticated",
		slog.String("user_id", session.UserID),
		slog.String("method", string(session.Method)))
	for _, fn := range subs {
		fn(session)
	}
	return session
}
