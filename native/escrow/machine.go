package escrow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition is returned when the current status has no edge for
	// the requested action.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
	// ErrUnauthorizedActor is returned when the actor does not hold a role the
	// edge permits.
	ErrUnauthorizedActor = errors.New("escrow: unauthorized actor")
	errNilEscrow         = errors.New("escrow: nil escrow")
)

// Role identifies who may take an edge.
type Role string

const (
	RolePayer    Role = "payer"
	RolePayee    Role = "payee"
	RoleResolver Role = "resolver"
)

type edgeKey struct {
	from   Status
	action Action
}

type edge struct {
	to    Status
	roles []Role
}

var transitions = map[edgeKey]edge{
	{StatusPending, ActionFund}:      {to: StatusFunded, roles: []Role{RolePayer}},
	{StatusPending, ActionCancel}:    {to: StatusCancelled, roles: []Role{RolePayer, RolePayee}},
	{StatusFunded, ActionDeliver}:    {to: StatusDelivered, roles: []Role{RolePayee}},
	{StatusFunded, ActionDispute}:    {to: StatusDisputed, roles: []Role{RolePayer, RolePayee}},
	{StatusFunded, ActionRelease}:    {to: StatusReleased, roles: []Role{RolePayer}},
	{StatusFunded, ActionRefund}:     {to: StatusRefunded, roles: []Role{RolePayee}},
	{StatusDelivered, ActionRelease}: {to: StatusReleased, roles: []Role{RolePayer}},
	{StatusDelivered, ActionDispute}: {to: StatusDisputed, roles: []Role{RolePayer, RolePayee}},
	{StatusDisputed, ActionRelease}:  {to: StatusReleased, roles: []Role{RoleResolver}},
	{StatusDisputed, ActionRefund}:   {to: StatusRefunded, roles: []Role{RoleResolver}},
}

// Next returns the status reached by taking action from the given status.
func Next(from Status, action Action) (Status, bool) {
	e, ok := transitions[edgeKey{from, action}]
	if !ok {
		return "", false
	}
	return e.to, true
}

// Roles returns the roles allowed to take the edge, or nil when no edge exists.
func Roles(from Status, action Action) []Role {
	e, ok := transitions[edgeKey{from, action}]
	if !ok {
		return nil
	}
	out := make([]Role, len(e.roles))
	copy(out, e.roles)
	return out
}

// Machine mirrors the server's escrow transition rules for UI gating,
// validation and optimistic updates. Resolvers are user ids allowed to settle
// disputes.
type Machine struct {
	resolvers map[string]struct{}
	nowFn     func() time.Time
}

// NewMachine builds a machine with the supplied dispute resolver ids.
func NewMachine(resolvers ...string) *Machine {
	m := &Machine{resolvers: make(map[string]struct{}), nowFn: time.Now}
	for _, id := range resolvers {
		id = NormalizeID(id)
		if id != "" {
			m.resolvers[id] = struct{}{}
		}
	}
	return m
}

// SetNowFunc overrides the clock used to stamp transactions. Passing nil
// restores time.Now.
func (m *Machine) SetNowFunc(now func() time.Time) {
	if now == nil {
		m.nowFn = time.Now
		return
	}
	m.nowFn = now
}

func (m *Machine) now() time.Time {
	if m == nil || m.nowFn == nil {
		return time.Now()
	}
	return m.nowFn()
}

// IsResolver reports whether the id is a configured dispute resolver.
func (m *Machine) IsResolver(userID string) bool {
	if m == nil {
		return false
	}
	_, ok := m.resolvers[NormalizeID(userID)]
	return ok
}

func (m *Machine) rolesFor(e *Escrow, userID string) []Role {
	var roles []Role
	if role, ok := e.RoleOf(userID); ok {
		roles = append(roles, role)
	}
	if m.IsResolver(userID) {
		roles = append(roles, RoleResolver)
	}
	return roles
}

// Check verifies that the escrow's current status has an edge for the action
// and that the actor holds one of the roles permitted to take it.
func (m *Machine) Check(e *Escrow, action Action, actorID string) error {
	if e == nil {
		return errNilEscrow
	}
	ed, ok := transitions[edgeKey{e.Status, action}]
	if !ok {
		return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidTransition, action, e.Status)
	}
	held := m.rolesFor(e, actorID)
	for _, allowed := range ed.roles {
		for _, role := range held {
			if role == allowed {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q cannot %s in status %s", ErrUnauthorizedActor, actorID, action, e.Status)
}

// Allowed lists the actions the actor may request from the escrow's current
// status. Terminal escrows yield nil.
func (m *Machine) Allowed(e *Escrow, actorID string) []Action {
	if e == nil || e.Status.Terminal() {
		return nil
	}
	var out []Action
	for _, action := range Actions {
		if m.Check(e, action, actorID) == nil {
			out = append(out, action)
		}
	}
	return out
}

// Apply returns a copy of e advanced along the action's edge with one
// transaction appended. It checks the edge only: roles are the server's
// concern once it has accepted the request. The input is never mutated.
func (m *Machine) Apply(e *Escrow, action Action, actorID string) (*Escrow, error) {
	if e == nil {
		return nil, errNilEscrow
	}
	to, ok := Next(e.Status, action)
	if !ok {
		return nil, fmt.Errorf("%w: cannot %s in status %s", ErrInvalidTransition, action, e.Status)
	}
	next := e.Clone()
	next.Status = to
	next.Transactions = append(next.Transactions, Transaction{
		EscrowID:  e.ID,
		Action:    action,
		Actor:     e.Party(actorID),
		Amount:    e.Amount,
		CreatedAt: m.now().UTC(),
	})
	return next, nil
}
