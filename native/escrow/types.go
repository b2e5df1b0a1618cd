package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle states an escrow agreement moves through.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFunded, StatusReleased, StatusRefunded,
		StatusDelivered, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Action names a transition request.
type Action string

const (
	ActionFund    Action = "fund"
	ActionRelease Action = "release"
	ActionRefund  Action = "refund"
	ActionDeliver Action = "deliver"
	ActionDispute Action = "dispute"
	ActionCancel  Action = "cancel"
)

// Actions lists every transition action in a stable order.
var Actions = []Action{ActionFund, ActionDeliver, ActionRelease, ActionRefund, ActionDispute, ActionCancel}

// Valid reports whether the action is a known transition request.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction normalises a textual action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if !action.Valid() {
		return "", fmt.Errorf("unsupported escrow action: %q", raw)
	}
	return action, nil
}

// EscrowUser is the cached snapshot of a party. Identity is owned by the
// backend; the client never mutates it.
type EscrowUser struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
}

// Transaction records one accepted transition.
type Transaction struct {
	ID        int64           `json:"id"`
	EscrowID  int64           `json:"escrow_id"`
	Action    Action          `json:"action"`
	Actor     EscrowUser      `json:"actor"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Escrow is a single agreement as known to the client. ID, Ref, Payer, Payee,
// Amount and CreatedAt never change after creation. Transactions are append
// only and chronological.
type Escrow struct {
	ID           int64           `json:"id"`
	Ref          string          `json:"escrow_ref"`
	Payer        EscrowUser      `json:"payer"`
	Payee        EscrowUser      `json:"payee"`
	Amount       decimal.Decimal `json:"amount"`
	Description  *string         `json:"description,omitempty"`
	Status       Status          `json:"status"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Transactions []Transaction   `json:"transactions"`
	TimeLeft     *time.Duration  `json:"-"`
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the cached instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Description != nil {
		desc := *e.Description
		clone.Description = &desc
	}
	if e.ExpiresAt != nil {
		exp := *e.ExpiresAt
		clone.ExpiresAt = &exp
	}
	if e.TimeLeft != nil {
		left := *e.TimeLeft
		clone.TimeLeft = &left
	}
	if e.Transactions != nil {
		clone.Transactions = make([]Transaction, len(e.Transactions))
		copy(clone.Transactions, e.Transactions)
	}
	return &clone
}

// RoleOf reports which party the user id is on this escrow.
func (e *Escrow) RoleOf(userID string) (Role, bool) {
	userID = NormalizeID(userID)
	if e == nil || userID == "" {
		return "", false
	}
	switch userID {
	case e.Payer.ID:
		return RolePayer, true
	case e.Payee.ID:
		return RolePayee, true
	}
	return "", false
}

// Party returns the cached user snapshot for the given id, or a bare user when
// the id is not a party (for example a resolver).
func (e *Escrow) Party(userID string) EscrowUser {
	userID = NormalizeID(userID)
	if e != nil {
		switch userID {
		case e.Payer.ID:
			return e.Payer
		case e.Payee.ID:
			return e.Payee
		}
	}
	return EscrowUser{ID: userID}
}

// ComputeTimeLeft returns the remaining time until expiry, clamped at zero.
// Nil means the escrow has no expiry. The result is advisory display data and
// never drives a transition.
func (e *Escrow) ComputeTimeLeft(now time.Time) *time.Duration {
	if e == nil || e.ExpiresAt == nil {
		return nil
	}
	left := e.ExpiresAt.Sub(now)
	if left < 0 {
		left = 0
	}
	left = left.Truncate(time.Second)
	return &left
}

// Expired reports whether the advisory expiry window has passed for an escrow
// still eligible for server-side auto-expiry.
func (e *Escrow) Expired(now time.Time) bool {
	if e == nil || e.ExpiresAt == nil {
		return false
	}
	if e.Status != StatusPending && e.Status != StatusFunded {
		return false
	}
	return !now.Before(*e.ExpiresAt)
}
