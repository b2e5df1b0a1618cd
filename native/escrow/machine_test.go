package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestEscrow(status Status) *Escrow {
	return &Escrow{
		ID:           7,
		Ref:          "ESC-123",
		Payer:        EscrowUser{ID: "U1", FullName: "Ada Payer", Username: "ada"},
		Payee:        EscrowUser{ID: "U2", FullName: "Bo Payee", Username: "bo"},
		Amount:       decimal.NewFromInt(5000),
		Status:       status,
		CreatedAt:    time.Unix(1_700_000_000, 0).UTC(),
		Transactions: []Transaction{},
	}
}

func TestNextCoversTable(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusPending, ActionFund, StatusFunded},
		{StatusPending, ActionCancel, StatusCancelled},
		{StatusFunded, ActionDeliver, StatusDelivered},
		{StatusFunded, ActionDispute, StatusDisputed},
		{StatusFunded, ActionRelease, StatusReleased},
		{StatusFunded, ActionRefund, StatusRefunded},
		{StatusDelivered, ActionRelease, StatusReleased},
		{StatusDelivered, ActionDispute, StatusDisputed},
		{StatusDisputed, ActionRelease, StatusReleased},
		{StatusDisputed, ActionRefund, StatusRefunded},
	}
	for _, tc := range cases {
		to, ok := Next(tc.from, tc.action)
		require.Truef(t, ok, "%s/%s", tc.from, tc.action)
		require.Equal(t, tc.to, to)
	}
	_, ok := Next(StatusPending, ActionRelease)
	require.False(t, ok)
	_, ok = Next(StatusDelivered, ActionRefund)
	require.False(t, ok)
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, status := range []Status{StatusReleased, StatusRefunded, StatusCancelled} {
		require.True(t, status.Terminal())
		for _, action := range Actions {
			_, ok := Next(status, action)
			require.Falsef(t, ok, "%s has edge %s", status, action)
		}
	}
	require.False(t, StatusDisputed.Terminal())
}

func TestCheckEnforcesRoles(t *testing.T) {
	m := NewMachine("support")

	require.NoError(t, m.Check(newTestEscrow(StatusPending), ActionFund, "U1"))
	err := m.Check(newTestEscrow(StatusPending), ActionFund, "U2")
	require.ErrorIs(t, err, ErrUnauthorizedActor)

	require.NoError(t, m.Check(newTestEscrow(StatusPending), ActionCancel, "U2"))
	require.NoError(t, m.Check(newTestEscrow(StatusFunded), ActionDeliver, "U2"))
	require.ErrorIs(t, m.Check(newTestEscrow(StatusFunded), ActionDeliver, "U1"), ErrUnauthorizedActor)

	require.ErrorIs(t, m.Check(newTestEscrow(StatusDisputed), ActionRelease, "U1"), ErrUnauthorizedActor)
	require.NoError(t, m.Check(newTestEscrow(StatusDisputed), ActionRefund, "support"))

	err = m.Check(newTestEscrow(StatusReleased), ActionCancel, "U1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.False(t, errors.Is(err, ErrUnauthorizedActor))
}

func TestAllowedGatesActions(t *testing.T) {
	m := NewMachine("support")
	require.Equal(t, []Action{ActionFund, ActionCancel}, m.Allowed(newTestEscrow(StatusPending), "U1"))
	require.Equal(t, []Action{ActionCancel}, m.Allowed(newTestEscrow(StatusPending), "U2"))
	require.Equal(t, []Action{ActionDeliver, ActionRefund, ActionDispute}, m.Allowed(newTestEscrow(StatusFunded), "U2"))
	require.Equal(t, []Action{ActionRelease, ActionRefund}, m.Allowed(newTestEscrow(StatusDisputed), "support"))
	require.Nil(t, m.Allowed(newTestEscrow(StatusCancelled), "U1"))
	require.Nil(t, m.Allowed(newTestEscrow(StatusPending), "stranger"))
}

func TestApplyAppendsTransaction(t *testing.T) {
	now := time.Unix(1_700_000_500, 0).UTC()
	m := NewMachine()
	m.SetNowFunc(func() time.Time { return now })

	original := newTestEscrow(StatusPending)
	funded, err := m.Apply(original, ActionFund, "U1")
	require.NoError(t, err)
	require.Equal(t, StatusFunded, funded.Status)
	require.Len(t, funded.Transactions, 1)
	tx := funded.Transactions[0]
	require.Equal(t, ActionFund, tx.Action)
	require.Equal(t, int64(0), tx.ID)
	require.Equal(t, original.ID, tx.EscrowID)
	require.Equal(t, original.Payer, tx.Actor)
	require.True(t, tx.Amount.Equal(original.Amount))
	require.Equal(t, now, tx.CreatedAt)

	require.Equal(t, StatusPending, original.Status)
	require.Empty(t, original.Transactions)

	delivered, err := m.Apply(funded, ActionDeliver, "U2")
	require.NoError(t, err)
	released, err := m.Apply(delivered, ActionRelease, "U1")
	require.NoError(t, err)
	require.Len(t, released.Transactions, 3)
	require.Equal(t, []Action{ActionFund, ActionDeliver, ActionRelease}, []Action{
		released.Transactions[0].Action,
		released.Transactions[1].Action,
		released.Transactions[2].Action,
	})

	_, err = m.Apply(released, ActionCancel, "U1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTimeLeftIsAdvisory(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	e := newTestEscrow(StatusFunded)
	require.Nil(t, e.ComputeTimeLeft(now))
	require.False(t, e.Expired(now))

	exp := now.Add(90 * time.Second)
	e.ExpiresAt = &exp
	require.Equal(t, 90*time.Second, *e.ComputeTimeLeft(now))
	require.False(t, e.Expired(now))

	later := now.Add(time.Hour)
	require.Equal(t, time.Duration(0), *e.ComputeTimeLeft(later))
	require.True(t, e.Expired(later))
	require.Equal(t, StatusFunded, e.Status)

	e.Status = StatusDelivered
	require.False(t, e.Expired(later))
}

func TestCloneIsDeep(t *testing.T) {
	desc := "laptop"
	e := newTestEscrow(StatusPending)
	e.Description = &desc
	e.Transactions = append(e.Transactions, Transaction{ID: 1, Action: ActionFund})

	clone := e.Clone()
	*clone.Description = "phone"
	clone.Transactions[0].Action = ActionCancel

	require.Equal(t, "laptop", *e.Description)
	require.Equal(t, ActionFund, e.Transactions[0].Action)
}
