package escrow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidateCreate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Minute)
	future := now.Add(24 * time.Hour)

	base := CreateParams{PayerID: "U1", PayeeID: "U2", Amount: decimal.NewFromInt(5000), ExpiresAt: &future}
	require.NoError(t, ValidateCreate(base, DefaultMinAmount, now))

	self := base
	self.PayeeID = " U1 "
	require.ErrorIs(t, ValidateCreate(self, DefaultMinAmount, now), ErrSelfEscrow)

	fullwidth := base
	fullwidth.PayerID = "ＵＳＥＲ7"
	fullwidth.PayeeID = "USER7"
	require.ErrorIs(t, ValidateCreate(fullwidth, DefaultMinAmount, now), ErrSelfEscrow)

	low := base
	low.Amount = decimal.NewFromInt(99)
	require.ErrorIs(t, ValidateCreate(low, DefaultMinAmount, now), ErrAmountTooLow)

	edge := base
	edge.Amount = decimal.NewFromInt(100)
	require.NoError(t, ValidateCreate(edge, DefaultMinAmount, now))

	missing := base
	missing.PayerID = ""
	require.ErrorIs(t, ValidateCreate(missing, DefaultMinAmount, now), ErrMissingParty)

	expired := base
	expired.ExpiresAt = &past
	require.ErrorIs(t, ValidateCreate(expired, DefaultMinAmount, now), ErrExpiryInPast)
}

func TestNormalizeIDFoldsCompatibilityForms(t *testing.T) {
	require.Equal(t, "USER7", NormalizeID("  ＵＳＥＲ７ "))
	require.Equal(t, "fin", NormalizeID("ﬁn"))
	require.Equal(t, "", NormalizeID(" \t"))
}
