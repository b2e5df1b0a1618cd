package escrow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinAmount is the smallest amount an escrow may be created with.
var DefaultMinAmount = decimal.NewFromInt(100)

var (
	ErrSelfEscrow      = errors.New("escrow: payer and payee must differ")
	ErrAmountTooLow    = errors.New("escrow: amount below minimum")
	ErrMissingParty    = errors.New("escrow: payer and payee required")
	ErrExpiryInPast    = errors.New("escrow: expiry must be in the future")
	ErrDescriptionSize = errors.New("escrow: description too long")
)

// MaxDescriptionLength bounds the free-text description.
const MaxDescriptionLength = 500

// CreateParams carries a creation request before it is sent.
type CreateParams struct {
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	Description string
	ExpiresAt   *time.Time
}

// NormalizeID folds an identifier to its NFKC form with surrounding space
// removed, so visually identical IDs compare equal.
func NormalizeID(id string) string {
	return norm.NFKC.String(strings.TrimSpace(id))
}

// ValidateCreate applies the client-side creation rules. A non-nil error means
// no request should be sent.
func ValidateCreate(p CreateParams, minimum decimal.Decimal, now time.Time) error {
	payer := NormalizeID(p.PayerID)
	payee := NormalizeID(p.PayeeID)
	if payer == "" || payee == "" {
		return ErrMissingParty
	}
	if payer == payee {
		return ErrSelfEscrow
	}
	if p.Amount.LessThan(minimum) {
		return fmt.Errorf("%w: %s < %s", ErrAmountTooLow, p.Amount.String(), minimum.String())
	}
	if len([]rune(p.Description)) > MaxDescriptionLength {
		return ErrDescriptionSize
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return ErrExpiryInPast
	}
	return nil
}
