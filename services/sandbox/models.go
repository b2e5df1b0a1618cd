package sandbox

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	model "escrowkit/native/escrow"
)

// User is a seeded account with hashed PINs.
type User struct {
	ID           string `gorm:"primaryKey;size:64"`
	FullName     string
	Username     string `gorm:"index"`
	TxPinHash    string `gorm:"size:64"`
	LoginPinHash string `gorm:"size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EscrowRecord is the ledger row for one escrow.
type EscrowRecord struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Ref          string `gorm:"uniqueIndex;size:32"`
	PayerID      string `gorm:"index;size:64"`
	PayeeID      string `gorm:"index;size:64"`
	Amount       string `gorm:"not null"`
	Description  *string
	Status       string `gorm:"size:16;index"`
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Payer        User                `gorm:"foreignKey:PayerID"`
	Payee        User                `gorm:"foreignKey:PayeeID"`
	Transactions []TransactionRecord `gorm:"foreignKey:EscrowID"`
}

// TransactionRecord is one accepted transition.
type TransactionRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	EscrowID  int64  `gorm:"index"`
	Action    string `gorm:"size:16"`
	ActorID   string `gorm:"size:64"`
	Amount    string
	CreatedAt time.Time
}

// BiometricDevice tracks the single live biometric session per user and
// device.
type BiometricDevice struct {
	UserID    string `gorm:"primaryKey;size:64"`
	DeviceID  string `gorm:"primaryKey;size:64"`
	TokenID   string `gorm:"size:64"`
	Active    bool
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdempotencyKey stores the first response produced for a key.
type IdempotencyKey struct {
	Key         string `gorm:"primaryKey;size:128"`
	RequestHash string `gorm:"size:64"`
	Method      string
	Path        string
	Status      int
	Response    string
	CreatedAt   time.Time
}

// AutoMigrate creates the sandbox schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &EscrowRecord{}, &TransactionRecord{}, &BiometricDevice{}, &IdempotencyKey{})
}

func (u User) toModel() model.EscrowUser {
	return model.EscrowUser{ID: u.ID, FullName: u.FullName, Username: u.Username}
}

func (r *EscrowRecord) toModel() (*model.Escrow, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, err
	}
	e := &model.Escrow{
		ID:           r.ID,
		Ref:          r.Ref,
		Payer:        r.Payer.toModel(),
		Payee:        r.Payee.toModel(),
		Amount:       amount,
		Description:  r.Description,
		Status:       model.Status(r.Status),
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt.UTC(),
		Transactions: make([]model.Transaction, 0, len(r.Transactions)),
	}
	for _, tx := range r.Transactions {
		txAmount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			return nil, err
		}
		e.Transactions = append(e.Transactions, model.Transaction{
			ID:        tx.ID,
			EscrowID:  tx.EscrowID,
			Action:    model.Action(tx.Action),
			Actor:     e.Party(tx.ActorID),
			Amount:    txAmount,
			CreatedAt: tx.CreatedAt.UTC(),
		})
	}
	return e, nil
}
