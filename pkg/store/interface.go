package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/assocledger/pkg/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Reader is the read side shared by Storage and Tx.
type Reader interface {
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)
	GetRolloversForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Rollover, error)
}

// Tx is a unit of work. Nothing written through it is visible to other readers
// until the enclosing WithTx returns nil.
type Tx interface {
	Reader

	// UpdateLoan writes the loan only if its stored version still equals
	// expectedVersion, and bumps the stored version to loan.Version.
	UpdateLoan(ctx context.Context, loan *models.Loan, expectedVersion int64) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePaymentSplit(ctx context.Context, payment *models.Payment) error
	DeletePayment(ctx context.Context, id uuid.UUID) error

	CreateRollover(ctx context.Context, rollover *models.Rollover) error
	UpdateRolloverInterest(ctx context.Context, rollover *models.Rollover) error
}

// Storage defines the interface for database operations related to loans, payments and rollovers.
type Storage interface {
	Reader

	CreateLoan(ctx context.Context, loan *models.Loan) error

	// WithTx runs fn in a transaction, committing if fn returns nil and rolling
	// back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
