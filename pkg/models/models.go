package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	BorrowerID         string          `json:"borrower_id"`            // Member directory key
	GuarantorID        string          `json:"guarantor_id,omitempty"` // Member directory key
	Principal          decimal.Decimal `json:"principal"`
	InterestRate       decimal.Decimal `json:"interest_rate"` // Percent per period, 5 = 5%
	OriginationDate    time.Time       `json:"origination_date"`
	DueDate            time.Time       `json:"due_date"`
	TotalDue           decimal.Decimal `json:"total_due"` // Outstanding balance including unpaid period interest
	TotalPaid          decimal.Decimal `json:"total_paid"`
	CapitalPaid        decimal.Decimal `json:"capital_paid"`
	InterestPaid       decimal.Decimal `json:"interest_paid"` // Interest paid for the current period
	RolloverCount      int             `json:"rollover_count"`
	LastPeriodInterest decimal.Decimal `json:"last_period_interest"` // Interest accrued at origination or latest rollover
	OriginalTotalDue   decimal.Decimal `json:"original_total_due"`   // TotalDue at origination
	Status             LoanStatus      `json:"status"`               // Stored hint, see ledger.DeriveStatus
	MeetingID          string          `json:"meeting_id,omitempty"`
	ExerciseID         string          `json:"exercise_id,omitempty"`
	ProofDocumentRef   string          `json:"proof_document_ref,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// RemainingCapital is the part of the principal not yet repaid.
func (l *Loan) RemainingCapital() decimal.Decimal {
	return l.Principal.Sub(l.CapitalPaid)
}

// InterestOutstanding is the unpaid interest of the current period, never negative.
func (l *Loan) InterestOutstanding() decimal.Decimal {
	out := l.LastPeriodInterest.Sub(l.InterestPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Clone returns a copy that can be mutated without touching the receiver.
func (l *Loan) Clone() *Loan {
	c := *l
	return &c
}

type AllocationType string

const (
	AllocationInterest AllocationType = "interest"
	AllocationCapital  AllocationType = "capital"
	AllocationMixed    AllocationType = "mixed"
)

func (a AllocationType) Valid() bool {
	switch a {
	case AllocationInterest, AllocationCapital, AllocationMixed:
		return true
	}
	return false
}

func (a *AllocationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := AllocationType(s)
	if !v.Valid() {
		return fmt.Errorf("unknown allocation type %q", s)
	}
	*a = v
	return nil
}

type LoanStatus string

const (
	StatusOpen       LoanStatus = "en_cours"
	StatusPartial    LoanStatus = "partiel"
	StatusOverdue    LoanStatus = "en_retard"
	StatusRolledOver LoanStatus = "reconduit"
	StatusRepaid     LoanStatus = "rembourse"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPartial, StatusOverdue, StatusRolledOver, StatusRepaid:
		return true
	}
	return false
}

func (s *LoanStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := LoanStatus(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown loan status %q", raw)
	}
	*s = v
	return nil
}

// Payment is immutable once recorded; only deletion is allowed.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	LoanID         uuid.UUID       `json:"loan_id"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
	Method         string          `json:"method"`
	AllocationType AllocationType  `json:"allocation_type"`
	ToInterest     decimal.Decimal `json:"to_interest"`
	ToCapital      decimal.Decimal `json:"to_capital"`
	Settlement     bool            `json:"settlement"` // Created by a pay-in-full
	Notes          string          `json:"notes,omitempty"`
	Seq            int64           `json:"seq"` // Loan version that recorded it
	CreatedAt      time.Time       `json:"created_at"`
}

type Rollover struct {
	ID                uuid.UUID       `json:"id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	Number            int             `json:"number"`
	Date              time.Time       `json:"date"`
	InterestForPeriod decimal.Decimal `json:"interest_for_period"`
	CapitalBase       decimal.Decimal `json:"capital_base"`
	NewDueDate        time.Time       `json:"new_due_date"`
	Notes             string          `json:"notes"`
	Seq               int64           `json:"seq"`
	CreatedAt         time.Time       `json:"created_at"`
}
