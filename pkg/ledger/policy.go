package ledger

import "github.com/shopspring/decimal"

// Policy holds the externally configured ledger rules.
type Policy struct {
	MaxRollovers           int
	RolloverDurationMonths int
	// MinorUnits is the number of decimal places of the currency (0 for XAF).
	MinorUnits int32
	// InterestTolerance is how far an interest-typed payment may exceed the
	// interest outstanding.
	InterestTolerance decimal.Decimal
	MaxTxRetries      int
}

// DefaultPolicy returns the association's standard rules.
func DefaultPolicy() Policy {
	return Policy{
		MaxRollovers:           3,
		RolloverDurationMonths: 2,
		MinorUnits:             0,
		InterestTolerance:      decimal.Zero,
		MaxTxRetries:           3,
	}
}

// PolicySource supplies the current policy. The ledger asks for it on every
// operation because the configuration may change between calls.
type PolicySource interface {
	Policy() Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy Policy

func (p StaticPolicy) Policy() Policy { return Policy(p) }

// PolicyFunc adapts a function to PolicySource.
type PolicyFunc func() Policy

func (f PolicyFunc) Policy() Policy { return f() }
