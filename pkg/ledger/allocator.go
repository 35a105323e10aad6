package ledger

import (
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Allocation is the result of splitting one payment between interest and capital.
type Allocation struct {
	ToInterest   decimal.Decimal
	ToCapital    decimal.Decimal
	InterestPaid decimal.Decimal
	CapitalPaid  decimal.Decimal
	TotalPaid    decimal.Decimal
	TotalDue     decimal.Decimal
}

// Apply writes the new aggregates onto loan.
func (a Allocation) Apply(loan *models.Loan) {
	loan.InterestPaid = a.InterestPaid
	loan.CapitalPaid = a.CapitalPaid
	loan.TotalPaid = a.TotalPaid
	loan.TotalDue = a.TotalDue
}

// AllocatePayment splits amount according to the interest-before-capital rule.
// It never clamps: an amount that does not fit the requested allocation is
// rejected. The loan is not modified.
func AllocatePayment(loan *models.Loan, amount decimal.Decimal, typ models.AllocationType, tolerance decimal.Decimal) (Allocation, error) {
	if !amount.IsPositive() {
		return Allocation{}, invalidArgument("payment amount must be positive, got %s", amount)
	}

	interestOutstanding := loan.InterestOutstanding()
	capitalOutstanding := loan.RemainingCapital()

	var toInterest, toCapital decimal.Decimal
	switch typ {
	case models.AllocationInterest:
		if interestOutstanding.IsZero() {
			return Allocation{}, ruleViolation(ReasonNoInterestDue)
		}
		if amount.GreaterThan(interestOutstanding.Add(tolerance)) {
			return Allocation{}, ruleViolation(ReasonInterestOverpayment)
		}
		toInterest = amount
		toCapital = decimal.Zero
	case models.AllocationCapital:
		if interestOutstanding.IsPositive() {
			return Allocation{}, ruleViolation(ReasonInterestNotCleared)
		}
		if amount.GreaterThan(capitalOutstanding) {
			return Allocation{}, ruleViolation(ReasonCapitalOverpayment)
		}
		toInterest = decimal.Zero
		toCapital = amount
	case models.AllocationMixed:
		toInterest = decimal.Min(amount, interestOutstanding)
		toCapital = amount.Sub(toInterest)
		if toCapital.GreaterThan(capitalOutstanding) {
			return Allocation{}, ruleViolation(ReasonCapitalOverpayment)
		}
	default:
		return Allocation{}, invalidArgument("unknown allocation type %q", typ)
	}

	totalDue := loan.TotalDue.Sub(amount)
	if totalDue.IsNegative() {
		totalDue = decimal.Zero
	}

	return Allocation{
		ToInterest:   toInterest,
		ToCapital:    toCapital,
		InterestPaid: loan.InterestPaid.Add(toInterest),
		CapitalPaid:  loan.CapitalPaid.Add(toCapital),
		TotalPaid:    loan.TotalPaid.Add(amount),
		TotalDue:     totalDue,
	}, nil
}
