package ledger

import (
	"time"

	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/shopspring/decimal"
)

// DeriveStatus computes the effective status of a loan at now. First match wins:
//
//	rembourse  nothing left to pay (or a legacy loan recorded as repaid without history)
//	en_retard  due date passed
//	partiel    something paid
//	reconduit  rolled over at least once
//	otherwise  en_cours, the base status
func DeriveStatus(loan *models.Loan, now time.Time) models.LoanStatus {
	if IsRepaid(loan) {
		return models.StatusRepaid
	}
	if loan.DueDate.Before(now) {
		return models.StatusOverdue
	}
	if loan.TotalPaid.IsPositive() {
		return models.StatusPartial
	}
	if loan.RolloverCount > 0 {
		return models.StatusRolledOver
	}
	// The only base status is en_cours; every other stored tag is a derived
	// hint that no longer applies once we get here.
	return models.StatusOpen
}

// IsRepaid reports whether the loan has reached its terminal state.
func IsRepaid(loan *models.Loan) bool {
	return !loan.TotalDue.IsPositive() || isLegacyRepaid(loan)
}

// isLegacyRepaid matches loans imported as repaid with no payment recorded.
func isLegacyRepaid(loan *models.Loan) bool {
	return loan.Status == models.StatusRepaid && loan.TotalPaid.IsZero()
}

// ImpliedAggregates returns the loan as reporting should see it. A legacy
// repaid loan is reported fully settled; any other loan is returned unchanged.
func ImpliedAggregates(loan *models.Loan) *models.Loan {
	c := loan.Clone()
	if !isLegacyRepaid(loan) {
		return c
	}
	c.TotalDue = decimal.Zero
	c.TotalPaid = loan.OriginalTotalDue
	c.CapitalPaid = loan.Principal
	c.InterestPaid = loan.LastPeriodInterest
	return c
}
