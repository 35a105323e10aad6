package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/shopspring/decimal"
)

// CanRollover reports whether the loan may be rolled over under policy, and
// the reason when it may not.
func CanRollover(loan *models.Loan, policy Policy) (bool, string) {
	if loan.RolloverCount >= policy.MaxRollovers {
		return false, ReasonLimitReached
	}
	if loan.InterestPaid.LessThan(loan.LastPeriodInterest) {
		return false, ReasonInterestOutstanding
	}
	return true, ""
}

// RolloverPlan is the effect of one rollover, computed but not yet applied.
type RolloverPlan struct {
	RemainingCapital decimal.Decimal
	NewInterest      decimal.Decimal
	TotalDue         decimal.Decimal
	DueDate          time.Time
	RolloverCount    int
	Record           *models.Rollover
}

// PlanRollover checks eligibility and computes the new period: interest is
// charged on the remaining capital, never on the outstanding balance.
func PlanRollover(loan *models.Loan, policy Policy, date time.Time) (RolloverPlan, error) {
	if ok, reason := CanRollover(loan, policy); !ok {
		return RolloverPlan{}, ruleViolation(reason)
	}
	return planPeriod(loan, policy, date)
}

func planPeriod(loan *models.Loan, policy Policy, date time.Time) (RolloverPlan, error) {
	remaining := loan.RemainingCapital()
	newInterest, err := Interest(remaining, loan.InterestRate, policy.MinorUnits)
	if err != nil {
		return RolloverPlan{}, err
	}

	number := loan.RolloverCount + 1
	dueDate := loan.DueDate.AddDate(0, policy.RolloverDurationMonths, 0)

	return RolloverPlan{
		RemainingCapital: remaining,
		NewInterest:      newInterest,
		TotalDue:         remaining.Add(newInterest),
		DueDate:          dueDate,
		RolloverCount:    number,
		Record: &models.Rollover{
			ID:                uuid.New(),
			LoanID:            loan.ID,
			Number:            number,
			Date:              date,
			InterestForPeriod: newInterest,
			CapitalBase:       remaining,
			NewDueDate:        dueDate,
			Notes:             rolloverNote(number, remaining, newInterest),
		},
	}, nil
}

func rolloverNote(number int, base, interest decimal.Decimal) string {
	return fmt.Sprintf("Reconduction n°%d: interest %s on remaining capital %s", number, interest, base)
}

// Apply moves loan into the new period. Interest for the new period starts
// entirely outstanding.
func (p RolloverPlan) Apply(loan *models.Loan) {
	loan.TotalDue = p.TotalDue
	loan.LastPeriodInterest = p.NewInterest
	loan.InterestPaid = decimal.Zero
	loan.DueDate = p.DueDate
	loan.RolloverCount = p.RolloverCount
}
