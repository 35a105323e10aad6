package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/shopspring/decimal"
)

// ReplayResult is a loan rebuilt from its history, together with the records
// whose derived fields changed along the way.
type ReplayResult struct {
	Loan             *models.Loan
	ChangedPayments  []*models.Payment
	ChangedRollovers []*models.Rollover
	Arrears          []Arrear
}

// Arrear is interest still outstanding when a replayed rollover happened. It
// is carried into the period that rollover opened.
type Arrear struct {
	RolloverNumber int
	Amount         decimal.Decimal
}

type historyEvent struct {
	seq      int64
	payment  *models.Payment
	rollover *models.Rollover
}

// Replay rebuilds the aggregates of loan from its origin state by applying
// payments and rollovers in the order they were recorded. Payments go through
// AllocatePayment with their recorded allocation type; rollovers have their
// interest recomputed on the replayed remaining capital. Rollover eligibility
// is not re-checked: interest found unpaid at a rollover is carried into the
// next period as an Arrear. Inputs are not modified.
func Replay(loan *models.Loan, payments []*models.Payment, rollovers []*models.Rollover, policy Policy) (*ReplayResult, error) {
	if isLegacyRepaid(loan) && len(payments) == 0 && len(rollovers) == 0 {
		return &ReplayResult{Loan: loan.Clone()}, nil
	}

	state := originState(loan)
	result := &ReplayResult{Loan: state}

	events := make([]historyEvent, 0, len(payments)+len(rollovers))
	for _, p := range payments {
		events = append(events, historyEvent{seq: p.Seq, payment: p})
	}
	for _, r := range rollovers {
		events = append(events, historyEvent{seq: r.Seq, rollover: r})
	}
	slices.SortStableFunc(events, func(a, b historyEvent) int {
		return cmp.Compare(a.seq, b.seq)
	})

	for _, ev := range events {
		switch {
		case ev.payment != nil:
			changed, err := replayPayment(state, ev.payment, policy)
			if err != nil {
				return nil, err
			}
			if changed != nil {
				result.ChangedPayments = append(result.ChangedPayments, changed)
			}
		case ev.rollover != nil:
			changed, arrear, err := replayRollover(state, ev.rollover, policy)
			if err != nil {
				return nil, err
			}
			if arrear.IsPositive() {
				result.Arrears = append(result.Arrears, Arrear{RolloverNumber: ev.rollover.Number, Amount: arrear})
			}
			if changed != nil {
				result.ChangedRollovers = append(result.ChangedRollovers, changed)
			}
		}
	}
	return result, nil
}

// originState is the loan as it stood right after CreateLoan.
func originState(loan *models.Loan) *models.Loan {
	s := loan.Clone()
	s.TotalDue = loan.OriginalTotalDue
	s.LastPeriodInterest = loan.OriginalTotalDue.Sub(loan.Principal)
	s.TotalPaid = decimal.Zero
	s.CapitalPaid = decimal.Zero
	s.InterestPaid = decimal.Zero
	s.RolloverCount = 0
	s.Status = models.StatusOpen
	return s
}

func replayPayment(state *models.Loan, p *models.Payment, policy Policy) (*models.Payment, error) {
	if IsRepaid(state) {
		return nil, historyBroken(fmt.Sprintf("payment %s", p.ID), ReasonAlreadyRepaid)
	}

	var toInterest, toCapital decimal.Decimal
	if p.Settlement && p.Amount.GreaterThanOrEqual(state.TotalDue) {
		toInterest, toCapital = settle(state, p.Amount)
	} else {
		alloc, err := AllocatePayment(state, p.Amount, p.AllocationType, policy.InterestTolerance)
		if err != nil {
			return nil, historyBroken(fmt.Sprintf("payment %s", p.ID), ReasonOf(err))
		}
		alloc.Apply(state)
		toInterest, toCapital = alloc.ToInterest, alloc.ToCapital
	}

	if toInterest.Equal(p.ToInterest) && toCapital.Equal(p.ToCapital) {
		return nil, nil
	}
	changed := *p
	changed.ToInterest = toInterest
	changed.ToCapital = toCapital
	return &changed, nil
}

// replayRollover opens the next period on state. Interest left unpaid from the
// previous period is returned and stays outstanding in the new one.
func replayRollover(state *models.Loan, r *models.Rollover, policy Policy) (*models.Rollover, decimal.Decimal, error) {
	if IsRepaid(state) {
		return nil, decimal.Zero, historyBroken(fmt.Sprintf("rollover n°%d", r.Number), ReasonAlreadyRepaid)
	}
	arrear := state.InterestOutstanding()

	plan, err := planPeriod(state, policy, r.Date)
	if err != nil {
		return nil, decimal.Zero, err
	}
	plan.DueDate = r.NewDueDate
	plan.Apply(state)
	if arrear.IsPositive() {
		state.LastPeriodInterest = state.LastPeriodInterest.Add(arrear)
		state.TotalDue = state.TotalDue.Add(arrear)
	}

	if plan.NewInterest.Equal(r.InterestForPeriod) && plan.RemainingCapital.Equal(r.CapitalBase) {
		return nil, arrear, nil
	}
	changed := *r
	changed.InterestForPeriod = plan.NewInterest
	changed.CapitalBase = plan.RemainingCapital
	changed.Notes = rolloverNote(r.Number, plan.RemainingCapital, plan.NewInterest)
	return &changed, arrear, nil
}

// settle applies a full settlement of amount to loan and returns the split
// recorded on the settlement payment.
func settle(loan *models.Loan, amount decimal.Decimal) (toInterest, toCapital decimal.Decimal) {
	toInterest = decimal.Min(amount, loan.InterestOutstanding())
	toCapital = amount.Sub(toInterest)

	loan.TotalPaid = loan.TotalPaid.Add(amount)
	loan.CapitalPaid = loan.Principal
	loan.InterestPaid = loan.LastPeriodInterest
	loan.TotalDue = decimal.Zero
	return toInterest, toCapital
}

func historyBroken(what, reason string) error {
	return ruleViolation(fmt.Sprintf("history no longer consistent at %s: %s", what, reason))
}

// applyReplay copies the replayed aggregates and status hint onto loan.
func applyReplay(loan, replayed *models.Loan) {
	loan.Status = replayed.Status
	loan.TotalDue = replayed.TotalDue
	loan.TotalPaid = replayed.TotalPaid
	loan.CapitalPaid = replayed.CapitalPaid
	loan.InterestPaid = replayed.InterestPaid
	loan.LastPeriodInterest = replayed.LastPeriodInterest
	loan.RolloverCount = replayed.RolloverCount
	loan.DueDate = replayed.DueDate
}

// Reconciliation compares the stored aggregates of a loan with its replayed history.
type Reconciliation struct {
	LoanID      string   `json:"loan_id"`
	Consistent  bool     `json:"consistent"`
	Differences []string `json:"differences,omitempty"`
	Arrears     []string `json:"arrears,omitempty"`
	ReplayError string   `json:"replay_error,omitempty"`
}

func reconcile(loan *models.Loan, payments []*models.Payment, rollovers []*models.Rollover, policy Policy) *Reconciliation {
	rec := &Reconciliation{LoanID: loan.ID.String()}

	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	if !isLegacyRepaid(loan) && !sum.Equal(loan.TotalPaid) {
		rec.Differences = append(rec.Differences, fmt.Sprintf("total_paid %s differs from sum of payments %s", loan.TotalPaid, sum))
	}

	res, err := Replay(loan, payments, rollovers, policy)
	if err != nil {
		rec.ReplayError = ReasonOf(err)
		return rec
	}
	got := res.Loan
	compare := func(field string, stored, replayed decimal.Decimal) {
		if !stored.Equal(replayed) {
			rec.Differences = append(rec.Differences, fmt.Sprintf("%s: stored %s, replayed %s", field, stored, replayed))
		}
	}
	compare("total_due", loan.TotalDue, got.TotalDue)
	compare("total_paid", loan.TotalPaid, got.TotalPaid)
	compare("capital_paid", loan.CapitalPaid, got.CapitalPaid)
	compare("interest_paid", loan.InterestPaid, got.InterestPaid)
	compare("last_period_interest", loan.LastPeriodInterest, got.LastPeriodInterest)
	if loan.RolloverCount != got.RolloverCount {
		rec.Differences = append(rec.Differences, fmt.Sprintf("rollover_count: stored %d, replayed %d", loan.RolloverCount, got.RolloverCount))
	}
	for _, p := range res.ChangedPayments {
		rec.Differences = append(rec.Differences, fmt.Sprintf("payment %s split: replayed %s interest / %s capital", p.ID, p.ToInterest, p.ToCapital))
	}
	for _, r := range res.ChangedRollovers {
		rec.Differences = append(rec.Differences, fmt.Sprintf("rollover n°%d interest: replayed %s", r.Number, r.InterestForPeriod))
	}
	for _, a := range res.Arrears {
		rec.Arrears = append(rec.Arrears, fmt.Sprintf("rollover n°%d made with %s interest unpaid, carried into its period", a.RolloverNumber, a.Amount))
	}

	rec.Consistent = len(rec.Differences) == 0
	return rec
}
