package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/mcclellann/assocledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger is the only component allowed to change loan state. Every mutation
// reads the loan inside a transaction, computes, and writes it back with a
// version check, so concurrent requests on one loan cannot lose updates.
type Ledger struct {
	storage store.Storage
	policy  PolicySource
	logger  *logrus.Logger
	now     func() time.Time
	locks   *loanLocks
}

type Option func(*Ledger)

// WithClock overrides the time source used for defaults and status derivation.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger over the given storage.
func NewLedger(s store.Storage, policy PolicySource, logger *logrus.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Ledger{
		storage: s,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
		locks:   newLoanLocks(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLoan carries the origination data of a loan.
type NewLoan struct {
	BorrowerID       string
	GuarantorID      string
	Principal        decimal.Decimal
	InterestRate     decimal.Decimal
	OriginationDate  time.Time
	DueDate          time.Time
	MeetingID        string
	ExerciseID       string
	ProofDocumentRef string
	Notes            string
}

// PaymentRequest carries one incoming payment.
type PaymentRequest struct {
	Amount         decimal.Decimal
	AllocationType models.AllocationType
	Date           time.Time
	Method         string
	Notes          string
}

// LoanView is a loan as reporting sees it, with its effective status.
type LoanView struct {
	*models.Loan
	EffectiveStatus models.LoanStatus `json:"effective_status"`
}

// Statement gathers everything known about one loan.
type Statement struct {
	Loan                LoanView           `json:"loan"`
	InterestOutstanding decimal.Decimal    `json:"interest_outstanding"`
	CapitalOutstanding  decimal.Decimal    `json:"capital_outstanding"`
	RolloverEligible    bool               `json:"rollover_eligible"`
	RolloverBlockedBy   string             `json:"rollover_blocked_by,omitempty"`
	Payments            []*models.Payment  `json:"payments"`
	Rollovers           []*models.Rollover `json:"rollovers"`
}

// CreateLoan originates a loan. Interest for the first period is charged up front.
func (l *Ledger) CreateLoan(ctx context.Context, req NewLoan) (*models.Loan, error) {
	if req.BorrowerID == "" {
		return nil, invalidArgument("borrower is required")
	}
	if !req.Principal.IsPositive() {
		return nil, invalidArgument("principal must be positive, got %s", req.Principal)
	}
	if !req.InterestRate.IsPositive() {
		return nil, invalidArgument("interest rate must be positive, got %s", req.InterestRate)
	}

	now := l.now()
	origination := req.OriginationDate
	if origination.IsZero() {
		origination = now
	}
	if req.DueDate.IsZero() {
		return nil, invalidArgument("due date is required")
	}
	if req.DueDate.Before(origination) {
		return nil, invalidArgument("due date %s is before origination %s", req.DueDate.Format(time.DateOnly), origination.Format(time.DateOnly))
	}

	policy := l.policy.Policy()
	interest, err := Interest(req.Principal, req.InterestRate, policy.MinorUnits)
	if err != nil {
		return nil, err
	}
	totalDue := req.Principal.Add(interest)

	loan := &models.Loan{
		ID:                 uuid.New(),
		BorrowerID:         req.BorrowerID,
		GuarantorID:        req.GuarantorID,
		Principal:          req.Principal,
		InterestRate:       req.InterestRate,
		OriginationDate:    origination,
		DueDate:            req.DueDate,
		TotalDue:           totalDue,
		TotalPaid:          decimal.Zero,
		CapitalPaid:        decimal.Zero,
		InterestPaid:       decimal.Zero,
		LastPeriodInterest: interest,
		OriginalTotalDue:   totalDue,
		Status:             models.StatusOpen,
		MeetingID:          req.MeetingID,
		ExerciseID:         req.ExerciseID,
		ProofDocumentRef:   req.ProofDocumentRef,
		Notes:              req.Notes,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		l.logger.WithError(err).Errorf("Failed to store loan for borrower %s", req.BorrowerID)
		return nil, persistence("failed to store loan", err)
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"borrower":  loan.BorrowerID,
		"principal": loan.Principal.String(),
		"total_due": loan.TotalDue.String(),
	}).Info("Loan created")
	return loan, nil
}

// RecordPayment allocates a payment and persists it with the loan's new aggregates.
func (l *Ledger) RecordPayment(ctx context.Context, loanID uuid.UUID, req PaymentRequest) (*models.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, invalidArgument("payment amount must be positive, got %s", req.Amount)
	}
	if !req.AllocationType.Valid() {
		return nil, invalidArgument("unknown allocation type %q", req.AllocationType)
	}

	var payment *models.Payment
	_, err := l.mutate(ctx, "record payment", loanID, func(tx store.Tx, loan *models.Loan, policy Policy, now time.Time) error {
		if IsRepaid(loan) {
			return ruleViolation(ReasonAlreadyRepaid)
		}
		alloc, err := AllocatePayment(loan, req.Amount, req.AllocationType, policy.InterestTolerance)
		if err != nil {
			return err
		}
		alloc.Apply(loan)

		payment = &models.Payment{
			ID:             uuid.New(),
			LoanID:         loan.ID,
			Amount:         req.Amount,
			Date:           dateOr(req.Date, now),
			Method:         req.Method,
			AllocationType: req.AllocationType,
			ToInterest:     alloc.ToInterest,
			ToCapital:      alloc.ToCapital,
			Notes:          req.Notes,
			Seq:            loan.Version,
			CreatedAt:      now,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":     loanID,
		"payment_id":  payment.ID,
		"amount":      payment.Amount.String(),
		"to_interest": payment.ToInterest.String(),
		"to_capital":  payment.ToCapital.String(),
	}).Info("Payment recorded")
	return payment, nil
}

// PayInFull settles the whole remaining balance with one mixed payment.
func (l *Ledger) PayInFull(ctx context.Context, loanID uuid.UUID, date time.Time, method string) (*models.Payment, error) {
	var payment *models.Payment
	_, err := l.mutate(ctx, "pay in full", loanID, func(tx store.Tx, loan *models.Loan, _ Policy, now time.Time) error {
		if IsRepaid(loan) {
			return ruleViolation(ReasonAlreadyRepaid)
		}
		remainder := loan.TotalDue
		toInterest, toCapital := settle(loan, remainder)

		payment = &models.Payment{
			ID:             uuid.New(),
			LoanID:         loan.ID,
			Amount:         remainder,
			Date:           dateOr(date, now),
			Method:         method,
			AllocationType: models.AllocationMixed,
			ToInterest:     toInterest,
			ToCapital:      toCapital,
			Settlement:     true,
			Notes:          "Full settlement",
			Seq:            loan.Version,
			CreatedAt:      now,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":    loanID,
		"payment_id": payment.ID,
		"amount":     payment.Amount.String(),
	}).Info("Loan settled in full")
	return payment, nil
}

// Rollover extends the loan by one period and charges interest on the remaining capital.
func (l *Ledger) Rollover(ctx context.Context, loanID uuid.UUID, date time.Time, notes string) (*models.Rollover, error) {
	var rollover *models.Rollover
	_, err := l.mutate(ctx, "rollover", loanID, func(tx store.Tx, loan *models.Loan, policy Policy, now time.Time) error {
		if IsRepaid(loan) {
			return ruleViolation(ReasonAlreadyRepaid)
		}
		plan, err := PlanRollover(loan, policy, dateOr(date, now))
		if err != nil {
			return err
		}
		plan.Apply(loan)

		rollover = plan.Record
		rollover.Seq = loan.Version
		rollover.CreatedAt = now
		if notes != "" {
			rollover.Notes += ". " + notes
		}
		return tx.CreateRollover(ctx, rollover)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":      loanID,
		"number":       rollover.Number,
		"capital_base": rollover.CapitalBase.String(),
		"interest":     rollover.InterestForPeriod.String(),
	}).Info("Loan rolled over")
	return rollover, nil
}

// DeletePayment removes a payment and rebuilds the loan from its remaining
// history. Interest a later rollover relied on stays owed in that rollover's
// period. The deletion is refused when a remaining payment no longer fits,
// for example a capital payment made after the deleted interest payment.
func (l *Ledger) DeletePayment(ctx context.Context, paymentID uuid.UUID) error {
	existing, err := l.storage.GetPayment(ctx, paymentID)
	if err != nil {
		return l.classify("delete payment", err)
	}

	var replayed *ReplayResult
	_, err = l.mutate(ctx, "delete payment", existing.LoanID, func(tx store.Tx, loan *models.Loan, policy Policy, _ time.Time) error {
		if _, err := tx.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		payments, err := tx.GetPaymentsForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		rollovers, err := tx.GetRolloversForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}

		remaining := make([]*models.Payment, 0, len(payments))
		for _, p := range payments {
			if p.ID != paymentID {
				remaining = append(remaining, p)
			}
		}

		replayed, err = Replay(loan, remaining, rollovers, policy)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, paymentID); err != nil {
			return err
		}
		return l.persistReplay(ctx, tx, loan, replayed)
	})
	if err != nil {
		return err
	}

	entry := l.logger.WithFields(logrus.Fields{
		"loan_id":    existing.LoanID,
		"payment_id": paymentID,
		"total_due":  replayed.Loan.TotalDue.String(),
		"total_paid": replayed.Loan.TotalPaid.String(),
	})
	entry.Info("Payment deleted, loan rebuilt from history")
	for _, a := range replayed.Arrears {
		entry.WithFields(logrus.Fields{
			"rollover": a.RolloverNumber,
			"arrear":   a.Amount.String(),
		}).Warn("Rollover now rests on unpaid interest")
	}
	return nil
}

// Recompute rebuilds the stored aggregates from the loan's history.
func (l *Ledger) Recompute(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.mutate(ctx, "recompute", loanID, func(tx store.Tx, loan *models.Loan, policy Policy, _ time.Time) error {
		payments, err := tx.GetPaymentsForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		rollovers, err := tx.GetRolloversForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		replayed, err := Replay(loan, payments, rollovers, policy)
		if err != nil {
			return err
		}
		return l.persistReplay(ctx, tx, loan, replayed)
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("loan_id", loanID).Info("Loan aggregates recomputed")
	return loan, nil
}

func (l *Ledger) persistReplay(ctx context.Context, tx store.Tx, loan *models.Loan, replayed *ReplayResult) error {
	applyReplay(loan, replayed.Loan)
	for _, p := range replayed.ChangedPayments {
		if err := tx.UpdatePaymentSplit(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range replayed.ChangedRollovers {
		if err := tx.UpdateRolloverInterest(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile replays the loan's history and reports how the stored aggregates
// differ from it, without writing anything.
func (l *Ledger) Reconcile(ctx context.Context, loanID uuid.UUID) (*Reconciliation, error) {
	loan, payments, rollovers, err := l.history(ctx, loanID)
	if err != nil {
		return nil, err
	}
	rec := reconcile(loan, payments, rollovers, l.policy.Policy())
	if !rec.Consistent {
		l.logger.WithFields(logrus.Fields{
			"loan_id":     loanID,
			"differences": rec.Differences,
			"replay":      rec.ReplayError,
		}).Warn("Loan aggregates diverge from history")
	}
	return rec, nil
}

// DeleteLoan removes a loan together with its payments and rollovers.
func (l *Ledger) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	unlock := l.locks.Lock(loanID)
	defer unlock()

	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteLoan(ctx, loanID)
	})
	if err != nil {
		return l.classify("delete loan", err)
	}
	l.logger.WithField("loan_id", loanID).Info("Loan deleted with its history")
	return nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*LoanView, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, l.classify("get loan", err)
	}
	return l.view(loan), nil
}

// ListLoans returns all loans, or only those whose effective status is status
// when it is not empty.
func (l *Ledger) ListLoans(ctx context.Context, status models.LoanStatus) ([]*LoanView, error) {
	if status != "" && !status.Valid() {
		return nil, invalidArgument("unknown status %q", status)
	}
	loans, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return nil, l.classify("list loans", err)
	}
	views := make([]*LoanView, 0, len(loans))
	for _, loan := range loans {
		v := l.view(loan)
		if status != "" && v.EffectiveStatus != status {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

func (l *Ledger) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, l.classify("list payments", err)
	}
	payments, err := l.storage.GetPaymentsForLoan(ctx, loanID)
	if err != nil {
		return nil, l.classify("list payments", err)
	}
	return payments, nil
}

func (l *Ledger) ListRollovers(ctx context.Context, loanID uuid.UUID) ([]*models.Rollover, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, l.classify("list rollovers", err)
	}
	rollovers, err := l.storage.GetRolloversForLoan(ctx, loanID)
	if err != nil {
		return nil, l.classify("list rollovers", err)
	}
	return rollovers, nil
}

// EffectiveStatus derives the loan's status as of now.
func (l *Ledger) EffectiveStatus(ctx context.Context, loanID uuid.UUID) (models.LoanStatus, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return "", l.classify("effective status", err)
	}
	return DeriveStatus(loan, l.now()), nil
}

// RolloverEligibility reports whether the loan could be rolled over now.
func (l *Ledger) RolloverEligibility(ctx context.Context, loanID uuid.UUID) (bool, string, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return false, "", l.classify("rollover eligibility", err)
	}
	if IsRepaid(loan) {
		return false, ReasonAlreadyRepaid, nil
	}
	ok, reason := CanRollover(loan, l.policy.Policy())
	return ok, reason, nil
}

// Statement returns the loan with its full history for reporting.
func (l *Ledger) Statement(ctx context.Context, loanID uuid.UUID) (*Statement, error) {
	loan, payments, rollovers, err := l.history(ctx, loanID)
	if err != nil {
		return nil, err
	}
	view := l.view(loan)

	st := &Statement{
		Loan:                *view,
		InterestOutstanding: view.InterestOutstanding(),
		CapitalOutstanding:  view.RemainingCapital(),
		Payments:            payments,
		Rollovers:           rollovers,
	}
	if IsRepaid(loan) {
		st.RolloverBlockedBy = ReasonAlreadyRepaid
	} else {
		st.RolloverEligible, st.RolloverBlockedBy = CanRollover(loan, l.policy.Policy())
	}
	return st, nil
}

// SyncStatuses rewrites the stored status hint of every loan whose derived
// status changed. It returns how many loans were updated.
func (l *Ledger) SyncStatuses(ctx context.Context, now time.Time) (int, error) {
	loans, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return 0, l.classify("sync statuses", err)
	}

	updated := 0
	var errs []error
	for _, loan := range loans {
		if isLegacyRepaid(loan) || DeriveStatus(loan, now) == loan.Status {
			continue
		}
		if _, err := l.mutateAt(ctx, "sync status", loan.ID, now, func(store.Tx, *models.Loan, Policy, time.Time) error {
			return nil
		}); err != nil {
			l.logger.WithError(err).Errorf("Error syncing status of loan %s", loan.ID)
			errs = append(errs, err)
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

func (l *Ledger) view(loan *models.Loan) *LoanView {
	return &LoanView{
		Loan:            ImpliedAggregates(loan),
		EffectiveStatus: DeriveStatus(loan, l.now()),
	}
}

func (l *Ledger) history(ctx context.Context, loanID uuid.UUID) (*models.Loan, []*models.Payment, []*models.Rollover, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, l.classify("read history", err)
	}
	payments, err := l.storage.GetPaymentsForLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, l.classify("read history", err)
	}
	rollovers, err := l.storage.GetRolloversForLoan(ctx, loanID)
	if err != nil {
		return nil, nil, nil, l.classify("read history", err)
	}
	return loan, payments, rollovers, nil
}

type mutation func(tx store.Tx, loan *models.Loan, policy Policy, now time.Time) error

// mutate runs fn on the loan read inside a transaction and writes back what
// fn leaves behind, bumping the loan version. A version conflict retries the
// whole attempt, reading the policy and the loan again.
func (l *Ledger) mutate(ctx context.Context, op string, loanID uuid.UUID, fn mutation) (*models.Loan, error) {
	return l.mutateAt(ctx, op, loanID, time.Time{}, fn)
}

// mutateAt is mutate with a fixed clock; a zero at reads the ledger clock on
// every attempt.
func (l *Ledger) mutateAt(ctx context.Context, op string, loanID uuid.UUID, at time.Time, fn mutation) (*models.Loan, error) {
	unlock := l.locks.Lock(loanID)
	defer unlock()

	var lastErr error
	for attempt := 0; ; attempt++ {
		policy := l.policy.Policy()
		now := dateOr(at, l.now())

		var result *models.Loan
		err := l.storage.WithTx(ctx, func(tx store.Tx) error {
			loan, err := tx.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			expected := loan.Version
			loan.Version = expected + 1

			if err := fn(tx, loan, policy, now); err != nil {
				return err
			}

			loan.Status = DeriveStatus(loan, now)
			loan.UpdatedAt = now
			if err := tx.UpdateLoan(ctx, loan, expected); err != nil {
				return err
			}
			result = loan
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, l.classify(op, err)
		}

		lastErr = err
		if attempt >= policy.MaxTxRetries {
			l.logger.WithError(err).Warnf("Giving up %s on loan %s after %d attempts", op, loanID, attempt+1)
			return nil, &Error{
				Kind:   ErrConcurrencyConflict,
				Reason: fmt.Sprintf("%s: loan changed concurrently, retry the operation", op),
				Err:    lastErr,
			}
		}
		l.logger.WithError(err).Debugf("Retrying %s on loan %s", op, loanID)
	}
}

// classify maps storage errors onto the ledger taxonomy. Ledger errors pass through.
func (l *Ledger) classify(op string, err error) error {
	var le *Error
	switch {
	case errors.As(err, &le):
		return le
	case errors.Is(err, store.ErrNotFound):
		return notFound(err)
	case errors.Is(err, store.ErrVersionConflict):
		return &Error{Kind: ErrConcurrencyConflict, Reason: op, Err: err}
	default:
		l.logger.WithError(err).Errorf("Storage failure during %s", op)
		return persistence(op, err)
	}
}

func dateOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
