package ledger

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLedger(t *testing.T, policy Policy) (*Ledger, *MockStore) {
	t.Helper()
	store := NewMockStore()
	l := NewLedger(store, StaticPolicy(policy), quietLogger(), WithClock(func() time.Time { return testNow }))
	return l, store
}

func createTestLoan(t *testing.T, l *Ledger) *models.Loan {
	t.Helper()
	loan, err := l.CreateLoan(context.Background(), NewLoan{
		BorrowerID:      "member-17",
		GuarantorID:     "member-03",
		Principal:       dec("100000"),
		InterestRate:    dec("5"),
		OriginationDate: testNow,
		DueDate:         testNow.AddDate(0, 2, 0),
		MeetingID:       "meeting-2025-03",
	})
	require.NoError(t, err)
	return loan
}

func pay(t *testing.T, l *Ledger, loanID uuid.UUID, amount string, typ models.AllocationType) *models.Payment {
	t.Helper()
	p, err := l.RecordPayment(context.Background(), loanID, PaymentRequest{
		Amount:         dec(amount),
		AllocationType: typ,
		Method:         "cash",
	})
	require.NoError(t, err)
	return p
}

func storedLoan(t *testing.T, s *MockStore, id uuid.UUID) *models.Loan {
	t.Helper()
	loan, err := s.GetLoan(context.Background(), id)
	require.NoError(t, err)
	return loan
}

func TestCreateLoan(t *testing.T) {
	l, s := newTestLedger(t, DefaultPolicy())

	loan := createTestLoan(t, l)
	assertDecimal(t, "105000", loan.TotalDue)
	assertDecimal(t, "5000", loan.LastPeriodInterest)
	assertDecimal(t, "105000", loan.OriginalTotalDue)
	assertDecimal(t, "0", loan.TotalPaid)
	assert.Equal(t, models.StatusOpen, loan.Status)
	assert.Equal(t, int64(1), loan.Version)

	stored := storedLoan(t, s, loan.ID)
	assert.Equal(t, "member-17", stored.BorrowerID)
	assert.Equal(t, "meeting-2025-03", stored.MeetingID)
}

func TestCreateLoan_DefaultsOriginationToNow(t *testing.T) {
	l, _ := newTestLedger(t, DefaultPolicy())
	loan, err := l.CreateLoan(context.Background(), NewLoan{
		BorrowerID:   "member-17",
		Principal:    dec("50000"),
		InterestRate: dec("10"),
		DueDate:      testNow.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, testNow, loan.OriginationDate)
	assertDecimal(t, "55000", loan.TotalDue)
}

func TestCreateLoan_InvalidArguments(t *testing.T) {
	l, _ := newTestLedger(t, DefaultPolicy())
	valid := NewLoan{
		BorrowerID:      "member-17",
		Principal:       dec("100000"),
		InterestRate:    dec("5"),
		OriginationDate: testNow,
		DueDate:         testNow.AddDate(0, 2, 0),
	}

	tests := []struct {
		name   string
		modify func(r *NewLoan)
	}{
		{"zero principal", func(r *NewLoan) { r.Principal = dec("0") }},
		{"negative principal", func(r *NewLoan) { r.Principal = dec("-100") }},
		{"zero rate", func(r *NewLoan) { r.InterestRate = dec("0") }},
		{"missing borrower", func(r *NewLoan) { r.BorrowerID = "" }},
		{"missing due date", func(r *NewLoan) { r.DueDate = time.Time{} }},
		{"due before origination", func(r *NewLoan) { r.DueDate = testNow.AddDate(0, 0, -1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.modify(&req)
			_, err := l.CreateLoan(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

// TestLoanLifecycle walks a loan through interest payment, rollover, settlement
// and payment deletion.
func TestLoanLifecycle(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())

	// 1. origination
	loan := createTestLoan(t, l)
	assertDecimal(t, "105000", loan.TotalDue)
	assertDecimal(t, "5000", loan.LastPeriodInterest)

	// 2. the period's interest
	interestPayment := pay(t, l, loan.ID, "5000", models.AllocationInterest)
	assert.Equal(t, int64(2), interestPayment.Seq)
	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "5000", loan.InterestPaid)
	assertDecimal(t, "100000", loan.TotalDue)
	assertDecimal(t, "0", loan.InterestOutstanding())

	// 3. rollover
	ok, reason, err := l.RolloverEligibility(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, ok, reason)

	rollover, err := l.Rollover(ctx, loan.ID, testNow, "asked at meeting")
	require.NoError(t, err)
	assert.Equal(t, 1, rollover.Number)
	assertDecimal(t, "100000", rollover.CapitalBase)
	assertDecimal(t, "5000", rollover.InterestForPeriod)
	assert.Contains(t, rollover.Notes, "asked at meeting")

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "105000", loan.TotalDue)
	assertDecimal(t, "0", loan.InterestPaid)
	assert.Equal(t, 1, loan.RolloverCount)
	assert.Equal(t, testNow.AddDate(0, 4, 0), loan.DueDate)

	// 4. capital while the new period's interest is outstanding
	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("10000"), AllocationType: models.AllocationCapital})
	assertRule(t, err, ReasonInterestNotCleared)
	assert.Equal(t, loan.Version, storedLoan(t, s, loan.ID).Version, "rejected payment must not touch the loan")

	// 5. interest again, then settle
	pay(t, l, loan.ID, "5000", models.AllocationInterest)
	settlement, err := l.PayInFull(ctx, loan.ID, time.Time{}, "mobile money")
	require.NoError(t, err)
	assert.True(t, settlement.Settlement)
	assert.Equal(t, models.AllocationMixed, settlement.AllocationType)
	assertDecimal(t, "100000", settlement.Amount)
	assertDecimal(t, "100000", settlement.ToCapital)

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "100000", loan.CapitalPaid)
	assertDecimal(t, "0", loan.TotalDue)
	assertDecimal(t, "110000", loan.TotalPaid)
	assert.Equal(t, models.StatusRepaid, loan.Status)

	status, err := l.EffectiveStatus(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRepaid, status)

	// 6. deleting the first interest payment replays from origin: rollover n°1
	// now opens its period with that interest still owed, and the settlement
	// no longer covers the balance.
	require.NoError(t, l.DeletePayment(ctx, interestPayment.ID))

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "105000", loan.TotalPaid)
	assertDecimal(t, "10000", loan.LastPeriodInterest)
	assertDecimal(t, "10000", loan.InterestPaid)
	assertDecimal(t, "95000", loan.CapitalPaid)
	assertDecimal(t, "5000", loan.TotalDue)
	assert.Equal(t, 1, loan.RolloverCount)
	assert.Equal(t, models.StatusPartial, loan.Status)

	resplit, err := s.GetPayment(ctx, settlement.ID)
	require.NoError(t, err)
	assertDecimal(t, "5000", resplit.ToInterest)
	assertDecimal(t, "95000", resplit.ToCapital)

	rec, err := l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, rec.Differences)
	require.Len(t, rec.Arrears, 1)
	assert.Contains(t, rec.Arrears[0], "rollover n°1")

	pay(t, l, loan.ID, "5000", models.AllocationCapital)
	assert.Equal(t, models.StatusRepaid, storedLoan(t, s, loan.ID).Status)
}

func TestDeletePayment_Settlement(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	pay(t, l, loan.ID, "5000", models.AllocationInterest)
	_, err := l.Rollover(ctx, loan.ID, testNow, "")
	require.NoError(t, err)
	pay(t, l, loan.ID, "5000", models.AllocationInterest)
	settlement, err := l.PayInFull(ctx, loan.ID, testNow, "cash")
	require.NoError(t, err)

	require.NoError(t, l.DeletePayment(ctx, settlement.ID))

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "100000", loan.TotalDue)
	assertDecimal(t, "5000", loan.InterestPaid)
	assertDecimal(t, "0", loan.CapitalPaid)
	assertDecimal(t, "10000", loan.TotalPaid)
	assert.Equal(t, 1, loan.RolloverCount)
	assert.Equal(t, models.StatusPartial, loan.Status)

	rec, err := l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, rec.Differences)
	assert.Empty(t, rec.Arrears)
}

func TestDeletePayment_OnlySettlementReopensLoan(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	settlement, err := l.PayInFull(ctx, loan.ID, testNow, "cash")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRepaid, storedLoan(t, s, loan.ID).Status)

	require.NoError(t, l.DeletePayment(ctx, settlement.ID))

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "105000", loan.TotalDue)
	assertDecimal(t, "0", loan.TotalPaid)
	assert.Equal(t, models.StatusOpen, loan.Status)

	status, err := l.EffectiveStatus(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, status)

	p := pay(t, l, loan.ID, "5000", models.AllocationInterest)
	assertDecimal(t, "5000", p.ToInterest)

	view, err := l.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assertDecimal(t, "100000", view.TotalDue)
}

func TestDeletePayment_RefusedWhenLaterPaymentBreaks(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	interest := pay(t, l, loan.ID, "5000", models.AllocationInterest)
	pay(t, l, loan.ID, "10000", models.AllocationCapital)
	before := storedLoan(t, s, loan.ID)

	err := l.DeletePayment(ctx, interest.ID)
	require.ErrorIs(t, err, ErrRuleViolation)
	assert.Contains(t, ReasonOf(err), ReasonInterestNotCleared)

	assert.Equal(t, before.Version, storedLoan(t, s, loan.ID).Version)
	_, err = s.GetPayment(ctx, interest.ID)
	assert.NoError(t, err, "refused deletion keeps the payment")
}

func TestRecordPayment_Errors(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	_, err := l.RecordPayment(ctx, uuid.New(), PaymentRequest{Amount: dec("100"), AllocationType: models.AllocationMixed})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("0"), AllocationType: models.AllocationMixed})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("100"), AllocationType: "bonus"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("105001"), AllocationType: models.AllocationMixed})
	assertRule(t, err, ReasonCapitalOverpayment)
}

func TestRepaidLoanRejectsFurtherMutations(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	p := pay(t, l, loan.ID, "105000", models.AllocationMixed)
	assertDecimal(t, "5000", p.ToInterest)
	assertDecimal(t, "100000", p.ToCapital)

	_, err := l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("1"), AllocationType: models.AllocationMixed})
	assertRule(t, err, ReasonAlreadyRepaid)

	_, err = l.PayInFull(ctx, loan.ID, testNow, "cash")
	assertRule(t, err, ReasonAlreadyRepaid)

	_, err = l.Rollover(ctx, loan.ID, testNow, "")
	assertRule(t, err, ReasonAlreadyRepaid)

	ok, reason, err := l.RolloverEligibility(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonAlreadyRepaid, reason)
}

func TestRollover_LimitReached(t *testing.T) {
	ctx := context.Background()
	policy := DefaultPolicy()
	policy.MaxRollovers = 2
	l, _ := newTestLedger(t, policy)
	loan := createTestLoan(t, l)

	for i := 0; i < 2; i++ {
		pay(t, l, loan.ID, "5000", models.AllocationInterest)
		_, err := l.Rollover(ctx, loan.ID, testNow, "")
		require.NoError(t, err)
	}
	pay(t, l, loan.ID, "5000", models.AllocationInterest)

	_, err := l.Rollover(ctx, loan.ID, testNow, "")
	assertRule(t, err, ReasonLimitReached)
}

func TestRollover_PolicyReadOnEveryCall(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	policy := DefaultPolicy()
	source := PolicyFunc(func() Policy {
		mu.Lock()
		defer mu.Unlock()
		return policy
	})

	store := NewMockStore()
	l := NewLedger(store, source, quietLogger(), WithClock(func() time.Time { return testNow }))
	loan := createTestLoan(t, l)
	pay(t, l, loan.ID, "5000", models.AllocationInterest)

	mu.Lock()
	policy.MaxRollovers = 0
	mu.Unlock()
	_, err := l.Rollover(ctx, loan.ID, testNow, "")
	assertRule(t, err, ReasonLimitReached)

	mu.Lock()
	policy.MaxRollovers = 1
	policy.RolloverDurationMonths = 3
	mu.Unlock()
	_, err = l.Rollover(ctx, loan.ID, testNow, "")
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 5, 0), storedLoan(t, store, loan.ID).DueDate)
}

func TestDeletePayment_RefreshesLaterSplits(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	first := pay(t, l, loan.ID, "2000", models.AllocationInterest)
	second := pay(t, l, loan.ID, "10000", models.AllocationMixed)
	assertDecimal(t, "3000", second.ToInterest)
	assertDecimal(t, "7000", second.ToCapital)

	require.NoError(t, l.DeletePayment(ctx, first.ID))

	loan = storedLoan(t, s, loan.ID)
	assertDecimal(t, "10000", loan.TotalPaid)
	assertDecimal(t, "5000", loan.InterestPaid)
	assertDecimal(t, "5000", loan.CapitalPaid)
	assertDecimal(t, "95000", loan.TotalDue)

	refreshed, err := s.GetPayment(ctx, second.ID)
	require.NoError(t, err)
	assertDecimal(t, "5000", refreshed.ToInterest)
	assertDecimal(t, "5000", refreshed.ToCapital)

	_, err = s.GetPayment(ctx, first.ID)
	assert.Error(t, err)
}

func TestDeletePayment_NotFound(t *testing.T) {
	l, _ := newTestLedger(t, DefaultPolicy())
	err := l.DeletePayment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileAndRecompute(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)
	pay(t, l, loan.ID, "5000", models.AllocationInterest)
	pay(t, l, loan.ID, "20000", models.AllocationCapital)

	rec, err := l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)

	// Simulate drift written by an older client.
	tampered := storedLoan(t, s, loan.ID)
	tampered.TotalPaid = dec("20000")
	tampered.TotalDue = dec("85000")
	s.setLoan(tampered)

	rec, err = l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.NotEmpty(t, rec.Differences)

	fixed, err := l.Recompute(ctx, loan.ID)
	require.NoError(t, err)
	assertDecimal(t, "25000", fixed.TotalPaid)
	assertDecimal(t, "80000", fixed.TotalDue)

	rec, err = l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, rec.Differences)
}

func TestLegacyRepaidLoan(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	legacy := storedLoan(t, s, loan.ID)
	legacy.Status = models.StatusRepaid
	legacy.DueDate = testNow.AddDate(-1, 0, 0)
	s.setLoan(legacy)

	view, err := l.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRepaid, view.EffectiveStatus)
	assertDecimal(t, "0", view.TotalDue)
	assertDecimal(t, "105000", view.TotalPaid)

	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("100"), AllocationType: models.AllocationMixed})
	assertRule(t, err, ReasonAlreadyRepaid)

	rec, err := l.Reconcile(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, rec.Differences)

	st, err := l.Statement(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, st.Payments)
	assertDecimal(t, "0", st.CapitalOutstanding)
	assert.False(t, st.RolloverEligible)
}

func TestConcurrentPaymentsKeepTotals(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("100"), AllocationType: models.AllocationInterest})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored := storedLoan(t, s, loan.ID)
	assertDecimal(t, "2000", stored.TotalPaid)
	assertDecimal(t, "2000", stored.InterestPaid)
	assertDecimal(t, "103000", stored.TotalDue)
	assert.Equal(t, int64(workers+1), stored.Version)

	payments, err := l.ListPayments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, payments, workers)
	seen := map[int64]bool{}
	for _, p := range payments {
		assert.False(t, seen[p.Seq], "duplicate seq %d", p.Seq)
		seen[p.Seq] = true
	}
}

func TestVersionConflictRetries(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	s.conflicts = 2
	_, err := l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("1000"), AllocationType: models.AllocationInterest})
	require.NoError(t, err)
	assertDecimal(t, "1000", storedLoan(t, s, loan.ID).TotalPaid)

	s.conflicts = 10
	_, err = l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("1000"), AllocationType: models.AllocationInterest})
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	payments, err := l.ListPayments(ctx, loan.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1, "failed attempts must not leave payments behind")
	assertDecimal(t, "1000", storedLoan(t, s, loan.ID).TotalPaid)
}

func TestPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)

	s.failWrites = errDiskFull
	_, err := l.RecordPayment(ctx, loan.ID, PaymentRequest{Amount: dec("1000"), AllocationType: models.AllocationInterest})
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)

	_, err = l.CreateLoan(ctx, NewLoan{BorrowerID: "m", Principal: dec("10"), InterestRate: dec("5"), DueDate: testNow})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestListLoansAndStatement(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, DefaultPolicy())
	open := createTestLoan(t, l)
	partial := createTestLoan(t, l)
	pay(t, l, partial.ID, "5000", models.AllocationInterest)

	all, err := l.ListLoans(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	partials, err := l.ListLoans(ctx, models.StatusPartial)
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.Equal(t, partial.ID, partials[0].ID)

	_, err = l.ListLoans(ctx, "closed")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	st, err := l.Statement(ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, st.Loan.EffectiveStatus)
	assertDecimal(t, "0", st.InterestOutstanding)
	assertDecimal(t, "100000", st.CapitalOutstanding)
	assert.True(t, st.RolloverEligible)
	assert.Len(t, st.Payments, 1)

	st, err = l.Statement(ctx, open.ID)
	require.NoError(t, err)
	assert.False(t, st.RolloverEligible)
	assert.Equal(t, ReasonInterestOutstanding, st.RolloverBlockedBy)
}

func TestDeleteLoan(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)
	pay(t, l, loan.ID, "5000", models.AllocationInterest)

	require.NoError(t, l.DeleteLoan(ctx, loan.ID))

	_, err := l.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.ListPayments(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.DeleteLoan(ctx, loan.ID), ErrNotFound)
}

func TestSyncStatuses(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t, DefaultPolicy())
	loan := createTestLoan(t, l)
	createTestLoan(t, l)

	updated, err := l.SyncStatuses(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	later := loan.DueDate.AddDate(0, 0, 1)
	updated, err = l.SyncStatuses(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, models.StatusOverdue, storedLoan(t, s, loan.ID).Status)

	updated, err = l.SyncStatuses(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}
