package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/mcclellann/assocledger/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// WithTx works on a copy of the data and swaps it in when fn succeeds.
type MockStore struct {
	mu   sync.Mutex
	data *mockData

	// conflicts makes the next n UpdateLoan calls fail with a version conflict.
	conflicts int
	// failWrites makes every write fail with a non-storage error.
	failWrites error
	updates    int
}

type mockData struct {
	loans     map[uuid.UUID]*models.Loan
	payments  map[uuid.UUID]*models.Payment
	rollovers map[uuid.UUID]*models.Rollover
}

func newMockData() *mockData {
	return &mockData{
		loans:     make(map[uuid.UUID]*models.Loan),
		payments:  make(map[uuid.UUID]*models.Payment),
		rollovers: make(map[uuid.UUID]*models.Rollover),
	}
}

func (d *mockData) clone() *mockData {
	c := newMockData()
	for id, l := range d.loans {
		c.loans[id] = l.Clone()
	}
	for id, p := range d.payments {
		cp := *p
		c.payments[id] = &cp
	}
	for id, r := range d.rollovers {
		cr := *r
		c.rollovers[id] = &cr
	}
	return c
}

func NewMockStore() *MockStore {
	return &MockStore{data: newMockData()}
}

func (m *MockStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.data.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *MockStore) WithTx(_ context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockTx{mockReader: mockReader{data: m.data.clone()}, store: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) reader() mockReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mockReader{data: m.data.clone()}
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	r := m.reader()
	return r.GetLoan(ctx, id)
}

func (m *MockStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	r := m.reader()
	return r.GetAllLoans(ctx)
}

func (m *MockStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	r := m.reader()
	return r.GetPayment(ctx, id)
}

func (m *MockStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	r := m.reader()
	return r.GetPaymentsForLoan(ctx, loanID)
}

func (m *MockStore) GetRolloversForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Rollover, error) {
	r := m.reader()
	return r.GetRolloversForLoan(ctx, loanID)
}

// setLoan overwrites a stored loan, bypassing the ledger.
func (m *MockStore) setLoan(loan *models.Loan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.loans[loan.ID] = loan.Clone()
}

type mockReader struct {
	data *mockData
}

func (r mockReader) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, ok := r.data.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return loan.Clone(), nil
}

func (r mockReader) GetAllLoans(_ context.Context) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range r.data.loans {
		loans = append(loans, l.Clone())
	}
	slices.SortFunc(loans, func(a, b *models.Loan) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return loans, nil
}

func (r mockReader) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := r.data.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r mockReader) GetPaymentsForLoan(_ context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	payments := []*models.Payment{}
	for _, p := range r.data.payments {
		if p.LoanID == loanID {
			cp := *p
			payments = append(payments, &cp)
		}
	}
	slices.SortFunc(payments, func(a, b *models.Payment) int {
		return int(a.Seq - b.Seq)
	})
	return payments, nil
}

func (r mockReader) GetRolloversForLoan(_ context.Context, loanID uuid.UUID) ([]*models.Rollover, error) {
	rollovers := []*models.Rollover{}
	for _, ro := range r.data.rollovers {
		if ro.LoanID == loanID {
			cr := *ro
			rollovers = append(rollovers, &cr)
		}
	}
	slices.SortFunc(rollovers, func(a, b *models.Rollover) int {
		return int(a.Seq - b.Seq)
	})
	return rollovers, nil
}

type mockTx struct {
	mockReader
	store *MockStore
}

func (t *mockTx) UpdateLoan(_ context.Context, loan *models.Loan, expectedVersion int64) error {
	if t.store.failWrites != nil {
		return t.store.failWrites
	}
	if t.store.conflicts > 0 {
		t.store.conflicts--
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, expectedVersion, store.ErrVersionConflict)
	}
	current, ok := t.data.loans[loan.ID]
	if !ok {
		return fmt.Errorf("loan %s: %w", loan.ID, store.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, expectedVersion, store.ErrVersionConflict)
	}
	t.store.updates++
	t.data.loans[loan.ID] = loan.Clone()
	return nil
}

func (t *mockTx) DeleteLoan(_ context.Context, id uuid.UUID) error {
	if _, ok := t.data.loans[id]; !ok {
		return fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	delete(t.data.loans, id)
	for pid, p := range t.data.payments {
		if p.LoanID == id {
			delete(t.data.payments, pid)
		}
	}
	for rid, r := range t.data.rollovers {
		if r.LoanID == id {
			delete(t.data.rollovers, rid)
		}
	}
	return nil
}

func (t *mockTx) CreatePayment(_ context.Context, payment *models.Payment) error {
	if t.store.failWrites != nil {
		return t.store.failWrites
	}
	cp := *payment
	t.data.payments[payment.ID] = &cp
	return nil
}

func (t *mockTx) UpdatePaymentSplit(_ context.Context, payment *models.Payment) error {
	p, ok := t.data.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.ID, store.ErrNotFound)
	}
	p.ToInterest = payment.ToInterest
	p.ToCapital = payment.ToCapital
	return nil
}

func (t *mockTx) DeletePayment(_ context.Context, id uuid.UUID) error {
	if _, ok := t.data.payments[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, store.ErrNotFound)
	}
	delete(t.data.payments, id)
	return nil
}

func (t *mockTx) CreateRollover(_ context.Context, rollover *models.Rollover) error {
	cr := *rollover
	t.data.rollovers[rollover.ID] = &cr
	return nil
}

func (t *mockTx) UpdateRolloverInterest(_ context.Context, rollover *models.Rollover) error {
	r, ok := t.data.rollovers[rollover.ID]
	if !ok {
		return fmt.Errorf("rollover %s: %w", rollover.ID, store.ErrNotFound)
	}
	r.InterestForPeriod = rollover.InterestForPeriod
	r.CapitalBase = rollover.CapitalBase
	r.Notes = rollover.Notes
	return nil
}

var errDiskFull = errors.New("disk full")
