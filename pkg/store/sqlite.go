package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/sirupsen/logrus"
)

// busyTimeoutMillis bounds how long a writer waits for the database lock.
const busyTimeoutMillis = 5000

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	sqlReader
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the database file and initializes the schema.
// Write transactions take the database lock on BEGIN so that two read-modify-write
// sequences on the same loan cannot interleave.
func NewSQLiteStore(dataSourceName string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite3", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqlReader: sqlReader{q: db}, db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.WithField("dsn", dataSourceName).Info("Database connection established and schema initialized.")
	return s, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d", dsn, sep, busyTimeoutMillis)
}

// initSchema creates the tables if they don't already exist and adds columns introduced later.
// Money is stored as TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		guarantor_id TEXT NOT NULL DEFAULT '',
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		origination_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		total_due TEXT NOT NULL,
		total_paid TEXT NOT NULL DEFAULT '0',
		capital_paid TEXT NOT NULL DEFAULT '0',
		interest_paid TEXT NOT NULL DEFAULT '0',
		rollover_count INTEGER NOT NULL DEFAULT 0,
		last_period_interest TEXT NOT NULL,
		original_total_due TEXT NOT NULL,
		status TEXT NOT NULL,
		meeting_id TEXT NOT NULL DEFAULT '',
		exercise_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date DATETIME NOT NULL,
		method TEXT NOT NULL,
		allocation_type TEXT NOT NULL,
		to_interest TEXT NOT NULL,
		to_capital TEXT NOT NULL,
		settlement INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS rollovers (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		date DATETIME NOT NULL,
		interest_for_period TEXT NOT NULL,
		capital_base TEXT NOT NULL,
		new_due_date DATETIME NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan_id ON payments(loan_id);
	CREATE INDEX IF NOT EXISTS idx_rollovers_loan_id ON rollovers(loan_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"proof_document_ref TEXT NOT NULL DEFAULT ''",
		"notes TEXT NOT NULL DEFAULT ''",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

// mapError turns SQLite lock contention into ErrVersionConflict so callers retry it.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.BorrowerID, loan.GuarantorID, loan.Principal, loan.InterestRate,
		loan.OriginationDate, loan.DueDate, loan.TotalDue, loan.TotalPaid, loan.CapitalPaid, loan.InterestPaid,
		loan.RolloverCount, loan.LastPeriodInterest, loan.OriginalTotalDue, loan.Status,
		loan.MeetingID, loan.ExerciseID, loan.ProofDocumentRef, loan.Notes, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", mapError(err))
	}
	return nil
}

// WithTx runs fn inside a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{sqlReader: sqlReader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	sqlReader
	tx *sql.Tx
}

func (t *sqliteTx) UpdateLoan(ctx context.Context, loan *models.Loan, expectedVersion int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE loans SET borrower_id = ?, guarantor_id = ?, principal = ?, interest_rate = ?, origination_date = ?, due_date = ?,
		total_due = ?, total_paid = ?, capital_paid = ?, interest_paid = ?, rollover_count = ?, last_period_interest = ?,
		original_total_due = ?, status = ?, meeting_id = ?, exercise_id = ?, proof_document_ref = ?, notes = ?,
		version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.BorrowerID, loan.GuarantorID, loan.Principal, loan.InterestRate, loan.OriginationDate, loan.DueDate,
		loan.TotalDue, loan.TotalPaid, loan.CapitalPaid, loan.InterestPaid, loan.RolloverCount, loan.LastPeriodInterest,
		loan.OriginalTotalDue, loan.Status, loan.MeetingID, loan.ExerciseID, loan.ProofDocumentRef, loan.Notes,
		loan.Version, loan.UpdatedAt,
		loan.ID.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := t.GetLoan(ctx, loan.ID); err != nil {
			return err
		}
		return fmt.Errorf("loan %s at version %d: %w", loan.ID, expectedVersion, ErrVersionConflict)
	}
	return nil
}

// DeleteLoan removes a loan together with its payments and rollovers.
func (t *sqliteTx) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", mapError(err))
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM rollovers WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated rollovers: %w", mapError(err))
	}

	result, err := t.tx.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", mapError(err))
	}
	return checkAffected(result, "loan", id)
}

func (t *sqliteTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), p.Amount, p.Date, p.Method, p.AllocationType,
		p.ToInterest, p.ToCapital, p.Settlement, p.Notes, p.Seq, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", mapError(err))
	}
	return nil
}

// UpdatePaymentSplit rewrites the recorded interest/capital split after a replay.
func (t *sqliteTx) UpdatePaymentSplit(ctx context.Context, p *models.Payment) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE payments SET to_interest = ?, to_capital = ? WHERE id = ?`,
		p.ToInterest, p.ToCapital, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment split: %w", mapError(err))
	}
	return checkAffected(result, "payment", p.ID)
}

func (t *sqliteTx) DeletePayment(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", mapError(err))
	}
	return checkAffected(result, "payment", id)
}

func (t *sqliteTx) CreateRollover(ctx context.Context, r *models.Rollover) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO rollovers (`+rolloverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.LoanID.String(), r.Number, r.Date, r.InterestForPeriod, r.CapitalBase,
		r.NewDueDate, r.Notes, r.Seq, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rollover: %w", mapError(err))
	}
	return nil
}

// UpdateRolloverInterest rewrites the interest and capital base of a rollover after a replay.
func (t *sqliteTx) UpdateRolloverInterest(ctx context.Context, r *models.Rollover) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE rollovers SET interest_for_period = ?, capital_base = ?, notes = ? WHERE id = ?`,
		r.InterestForPeriod, r.CapitalBase, r.Notes, r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update rollover: %w", mapError(err))
	}
	return checkAffected(result, "rollover", r.ID)
}

func checkAffected(result sql.Result, what string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

const (
	loanColumns = `id, borrower_id, guarantor_id, principal, interest_rate, origination_date, due_date,
		total_due, total_paid, capital_paid, interest_paid, rollover_count, last_period_interest,
		original_total_due, status, meeting_id, exercise_id, proof_document_ref, notes, version, created_at, updated_at`
	paymentColumns = `id, loan_id, amount, date, method, allocation_type, to_interest, to_capital,
		settlement, notes, seq, created_at`
	rolloverColumns = `id, loan_id, number, date, interest_for_period, capital_base, new_due_date,
		notes, seq, created_at`
)

// sqlReader implements Reader over the database or an open transaction.
type sqlReader struct {
	q querier
}

// GetLoan retrieves a loan by its ID.
func (r sqlReader) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", mapError(err))
	}
	return loan, nil
}

// GetAllLoans retrieves all loans, oldest first.
func (r sqlReader) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", mapError(err))
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func (r sqlReader) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", mapError(err))
	}
	return p, nil
}

// GetPaymentsForLoan retrieves the payments of a loan in the order they were recorded.
func (r sqlReader) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY seq ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, mapError(err))
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// GetRolloversForLoan retrieves the rollovers of a loan in the order they were recorded.
func (r sqlReader) GetRolloversForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Rollover, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+rolloverColumns+` FROM rollovers WHERE loan_id = ? ORDER BY seq ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get rollovers for loan %s: %w", loanID, mapError(err))
	}
	defer rows.Close()

	var rollovers []*models.Rollover
	for rows.Next() {
		var ro models.Rollover
		if err := rows.Scan(&ro.ID, &ro.LoanID, &ro.Number, &ro.Date, &ro.InterestForPeriod, &ro.CapitalBase,
			&ro.NewDueDate, &ro.Notes, &ro.Seq, &ro.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollover row: %w", err)
		}
		rollovers = append(rollovers, &ro)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan rollovers: %w", err)
	}
	return rollovers, nil
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	err := row.Scan(&loan.ID, &loan.BorrowerID, &loan.GuarantorID, &loan.Principal, &loan.InterestRate,
		&loan.OriginationDate, &loan.DueDate, &loan.TotalDue, &loan.TotalPaid, &loan.CapitalPaid, &loan.InterestPaid,
		&loan.RolloverCount, &loan.LastPeriodInterest, &loan.OriginalTotalDue, &loan.Status,
		&loan.MeetingID, &loan.ExerciseID, &loan.ProofDocumentRef, &loan.Notes, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.LoanID, &p.Amount, &p.Date, &p.Method, &p.AllocationType,
		&p.ToInterest, &p.ToCapital, &p.Settlement, &p.Notes, &p.Seq, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
