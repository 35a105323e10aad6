package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrRuleViolation       = errors.New("rule violation")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrPersistence         = errors.New("persistence error")
)

// Reasons carried by rule violations.
const (
	ReasonInterestNotCleared  = "interest not cleared"
	ReasonNoInterestDue       = "no interest outstanding"
	ReasonInterestOverpayment = "interest overpayment"
	ReasonCapitalOverpayment  = "capital overpayment"
	ReasonLimitReached        = "limit reached"
	ReasonInterestOutstanding = "interest outstanding"
	ReasonAlreadyRepaid       = "already repaid"
)

// Error is returned by every ledger operation that fails. Reason is meant to be
// shown to the user as is.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Reason: fmt.Sprintf(format, args...)}
}

func ruleViolation(reason string) error {
	return &Error{Kind: ErrRuleViolation, Reason: reason}
}

// notFound keeps the storage message, which names the missing record.
func notFound(err error) error {
	return &Error{Kind: ErrNotFound, Reason: err.Error()}
}

func persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Reason: op, Err: err}
}

// ReasonOf returns the user-facing reason of a ledger error, or err.Error()
// for anything else.
func ReasonOf(err error) string {
	var le *Error
	if errors.As(err, &le) && le.Reason != "" {
		return le.Reason
	}
	return err.Error()
}
