package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/assocledger/pkg/ledger"
	"github.com/mcclellann/assocledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server exposes the ledger over HTTP.
type Server struct {
	ledger   *ledger.Ledger
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewServer(l *ledger.Ledger, logger *logrus.Logger) *Server {
	return &Server{
		ledger:   l,
		validate: newValidator(),
		logger:   logger,
	}
}

// newValidator validates decimal fields through their string form; dpos
// requires a strictly positive amount.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	validate.RegisterValidation("dpos", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	return validate
}

// Date accepts "2006-01-02" or RFC 3339 timestamps. An absent date is zero.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t
	return nil
}

type createLoanRequest struct {
	BorrowerID       string          `json:"borrower_id" validate:"required"`
	GuarantorID      string          `json:"guarantor_id"`
	Principal        decimal.Decimal `json:"principal" validate:"dpos"`
	InterestRate     decimal.Decimal `json:"interest_rate" validate:"dpos"`
	OriginationDate  Date            `json:"origination_date"`
	DueDate          Date            `json:"due_date"`
	MeetingID        string          `json:"meeting_id"`
	ExerciseID       string          `json:"exercise_id"`
	ProofDocumentRef string          `json:"proof_document_ref"`
	Notes            string          `json:"notes"`
}

type paymentRequest struct {
	Amount         decimal.Decimal       `json:"amount" validate:"dpos"`
	AllocationType models.AllocationType `json:"allocation_type" validate:"required,oneof=interest capital mixed"`
	Date           Date                  `json:"date"`
	Method         string                `json:"method" validate:"max=64"`
	Notes          string                `json:"notes"`
}

type settleRequest struct {
	Date   Date   `json:"date"`
	Method string `json:"method" validate:"max=64"`
}

type rolloverRequest struct {
	Date  Date   `json:"date"`
	Notes string `json:"notes"`
}

type eligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// RegisterRoutes wires the ledger endpoints onto router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods(http.MethodDelete)
	router.HandleFunc("/loans/{id}/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/statement", s.statementHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/settle", s.settleHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/rollovers", s.listRolloversHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/rollovers", s.rolloverHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/rollover-eligibility", s.eligibilityHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/reconciliation", s.reconcileHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/recompute", s.recomputeHandler).Methods(http.MethodPost)
	router.HandleFunc("/payments/{id}", s.deletePaymentHandler).Methods(http.MethodDelete)
}

// Router returns a router with every endpoint and the request logger.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	s.RegisterRoutes(router)
	return router
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decode(w, r, &req) {
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), ledger.NewLoan{
		BorrowerID:       req.BorrowerID,
		GuarantorID:      req.GuarantorID,
		Principal:        req.Principal,
		InterestRate:     req.InterestRate,
		OriginationDate:  req.OriginationDate.Time,
		DueDate:          req.DueDate.Time,
		MeetingID:        req.MeetingID,
		ExerciseID:       req.ExerciseID,
		ProofDocumentRef: req.ProofDocumentRef,
		Notes:            req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(r.URL.Query().Get("status"))
	loans, err := s.ledger.ListLoans(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), loanID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	status, err := s.ledger.EffectiveStatus(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.LoanStatus{"status": status})
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Statement(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	payments, err := s.ledger.ListPayments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.ledger.RecordPayment(r.Context(), loanID, ledger.PaymentRequest{
		Amount:         req.Amount,
		AllocationType: req.AllocationType,
		Date:           req.Date.Time,
		Method:         req.Method,
		Notes:          req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) settleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	payment, err := s.ledger.PayInFull(r.Context(), loanID, req.Date.Time, req.Method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) listRolloversHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rollovers, err := s.ledger.ListRollovers(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollovers)
}

func (s *Server) rolloverHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req rolloverRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	rollover, err := s.ledger.Rollover(r.Context(), loanID, req.Date.Time, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rollover)
}

func (s *Server) eligibilityHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	eligible, reason, err := s.ledger.RolloverEligibility(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{Eligible: eligible, Reason: reason})
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.ledger.Reconcile(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) recomputeHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.ledger.Recompute(r.Context(), loanID); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeletePayment(r.Context(), paymentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return s.validateRequest(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return s.validateRequest(w, dst)
	}
	return s.decode(w, r, dst)
}

func (s *Server) validateRequest(w http.ResponseWriter, dst any) bool {
	err := s.validate.Struct(dst)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	var messages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, e.Field()+" is required")
		case "dpos":
			messages = append(messages, e.Field()+" must be a positive amount")
		case "oneof":
			messages = append(messages, e.Field()+" must be one of: "+e.Param())
		default:
			messages = append(messages, e.Field()+" is invalid")
		}
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: strings.Join(messages, "; ")})
	return false
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps ledger error kinds onto HTTP status codes. Persistence
// failures are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrRuleViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: ledger.ReasonOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("Handled request")
	})
}
