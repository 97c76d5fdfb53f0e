package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/lending"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// LoanHandler handles HTTP requests for loans, the loan calculator and
// credit scores
type LoanHandler struct {
	loans  *lending.Service
	ledger *ledger.Ledger
	scorer lending.Scorer
	log    *zap.Logger
}

// NewLoanHandler creates a new LoanHandler
func NewLoanHandler(loans *lending.Service, l *ledger.Ledger, scorer lending.Scorer, log *zap.Logger) *LoanHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoanHandler{loans: loans, ledger: l, scorer: scorer, log: log}
}

// RegisterRoutes sets up the loan routes on the given router
func (h *LoanHandler) RegisterRoutes(r chi.Router) {
	staff := middleware.RequireRole(auth.RoleOfficer, auth.RoleAdmin)

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.Apply)
		r.Get("/", h.List)
		r.Post("/quote", h.Quote)
		r.With(staff).Get("/stats", h.Stats)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/schedule", h.Schedule)
		r.Get("/{id}/payments", h.Payments)
		r.Post("/{id}/payments", h.Pay)
		r.Get("/{id}/restructurings", h.Restructurings)
		r.With(staff).Post("/{id}/approve", h.Approve)
		r.With(staff).Post("/{id}/reject", h.Reject)
		r.With(staff).Post("/{id}/restructure", h.Restructure)
	})
	r.Get("/credit-score", h.CreditScore)
}

// loan loads the {id} loan and checks the caller is its borrower or staff
func (h *LoanHandler) loan(w http.ResponseWriter, r *http.Request) (*model.Loan, bool) {
	id, ok := caller(w, r)
	if !ok {
		return nil, false
	}
	loanID, ok := urlID(w, r, "id", "loan")
	if !ok {
		return nil, false
	}

	l, err := h.loans.Get(r.Context(), loanID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get loan")
		return nil, false
	}
	if !canAccess(id, l.BorrowerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return l, true
}

// subject resolves the member a query is about: the caller, or the member
// named by param when the caller is staff
func subject(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, ok := caller(w, r)
	if !ok {
		return uuid.Nil, false
	}
	q := r.URL.Query().Get(param)
	if q == "" {
		return id.Subject, true
	}
	member, err := uuid.Parse(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid member ID format")
		return uuid.Nil, false
	}
	if !canAccess(id, member) {
		writeError(w, http.StatusForbidden, "Access denied")
		return uuid.Nil, false
	}
	return member, true
}

// Apply handles POST /loans
// The borrower is the owner of the account the loan is disbursed to
func (h *LoanHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req model.LoanApplicationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.ledger.Account(r.Context(), req.AccountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to validate account")
		return
	}
	if !canAccess(id, acct.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	loan, err := h.loans.Apply(r.Context(), acct.OwnerID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to apply for loan")
		return
	}
	writeJSON(w, http.StatusCreated, newLoanView(loan))
}

// List handles GET /loans?borrower_id=
func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	borrower, ok := subject(w, r, "borrower_id")
	if !ok {
		return
	}

	loans, err := h.loans.ByBorrower(r.Context(), borrower)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list loans")
		return
	}
	views := make([]loanView, 0, len(loans))
	for i := range loans {
		views = append(views, newLoanView(&loans[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetByID handles GET /loans/{id}
func (h *LoanHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	l, ok := h.loan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(l))
}

// Schedule handles GET /loans/{id}/schedule
func (h *LoanHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	l, ok := h.loan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, installmentViews(l.Schedule, money.Scale(l.Currency)))
}

// Payments handles GET /loans/{id}/payments
func (h *LoanHandler) Payments(w http.ResponseWriter, r *http.Request) {
	l, ok := h.loan(w, r)
	if !ok {
		return
	}

	payments, err := h.loans.Payments(r.Context(), l.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list payments")
		return
	}
	scale := money.Scale(l.Currency)
	views := make([]paymentView, 0, len(payments))
	for i := range payments {
		views = append(views, newPaymentView(&payments[i], scale))
	}
	writeJSON(w, http.StatusOK, views)
}

// Pay handles POST /loans/{id}/payments
func (h *LoanHandler) Pay(w http.ResponseWriter, r *http.Request) {
	l, ok := h.loan(w, r)
	if !ok {
		return
	}

	var req model.LoanPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Amount) == "" {
		writeError(w, http.StatusBadRequest, model.ErrInvalidAmount.Error())
		return
	}
	// members pay as of the ledger clock; only staff may book a payment on
	// another date
	if req.PaymentDate != nil {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		if !id.Role.Staff() {
			writeError(w, http.StatusForbidden, "payment_date may only be set by staff")
			return
		}
	}

	p, err := h.loans.Pay(r.Context(), l.ID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to record payment")
		return
	}
	writeJSON(w, http.StatusCreated, newPaymentView(p, money.Scale(l.Currency)))
}

// Restructurings handles GET /loans/{id}/restructurings
func (h *LoanHandler) Restructurings(w http.ResponseWriter, r *http.Request) {
	l, ok := h.loan(w, r)
	if !ok {
		return
	}

	records, err := h.loans.Restructurings(r.Context(), l.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list restructurings")
		return
	}
	scale := money.Scale(l.Currency)
	views := make([]restructuringView, 0, len(records))
	for i := range records {
		views = append(views, newRestructuringView(&records[i], scale))
	}
	writeJSON(w, http.StatusOK, views)
}

// Approve handles POST /loans/{id}/approve (staff only)
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	loanID, ok := urlID(w, r, "id", "loan")
	if !ok {
		return
	}
	l, err := h.loans.Approve(r.Context(), loanID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to approve loan")
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(l))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /loans/{id}/reject (staff only)
func (h *LoanHandler) Reject(w http.ResponseWriter, r *http.Request) {
	loanID, ok := urlID(w, r, "id", "loan")
	if !ok {
		return
	}
	var req rejectRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	l, err := h.loans.Reject(r.Context(), loanID, req.Reason)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to reject loan")
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(l))
}

// Restructure handles POST /loans/{id}/restructure (staff only)
func (h *LoanHandler) Restructure(w http.ResponseWriter, r *http.Request) {
	loanID, ok := urlID(w, r, "id", "loan")
	if !ok {
		return
	}
	var req model.RestructureRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.loans.Restructure(r.Context(), loanID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to restructure loan")
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(l))
}

// Quote handles POST /loans/quote
// Prices a prospective loan for the caller without persisting anything
func (h *LoanHandler) Quote(w http.ResponseWriter, r *http.Request) {
	member, ok := subject(w, r, "member_id")
	if !ok {
		return
	}
	var req lending.QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	q, err := h.loans.Quote(r.Context(), member, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to quote loan")
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(q))
}

// Stats handles GET /loans/stats (staff only)
func (h *LoanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.loans.Stats(r.Context())
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to compute portfolio stats")
		return
	}
	writeJSON(w, http.StatusOK, newStatsView(stats, money.Scale(h.loans.Currency())))
}

type scoreResponse struct {
	SubjectID  uuid.UUID          `json:"subject_id"`
	Score      int                `json:"score"`
	Factors    model.ScoreFactors `json:"factors"`
	ComputedAt time.Time          `json:"computed_at"`
}

// CreditScore handles GET /credit-score?member_id=
func (h *LoanHandler) CreditScore(w http.ResponseWriter, r *http.Request) {
	member, ok := subject(w, r, "member_id")
	if !ok {
		return
	}

	snap, err := h.scorer.Score(r.Context(), member)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to compute credit score")
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		SubjectID:  snap.SubjectID,
		Score:      snap.Score,
		Factors:    snap.Factors,
		ComputedAt: snap.ComputedAt,
	})
}
