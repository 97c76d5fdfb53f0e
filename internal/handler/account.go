package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// AccountHandler handles HTTP requests for accounts and their postings
type AccountHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(l *ledger.Ledger, log *zap.Logger) *AccountHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountHandler{ledger: l, log: log}
}

// RegisterRoutes sets up the account routes on the given router
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	staff := middleware.RequireRole(auth.RoleOfficer, auth.RoleAdmin)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.Open)
		r.Get("/", h.List)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/balance", h.GetBalance)
		r.Get("/{id}/transactions", h.Statement)
		r.Post("/{id}/deposits", h.Deposit)
		r.Post("/{id}/withdrawals", h.Withdraw)
		r.With(staff).Patch("/{id}/status", h.SetStatus)
	})
	r.With(staff).Get("/transactions/stats", h.Stats)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.With(staff).Post("/transactions/{id}/reverse", h.Reverse)
}

// account loads the {id} account and checks the caller may use it. It
// writes the error response itself when it returns false.
func (h *AccountHandler) account(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	id, ok := caller(w, r)
	if !ok {
		return nil, false
	}
	accountID, ok := urlID(w, r, "id", "account")
	if !ok {
		return nil, false
	}

	acct, err := h.ledger.Account(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get account")
		return nil, false
	}
	if !canAccess(id, acct.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return acct, true
}

// Open handles POST /accounts
// Members open accounts for themselves; staff may name any owner
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req model.OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OwnerID == uuid.Nil {
		req.OwnerID = id.Subject
	}
	if !canAccess(id, req.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.ledger.OpenAccount(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to open account")
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(acct))
}

// List handles GET /accounts
// Staff may list another member's accounts with ?owner_id=
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	owner := id.Subject
	if q := r.URL.Query().Get("owner_id"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid owner ID format")
			return
		}
		if !canAccess(id, parsed) {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		owner = parsed
	}

	accounts, err := h.ledger.AccountsByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list accounts")
		return
	}

	views := make([]accountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, newAccountView(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetByID handles GET /accounts/{id}
func (h *AccountHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

// GetBalance handles GET /accounts/{id}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceOf(acct, h.ledger.Now().UTC()))
}

// Statement handles GET /accounts/{id}/transactions?limit=&offset=
func (h *AccountHandler) Statement(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)

	txs, err := h.ledger.Transactions(r.Context(), acct.ID, limit, offset)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get statement")
		return
	}
	writeJSON(w, http.StatusOK, transactionViews(txs))
}

// Deposit handles POST /accounts/{id}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, model.TransactionTypeDeposit, model.DirectionCredit)
}

// Withdraw handles POST /accounts/{id}/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, model.TransactionTypeWithdrawal, model.DirectionDebit)
}

// post applies a cash posting under the account's period limits. The
// optional Idempotency-Key header makes retries safe.
func (h *AccountHandler) post(w http.ResponseWriter, r *http.Request, typ model.TransactionType, dir model.Direction) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	var req model.CreatePostingRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount, acct.Scale())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pr := ledger.PostRequest{
		AccountID:      acct.ID,
		Type:           typ,
		Direction:      dir,
		Amount:         amount,
		Reference:      req.Reference,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.ExchangeRate != "" {
		rate, err := decimal.NewFromString(req.ExchangeRate)
		if err != nil || !rate.IsPositive() {
			writeError(w, http.StatusBadRequest, model.ErrInvalidRate.Error())
			return
		}
		pr.ExchangeRate = &rate
	}

	t, err := h.ledger.PostWithLimits(r.Context(), pr)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to post transaction")
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionView(t))
}

// SetStatus handles PATCH /accounts/{id}/status (staff only)
func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id", "account")
	if !ok {
		return
	}

	var req model.SetStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.ledger.SetStatus(r.Context(), accountID, req.Status, req.Reason)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to change account status")
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

// Stats handles GET /transactions/stats?from=&to= (staff only). Both
// bounds are calendar dates and inclusive.
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if q := r.URL.Query().Get("from"); q != "" {
		d, err := time.Parse(time.DateOnly, q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be a date (YYYY-MM-DD)")
			return
		}
		from = d
	}
	if q := r.URL.Query().Get("to"); q != "" {
		d, err := time.Parse(time.DateOnly, q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be a date (YYYY-MM-DD)")
			return
		}
		to = d.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	stats, err := h.ledger.Stats(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get transaction statistics")
		return
	}
	writeJSON(w, http.StatusOK, newTransactionStatsView(stats, money.Scale(h.ledger.Currency())))
}

// GetTransaction handles GET /transactions/{id}
func (h *AccountHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	txID, ok := urlID(w, r, "id", "transaction")
	if !ok {
		return
	}

	t, err := h.ledger.Transaction(r.Context(), txID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get transaction")
		return
	}
	acct, err := h.ledger.Account(r.Context(), t.AccountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get transaction")
		return
	}
	if !canAccess(id, acct.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(t))
}

// Reverse handles POST /transactions/{id}/reverse (staff only)
func (h *AccountHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	txID, ok := urlID(w, r, "id", "transaction")
	if !ok {
		return
	}

	var req model.ReverseRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	t, err := h.ledger.Reverse(r.Context(), txID, req.Reason)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to reverse transaction")
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionView(t))
}

// parseAmount reads a positive decimal amount in the given scale
func parseAmount(amount string, scale int32) (money.Amount, error) {
	a, err := money.Parse(amount, scale)
	if err != nil {
		return 0, err
	}
	if a <= 0 {
		return 0, model.ErrInvalidAmount
	}
	return a, nil
}
