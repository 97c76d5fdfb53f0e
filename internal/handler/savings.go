package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/deposits"
	"github.com/simonkvalheim/fjord-microfinance/internal/goals"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// SavingsHandler handles HTTP requests for fixed deposits and savings goals
type SavingsHandler struct {
	deposits *deposits.Service
	goals    *goals.Service
	ledger   *ledger.Ledger
	log      *zap.Logger
}

// NewSavingsHandler creates a new SavingsHandler
func NewSavingsHandler(d *deposits.Service, g *goals.Service, l *ledger.Ledger, log *zap.Logger) *SavingsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SavingsHandler{deposits: d, goals: g, ledger: l, log: log}
}

// RegisterRoutes sets up the deposit and goal routes on the given router
func (h *SavingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/deposits", func(r chi.Router) {
		r.Post("/", h.OpenDeposit)
		r.Get("/", h.ListDeposits)
		r.Get("/{id}", h.GetDeposit)
		r.Post("/{id}/withdraw", h.WithdrawEarly)
		r.With(middleware.RequireRole(auth.RoleOfficer, auth.RoleAdmin)).Post("/{id}/mature", h.Mature)
	})
	r.Route("/goals", func(r chi.Router) {
		r.Post("/", h.CreateGoal)
		r.Get("/", h.ListGoals)
		r.Get("/{id}", h.GetGoal)
		r.Post("/{id}/contributions", h.Contribute)
		r.Post("/{id}/cancel", h.CancelGoal)
	})
	r.Get("/savings/stats", h.Stats)
}

// ownedAccount loads accountID and checks the caller may use it
func (h *SavingsHandler) ownedAccount(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) (*model.Account, bool) {
	id, ok := caller(w, r)
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

// queryAccount resolves the required ?account_id= parameter
func (h *SavingsHandler) queryAccount(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "account_id query parameter is required")
		return nil, false
	}
	return h.ownedAccount(w, r, accountID)
}

func (h *SavingsHandler) deposit(w http.ResponseWriter, r *http.Request) (*model.FixedDeposit, *model.Account, bool) {
	depositID, ok := urlID(w, r, "id", "deposit")
	if !ok {
		return nil, nil, false
	}
	d, err := h.deposits.Get(r.Context(), depositID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get deposit")
		return nil, nil, false
	}
	acct, ok := h.ownedAccount(w, r, d.AccountID)
	if !ok {
		return nil, nil, false
	}
	return d, acct, true
}

// OpenDeposit handles POST /deposits
func (h *SavingsHandler) OpenDeposit(w http.ResponseWriter, r *http.Request) {
	var req model.OpenDepositRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, ok := h.ownedAccount(w, r, req.AccountID)
	if !ok {
		return
	}

	d, err := h.deposits.Open(r.Context(), acct.OwnerID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to open deposit")
		return
	}
	writeJSON(w, http.StatusCreated, newDepositView(d, acct.Scale()))
}

// ListDeposits handles GET /deposits?account_id=
func (h *SavingsHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.queryAccount(w, r)
	if !ok {
		return
	}
	list, err := h.deposits.ByAccount(r.Context(), acct.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list deposits")
		return
	}
	views := make([]depositView, 0, len(list))
	for i := range list {
		views = append(views, newDepositView(&list[i], acct.Scale()))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetDeposit handles GET /deposits/{id}
func (h *SavingsHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	d, acct, ok := h.deposit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDepositView(d, acct.Scale()))
}

// WithdrawEarly handles POST /deposits/{id}/withdraw
func (h *SavingsHandler) WithdrawEarly(w http.ResponseWriter, r *http.Request) {
	d, acct, ok := h.deposit(w, r)
	if !ok {
		return
	}
	updated, err := h.deposits.WithdrawEarly(r.Context(), d.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to withdraw deposit")
		return
	}
	writeJSON(w, http.StatusOK, newDepositView(updated, acct.Scale()))
}

// Mature handles POST /deposits/{id}/mature (staff only)
func (h *SavingsHandler) Mature(w http.ResponseWriter, r *http.Request) {
	d, acct, ok := h.deposit(w, r)
	if !ok {
		return
	}
	updated, err := h.deposits.Mature(r.Context(), d.ID, h.ledger.Now().UTC())
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to mature deposit")
		return
	}
	writeJSON(w, http.StatusOK, newDepositView(updated, acct.Scale()))
}

func (h *SavingsHandler) goal(w http.ResponseWriter, r *http.Request) (*model.SavingsGoal, *model.Account, bool) {
	goalID, ok := urlID(w, r, "id", "goal")
	if !ok {
		return nil, nil, false
	}
	g, err := h.goals.Get(r.Context(), goalID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get goal")
		return nil, nil, false
	}
	acct, ok := h.ownedAccount(w, r, g.AccountID)
	if !ok {
		return nil, nil, false
	}
	return g, acct, true
}

// CreateGoal handles POST /goals
func (h *SavingsHandler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGoalRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, ok := h.ownedAccount(w, r, req.AccountID)
	if !ok {
		return
	}

	g, err := h.goals.Create(r.Context(), acct.OwnerID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to create goal")
		return
	}
	writeJSON(w, http.StatusCreated, newGoalView(g, acct.Scale()))
}

// ListGoals handles GET /goals?account_id=
func (h *SavingsHandler) ListGoals(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.queryAccount(w, r)
	if !ok {
		return
	}
	list, err := h.goals.ByAccount(r.Context(), acct.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list goals")
		return
	}
	views := make([]goalView, 0, len(list))
	for i := range list {
		views = append(views, newGoalView(&list[i], acct.Scale()))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetGoal handles GET /goals/{id}
func (h *SavingsHandler) GetGoal(w http.ResponseWriter, r *http.Request) {
	g, acct, ok := h.goal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newGoalView(g, acct.Scale()))
}

// Contribute handles POST /goals/{id}/contributions
// The Idempotency-Key header overrides a key given in the body
func (h *SavingsHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	g, acct, ok := h.goal(w, r)
	if !ok {
		return
	}
	var req model.ContributeRequest
	if !decode(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	updated, err := h.goals.Contribute(r.Context(), g.ID, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to contribute to goal")
		return
	}
	writeJSON(w, http.StatusOK, newGoalView(updated, acct.Scale()))
}

// CancelGoal handles POST /goals/{id}/cancel
func (h *SavingsHandler) CancelGoal(w http.ResponseWriter, r *http.Request) {
	g, acct, ok := h.goal(w, r)
	if !ok {
		return
	}
	updated, err := h.goals.Cancel(r.Context(), g.ID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to cancel goal")
		return
	}
	writeJSON(w, http.StatusOK, newGoalView(updated, acct.Scale()))
}

// Stats handles GET /savings/stats?owner_id=
func (h *SavingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, ok := subject(w, r, "owner_id")
	if !ok {
		return
	}
	stats, err := h.deposits.Stats(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get savings statistics")
		return
	}
	writeJSON(w, http.StatusOK, newSavingsStatsView(stats, money.Scale(h.deposits.Currency())))
}
