package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/investments"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// InvestmentHandler handles HTTP requests for investment products and holdings
type InvestmentHandler struct {
	investments *investments.Service
	ledger      *ledger.Ledger
	log         *zap.Logger
}

// NewInvestmentHandler creates a new InvestmentHandler
func NewInvestmentHandler(svc *investments.Service, l *ledger.Ledger, log *zap.Logger) *InvestmentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &InvestmentHandler{investments: svc, ledger: l, log: log}
}

// RegisterRoutes sets up the investment routes on the given router
func (h *InvestmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/investments", func(r chi.Router) {
		r.Get("/products", h.Products)
		r.Post("/", h.Purchase)
		r.Get("/", h.List)
		r.Get("/portfolio", h.Portfolio)
		r.Get("/{id}", h.GetByID)
		r.Post("/{id}/sell", h.Sell)
		r.With(middleware.RequireRole(auth.RoleOfficer, auth.RoleAdmin)).Post("/{id}/revalue", h.Revalue)
	})
}

func (h *InvestmentHandler) scale() int32 {
	return money.Scale(h.investments.Currency())
}

// investment loads the {id} holding and checks the caller owns it or is staff
func (h *InvestmentHandler) investment(w http.ResponseWriter, r *http.Request) (*model.Investment, auth.Identity, bool) {
	id, ok := caller(w, r)
	if !ok {
		return nil, id, false
	}
	invID, ok := urlID(w, r, "id", "investment")
	if !ok {
		return nil, id, false
	}
	inv, err := h.investments.Get(r.Context(), invID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to get investment")
		return nil, id, false
	}
	if !canAccess(id, inv.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, id, false
	}
	return inv, id, true
}

// Products handles GET /investments/products
func (h *InvestmentHandler) Products(w http.ResponseWriter, r *http.Request) {
	products := h.investments.Products()
	views := make([]investmentProductView, 0, len(products))
	for _, p := range products {
		views = append(views, newInvestmentProductView(p, h.scale()))
	}
	writeJSON(w, http.StatusOK, views)
}

// Purchase handles POST /investments
// The holding belongs to the owner of the paying account
func (h *InvestmentHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req model.PurchaseInvestmentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := id.Subject
	if id.Role.Staff() {
		acct, err := h.ledger.Account(r.Context(), req.AccountID)
		if err != nil {
			writeDomainError(w, h.log, err, "Failed to get account")
			return
		}
		owner = acct.OwnerID
	}

	inv, err := h.investments.Purchase(r.Context(), owner, req)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to purchase investment")
		return
	}
	writeJSON(w, http.StatusCreated, newInvestmentView(inv))
}

// List handles GET /investments?owner_id=
func (h *InvestmentHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := subject(w, r, "owner_id")
	if !ok {
		return
	}
	list, err := h.investments.ByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to list investments")
		return
	}
	views := make([]investmentView, 0, len(list))
	for i := range list {
		views = append(views, newInvestmentView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// Portfolio handles GET /investments/portfolio?owner_id=
func (h *InvestmentHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	owner, ok := subject(w, r, "owner_id")
	if !ok {
		return
	}
	p, err := h.investments.Portfolio(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to summarize portfolio")
		return
	}
	writeJSON(w, http.StatusOK, newPortfolioView(p, h.scale()))
}

// GetByID handles GET /investments/{id}
func (h *InvestmentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.investment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newInvestmentView(inv))
}

// Sell handles POST /investments/{id}/sell
// Members sell at the current value; only staff may name a price
func (h *InvestmentHandler) Sell(w http.ResponseWriter, r *http.Request) {
	inv, id, ok := h.investment(w, r)
	if !ok {
		return
	}
	var req model.SellInvestmentRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	var price *money.Amount
	if req.Price != "" {
		if !id.Role.Staff() {
			writeError(w, http.StatusForbidden, "price may only be set by staff")
			return
		}
		p, err := money.Parse(req.Price, money.Scale(inv.Currency))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		price = &p
	}

	sold, err := h.investments.Sell(r.Context(), inv.ID, price)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to sell investment")
		return
	}
	writeJSON(w, http.StatusOK, newInvestmentView(sold))
}

// Revalue handles POST /investments/{id}/revalue (staff only)
func (h *InvestmentHandler) Revalue(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.investment(w, r)
	if !ok {
		return
	}
	var req model.RevalueInvestmentRequest
	if !decode(w, r, &req) {
		return
	}
	value, err := money.Parse(req.Value, money.Scale(inv.Currency))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	marked, err := h.investments.Revalue(r.Context(), inv.ID, value)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to revalue investment")
		return
	}
	writeJSON(w, http.StatusOK, newInvestmentView(marked))
}
