package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

// TransferHandler handles HTTP requests for transfers between accounts
type TransferHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(l *ledger.Ledger, log *zap.Logger) *TransferHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferHandler{ledger: l, log: log}
}

// RegisterRoutes sets up the transfer routes on the given router
func (h *TransferHandler) RegisterRoutes(r chi.Router) {
	r.Post("/transfers", h.CreateTransfer)
}

type transferResponse struct {
	Debit  transactionView `json:"debit"`
	Credit transactionView `json:"credit"`
}

// CreateTransfer handles POST /transfers
// Idempotency-Key header is required for safe retries
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req model.CreateTransferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Only the source account must belong to the caller
	from, err := h.ledger.Account(r.Context(), req.FromAccountID)
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to validate source account")
		return
	}
	if !canAccess(id, from.OwnerID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if !strings.EqualFold(req.Currency, from.Currency) {
		writeError(w, http.StatusUnprocessableEntity, "Request currency does not match account currency")
		return
	}

	amount, err := parseAmount(req.Amount, from.Scale())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posted, err := h.ledger.Transfer(r.Context(), ledger.TransferRequest{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         amount,
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeDomainError(w, h.log, err, "Failed to create transfer")
		return
	}

	writeJSON(w, http.StatusCreated, transferResponse{
		Debit:  newTransactionView(&posted[0]),
		Credit: newTransactionView(&posted[1]),
	})
}
