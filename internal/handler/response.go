package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/middleware"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

// errorStatus maps domain errors to HTTP status codes
var errorStatus = []struct {
	err    error
	status int
}{
	{model.ErrAccountNotFound, http.StatusNotFound},
	{model.ErrTransactionNotFound, http.StatusNotFound},
	{model.ErrLoanNotFound, http.StatusNotFound},
	{model.ErrDepositNotFound, http.StatusNotFound},
	{model.ErrGoalNotFound, http.StatusNotFound},
	{model.ErrInvestmentNotFound, http.StatusNotFound},
	{model.ErrScoreNotFound, http.StatusNotFound},

	{model.ErrInsufficientFunds, http.StatusPaymentRequired},
	{model.ErrBelowMinimumBalance, http.StatusPaymentRequired},

	{model.ErrDuplicatePosting, http.StatusConflict},
	{model.ErrAlreadyReversed, http.StatusConflict},
	{model.ErrConcurrencyConflict, http.StatusConflict},
	{model.ErrInvalidStateTransition, http.StatusConflict},
	{model.ErrNonZeroBalance, http.StatusConflict},

	{model.ErrLimitExceeded, http.StatusUnprocessableEntity},
	{model.ErrAccountNotActive, http.StatusUnprocessableEntity},
	{model.ErrInvalidAmountRange, http.StatusUnprocessableEntity},
	{model.ErrOverpayment, http.StatusUnprocessableEntity},
	{model.ErrGoalExceeded, http.StatusUnprocessableEntity},
	{model.ErrCurrencyMismatch, http.StatusUnprocessableEntity},
	{model.ErrUnknownProduct, http.StatusUnprocessableEntity},

	{model.ErrInvalidAmount, http.StatusBadRequest},
	{model.ErrInvalidCurrency, http.StatusBadRequest},
	{model.ErrInvalidOwner, http.StatusBadRequest},
	{model.ErrInvalidStatus, http.StatusBadRequest},
	{model.ErrSameAccount, http.StatusBadRequest},
	{model.ErrInvalidFromAccount, http.StatusBadRequest},
	{model.ErrInvalidToAccount, http.StatusBadRequest},
	{model.ErrInvalidTerm, http.StatusBadRequest},
	{model.ErrInvalidRate, http.StatusBadRequest},
	{model.ErrInvalidGoalFrequency, http.StatusBadRequest},
}

// statusFor returns the status for err, or 0 when err is not a domain error
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return 0
}

// writeDomainError writes the mapped status for err. Unmapped errors are
// logged and reported as a generic 500 with fallback as the message.
func writeDomainError(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	if status := statusFor(err); status != 0 {
		writeError(w, status, err.Error())
		return
	}
	log.Error(fallback, zap.Error(err))
	writeError(w, http.StatusInternalServerError, fallback)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, writing 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// urlID parses a uuid path parameter, writing 400 on failure
func urlID(w http.ResponseWriter, r *http.Request, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// caller returns the authenticated identity, writing 401 when absent
func caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.Subject == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return auth.Identity{}, false
	}
	return id, true
}

// canAccess reports whether the caller may act on resources of owner.
// Staff may act on any member's resources.
func canAccess(id auth.Identity, owner uuid.UUID) bool {
	return id.Subject == owner || id.Role.Staff()
}

// pageParams reads limit and offset query parameters
func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
