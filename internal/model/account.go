package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// AccountStatus represents the current status of an account
type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusFrozen    AccountStatus = "frozen"
	AccountStatusClosed    AccountStatus = "closed"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Valid reports whether s is a known account status
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusPending, AccountStatusActive, AccountStatusFrozen,
		AccountStatusClosed, AccountStatusSuspended:
		return true
	}
	return false
}

var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusPending:   {AccountStatusActive, AccountStatusClosed},
	AccountStatusActive:    {AccountStatusFrozen, AccountStatusSuspended, AccountStatusClosed},
	AccountStatusFrozen:    {AccountStatusActive, AccountStatusClosed},
	AccountStatusSuspended: {AccountStatusActive, AccountStatusClosed},
}

// CanTransitionTo reports whether an account may move from s to next
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range accountTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Account is a member account. Balances are only mutated by the ledger.
type Account struct {
	ID             uuid.UUID     `json:"id"`
	OwnerID        uuid.UUID     `json:"owner_id"`
	Product        string        `json:"product"`
	Currency       string        `json:"currency"`
	Balance        money.Amount  `json:"balance"`
	BlockedAmount  money.Amount  `json:"blocked_amount"`
	MinimumBalance money.Amount  `json:"minimum_balance"`
	DailyLimit     *money.Amount `json:"daily_limit,omitempty"`
	MonthlyLimit   *money.Amount `json:"monthly_limit,omitempty"`
	Status         AccountStatus `json:"status"`
	OpenedAt       time.Time     `json:"opened_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Version        int64         `json:"-"`
}

// AvailableBalance is the part of the balance not reserved by blocks
func (a *Account) AvailableBalance() money.Amount {
	return a.Balance - a.BlockedAmount
}

// Scale returns the minor-unit scale of the account currency
func (a *Account) Scale() int32 {
	return money.Scale(a.Currency)
}

// CanPost reports whether the account accepts postings. Frozen accounts
// accept administrative corrections only.
func (a *Account) CanPost(administrative bool) bool {
	if a.Status == AccountStatusActive {
		return true
	}
	return administrative && a.Status == AccountStatusFrozen
}

// EnforcesMinimumBalance reports whether the minimum balance applies
func (a *Account) EnforcesMinimumBalance() bool {
	return a.Status != AccountStatusFrozen && a.Status != AccountStatusClosed
}

// OpenAccountRequest is the payload for opening a new account
type OpenAccountRequest struct {
	OwnerID  uuid.UUID `json:"owner_id"`
	Product  string    `json:"product"`
	Currency string    `json:"currency"`
}

// Validate checks if the open request is valid
func (r OpenAccountRequest) Validate() error {
	if r.OwnerID == uuid.Nil {
		return ErrInvalidOwner
	}
	if r.Product == "" {
		return ErrUnknownProduct
	}
	if len(r.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// SetStatusRequest is the payload for account status administration
type SetStatusRequest struct {
	Status AccountStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Validate checks the requested status
func (r SetStatusRequest) Validate() error {
	if !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// AccountBalance represents an account's current balance
type AccountBalance struct {
	AccountID        uuid.UUID `json:"account_id"`
	Balance          string    `json:"balance"`
	AvailableBalance string    `json:"available_balance"`
	BlockedAmount    string    `json:"blocked_amount"`
	Currency         string    `json:"currency"`
	AsOf             time.Time `json:"as_of"`
}

// BalanceOf renders the account balances in major units
func BalanceOf(a *Account, asOf time.Time) AccountBalance {
	scale := a.Scale()
	return AccountBalance{
		AccountID:        a.ID,
		Balance:          a.Balance.Format(scale),
		AvailableBalance: a.AvailableBalance().Format(scale),
		BlockedAmount:    a.BlockedAmount.Format(scale),
		Currency:         a.Currency,
		AsOf:             asOf,
	}
}
