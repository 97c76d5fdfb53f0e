package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// DepositStatus represents the state of a fixed deposit
type DepositStatus string

const (
	DepositStatusActive    DepositStatus = "active"
	DepositStatusMatured   DepositStatus = "matured"
	DepositStatusWithdrawn DepositStatus = "withdrawn"
	DepositStatusRenewed   DepositStatus = "renewed"
)

// FixedDeposit is a term deposit whose principal is blocked on the source
// account until maturity or early withdrawal
type FixedDeposit struct {
	ID                uuid.UUID       `json:"id"`
	AccountID         uuid.UUID       `json:"account_id"`
	Principal         money.Amount    `json:"principal"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	TermMonths        int             `json:"term_months"`
	StartDate         time.Time       `json:"start_date"`
	MaturityDate      time.Time       `json:"maturity_date"`
	InterestAmount    money.Amount    `json:"interest_amount"`
	MaturityValue     money.Amount    `json:"maturity_value"`
	Status            DepositStatus   `json:"status"`
	PenaltyRate       decimal.Decimal `json:"early_withdrawal_penalty_rate"`
	AutoRenew         bool            `json:"auto_renew"`
	RenewalTermMonths int             `json:"renewal_term_months,omitempty"`
	RenewedFrom       *uuid.UUID      `json:"renewed_from,omitempty"`
	RenewedInto       *uuid.UUID      `json:"renewed_into,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsDue reports whether the deposit can mature as of t
func (d *FixedDeposit) IsDue(t time.Time) bool {
	return d.Status == DepositStatusActive && !t.Before(d.MaturityDate)
}

// OpenDepositRequest is the payload for opening a fixed deposit
type OpenDepositRequest struct {
	AccountID         uuid.UUID `json:"account_id"`
	Amount            string    `json:"amount"`
	InterestRate      string    `json:"interest_rate,omitempty"`
	TermMonths        int       `json:"term_months"`
	AutoRenew         bool      `json:"auto_renew"`
	RenewalTermMonths int       `json:"renewal_term_months,omitempty"`
}

// Validate checks the open request
func (r OpenDepositRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.Amount == "" {
		return ErrInvalidAmount
	}
	if r.TermMonths <= 0 {
		return ErrInvalidTerm
	}
	if r.RenewalTermMonths < 0 {
		return ErrInvalidTerm
	}
	return nil
}
