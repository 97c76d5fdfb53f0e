package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeDeposit            TransactionType = "deposit"
	TransactionTypeWithdrawal         TransactionType = "withdrawal"
	TransactionTypeTransfer           TransactionType = "transfer"
	TransactionTypeLoanDisbursement   TransactionType = "loan_disbursement"
	TransactionTypeLoanRepayment      TransactionType = "loan_repayment"
	TransactionTypeInterestCredit     TransactionType = "interest_credit"
	TransactionTypeFeeCharge          TransactionType = "fee_charge"
	TransactionTypeInvestmentPurchase TransactionType = "investment_purchase"
	TransactionTypeInvestmentSale     TransactionType = "investment_sale"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeLoanDisbursement, TransactionTypeLoanRepayment,
		TransactionTypeInterestCredit, TransactionTypeFeeCharge,
		TransactionTypeInvestmentPurchase, TransactionTypeInvestmentSale:
		return true
	}
	return false
}

// DefaultDirection is the direction a posting of this type normally takes
func (t TransactionType) DefaultDirection() Direction {
	switch t {
	case TransactionTypeDeposit, TransactionTypeLoanDisbursement,
		TransactionTypeInterestCredit, TransactionTypeInvestmentSale:
		return DirectionCredit
	}
	return DirectionDebit
}

// TransactionStatus represents the status of a posted transaction
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusReversal marks a compensating posting
	TransactionStatusReversal TransactionStatus = "reversal"
)

// Direction is the sign convention of a posting
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

// Transaction is an immutable ledger posting. Amount is always positive;
// Direction carries the sign.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	AccountID      uuid.UUID         `json:"account_id"`
	Type           TransactionType   `json:"type"`
	Direction      Direction         `json:"direction"`
	Amount         money.Amount      `json:"amount"`
	Currency       string            `json:"currency"`
	ExchangeRate   *decimal.Decimal  `json:"exchange_rate,omitempty"`
	BalanceBefore  money.Amount      `json:"balance_before"`
	BalanceAfter   money.Amount      `json:"balance_after"`
	Reference      string            `json:"reference,omitempty"`
	ReversalOf     *uuid.UUID        `json:"reversal_of,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SignedAmount returns the amount with the direction's sign applied
func (t *Transaction) SignedAmount() money.Amount {
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}

// CreatePostingRequest is the payload for a deposit or withdrawal
type CreatePostingRequest struct {
	Amount       string `json:"amount"`
	Reference    string `json:"reference,omitempty"`
	ExchangeRate string `json:"exchange_rate,omitempty"`
}

// Validate checks if the posting request is valid
func (r CreatePostingRequest) Validate() error {
	if r.Amount == "" {
		return ErrInvalidAmount
	}
	return nil
}

// CreateTransferRequest is the payload for creating a new transfer
type CreateTransferRequest struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Reference     string    `json:"reference,omitempty"`
}

// Validate checks if the transfer request is valid
func (r CreateTransferRequest) Validate() error {
	if r.FromAccountID == uuid.Nil {
		return ErrInvalidFromAccount
	}
	if r.ToAccountID == uuid.Nil {
		return ErrInvalidToAccount
	}
	if r.FromAccountID == r.ToAccountID {
		return ErrSameAccount
	}
	if r.Amount == "" {
		return ErrInvalidAmount
	}
	if len(r.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// ReverseRequest is the payload for reversing a posted transaction
type ReverseRequest struct {
	Reason string `json:"reason"`
}
