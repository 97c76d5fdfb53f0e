package model

import (
	"errors"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

var (
	// Account errors
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrInvalidCurrency    = errors.New("invalid currency: must be 3-letter ISO code")
	ErrInvalidOwner       = errors.New("invalid account owner")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrNonZeroBalance     = errors.New("account balance must be zero to close")
	ErrInvalidStatus      = errors.New("invalid account status")
	ErrCurrencyMismatch   = errors.New("currency mismatch between accounts")
	ErrSameAccount        = errors.New("source and destination accounts must be different")
	ErrInvalidFromAccount = errors.New("invalid source account")
	ErrInvalidToAccount   = errors.New("invalid destination account")

	// Posting errors
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBelowMinimumBalance = errors.New("posting would leave balance below minimum balance")
	ErrLimitExceeded       = errors.New("posting exceeds period limit")
	ErrInvalidAmount       = money.ErrInvalidAmount
	ErrDuplicatePosting    = errors.New("posting with this idempotency key already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyReversed     = errors.New("transaction has already been reversed")
	ErrConcurrencyConflict = errors.New("concurrent modification, retry the operation")

	// Lending and savings errors
	ErrLoanNotFound           = errors.New("loan not found")
	ErrDepositNotFound        = errors.New("fixed deposit not found")
	ErrGoalNotFound           = errors.New("savings goal not found")
	ErrInvestmentNotFound     = errors.New("investment not found")
	ErrInvalidAmountRange     = errors.New("amount or term outside product bounds")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidTerm            = errors.New("invalid term")
	ErrInvalidRate            = errors.New("invalid interest rate")
	ErrOverpayment            = errors.New("payment exceeds amount owed")
	ErrGoalExceeded           = errors.New("contribution would exceed goal target")
	ErrInvalidGoalFrequency   = errors.New("invalid goal frequency: must be daily, weekly or monthly")
	ErrScoreNotFound          = errors.New("credit score not found")
)
