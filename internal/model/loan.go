package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// LoanStatus represents a state in the loan lifecycle
type LoanStatus string

const (
	LoanStatusPending      LoanStatus = "pending"
	LoanStatusApproved     LoanStatus = "approved"
	LoanStatusRejected     LoanStatus = "rejected"
	LoanStatusActive       LoanStatus = "active"
	LoanStatusCompleted    LoanStatus = "completed"
	LoanStatusDefaulted    LoanStatus = "defaulted"
	LoanStatusRestructured LoanStatus = "restructured"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending:      {LoanStatusApproved, LoanStatusRejected},
	LoanStatusApproved:     {LoanStatusActive},
	LoanStatusActive:       {LoanStatusCompleted, LoanStatusDefaulted, LoanStatusRestructured},
	LoanStatusRestructured: {LoanStatusActive},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s LoanStatus) Terminal() bool {
	return len(loanTransitions[s]) == 0
}

// Installment is one row of an amortization schedule
type Installment struct {
	Index            int          `json:"index"`
	DueDate          time.Time    `json:"due_date"`
	Payment          money.Amount `json:"payment"`
	Principal        money.Amount `json:"principal"`
	Interest         money.Amount `json:"interest"`
	RemainingBalance money.Amount `json:"remaining_balance"`
}

// Loan is a borrower's loan and its repayment tracking
type Loan struct {
	ID                       uuid.UUID       `json:"id"`
	BorrowerID               uuid.UUID       `json:"borrower_id"`
	AccountID                uuid.UUID       `json:"account_id"`
	Product                  string          `json:"product"`
	Currency                 string          `json:"currency"`
	Principal                money.Amount    `json:"principal"`
	InterestRate             decimal.Decimal `json:"interest_rate"`
	TermMonths               int             `json:"term_months"`
	MonthlyPayment           money.Amount    `json:"monthly_payment"`
	TotalPayable             money.Amount    `json:"total_payable"`
	TotalInterest            money.Amount    `json:"total_interest"`
	Status                   LoanStatus      `json:"status"`
	CreditScoreAtApplication int             `json:"credit_score_at_application"`
	Purpose                  string          `json:"purpose,omitempty"`
	DueDate                  *time.Time      `json:"due_date,omitempty"`
	MaturityDate             *time.Time      `json:"maturity_date,omitempty"`

	OutstandingPrincipal money.Amount  `json:"outstanding_principal"`
	PaidPrincipal        money.Amount  `json:"paid_principal"`
	PaidInterest         money.Amount  `json:"paid_interest"`
	PaidFees             money.Amount  `json:"paid_fees"`
	InstallmentsPaid     int           `json:"installments_paid"`
	InstallmentCredit    money.Amount  `json:"installment_credit"`
	PaymentCount         int           `json:"payment_count"`
	Schedule             []Installment `json:"schedule"`

	RejectionReason  string     `json:"rejection_reason,omitempty"`
	RestructureRef   *uuid.UUID `json:"restructure_ref,omitempty"`
	DisbursementTxID *uuid.UUID `json:"disbursement_tx_id,omitempty"`
	AppliedAt        time.Time  `json:"applied_at"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CurrentInstallment returns the installment being paid, or nil when the
// schedule is exhausted
func (l *Loan) CurrentInstallment() *Installment {
	if l.InstallmentsPaid < 0 || l.InstallmentsPaid >= len(l.Schedule) {
		return nil
	}
	return &l.Schedule[l.InstallmentsPaid]
}

// AmountOwed is the sum still due on the current schedule
func (l *Loan) AmountOwed() money.Amount {
	var owed money.Amount
	for i := l.InstallmentsPaid; i < len(l.Schedule); i++ {
		owed += l.Schedule[i].Payment
	}
	return owed - l.InstallmentCredit
}

// IsOverdue reports whether the current due date plus grace has passed
func (l *Loan) IsOverdue(asOf time.Time, graceDays int) bool {
	if l.DueDate == nil || l.Status != LoanStatusActive {
		return false
	}
	return asOf.After(l.DueDate.AddDate(0, 0, graceDays))
}

// LoanPayment records a single repayment. Immutable once written.
type LoanPayment struct {
	ID               uuid.UUID    `json:"id"`
	LoanID           uuid.UUID    `json:"loan_id"`
	TransactionID    uuid.UUID    `json:"transaction_id"`
	Amount           money.Amount `json:"amount"`
	Principal        money.Amount `json:"principal"`
	Interest         money.Amount `json:"interest"`
	LateFee          money.Amount `json:"late_fee"`
	InstallmentIndex int          `json:"installment_index"`
	DueDate          *time.Time   `json:"due_date,omitempty"`
	PaidDate         time.Time    `json:"paid_date"`
	CreatedAt        time.Time    `json:"created_at"`
}

// LoanRestructuring is the audit record of a schedule change
type LoanRestructuring struct {
	ID                  uuid.UUID       `json:"id"`
	LoanID              uuid.UUID       `json:"loan_id"`
	PriorRate           decimal.Decimal `json:"prior_rate"`
	PriorTermMonths     int             `json:"prior_term_months"`
	PriorMonthlyPayment money.Amount    `json:"prior_monthly_payment"`
	Outstanding         money.Amount    `json:"outstanding"`
	NewRate             decimal.Decimal `json:"new_rate"`
	NewTermMonths       int             `json:"new_term_months"`
	Reason              string          `json:"reason"`
	CreatedAt           time.Time       `json:"created_at"`
}

// LoanApplicationRequest is the payload for applying for a loan
type LoanApplicationRequest struct {
	AccountID  uuid.UUID `json:"account_id"`
	Product    string    `json:"product"`
	Amount     string    `json:"amount"`
	TermMonths int       `json:"term_months"`
	Purpose    string    `json:"purpose"`
}

// Validate checks required fields; product bounds are checked by the lifecycle
func (r LoanApplicationRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.Product == "" {
		return ErrUnknownProduct
	}
	if r.Amount == "" {
		return ErrInvalidAmount
	}
	if r.TermMonths <= 0 {
		return ErrInvalidTerm
	}
	return nil
}

// LoanPaymentRequest is the payload for a repayment
type LoanPaymentRequest struct {
	Amount        string     `json:"amount"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	FromAccountID *uuid.UUID `json:"from_account_id,omitempty"`
}

// RestructureRequest is the payload for restructuring an active loan
type RestructureRequest struct {
	TermMonths   int    `json:"term_months"`
	InterestRate string `json:"interest_rate"`
	Reason       string `json:"reason"`
}

// Validate checks the restructure request
func (r RestructureRequest) Validate() error {
	if r.TermMonths <= 0 {
		return ErrInvalidTerm
	}
	if r.InterestRate == "" {
		return ErrInvalidRate
	}
	return nil
}

// PortfolioStats summarizes the loan book
type PortfolioStats struct {
	Counts         map[LoanStatus]int `json:"counts"`
	Disbursed      money.Amount       `json:"disbursed"`
	Outstanding    money.Amount       `json:"outstanding"`
	AverageScore   int                `json:"average_score"`
	TotalLoans     int                `json:"total_loans"`
	InterestEarned money.Amount       `json:"interest_earned"`
}
