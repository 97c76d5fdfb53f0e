package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

// ScoreFactors records the points each history feed contributed
type ScoreFactors struct {
	TransactionPoints int `json:"transaction_points"`
	LoanPoints        int `json:"loan_points"`
	SavingsPoints     int `json:"savings_points"`
	AccountAgePoints  int `json:"account_age_points"`

	TransactionsConsidered int `json:"transactions_considered"`
	CompletedLoans         int `json:"completed_loans"`
	DefaultedLoans         int `json:"defaulted_loans"`
	AccountAgeMonths       int `json:"account_age_months"`
}

// CreditScoreSnapshot is a point-in-time score. Snapshots are superseded,
// never updated.
type CreditScoreSnapshot struct {
	ID         uuid.UUID    `json:"id"`
	SubjectID  uuid.UUID    `json:"subject_id"`
	Score      int          `json:"score"`
	Factors    ScoreFactors `json:"factors"`
	ComputedAt time.Time    `json:"computed_at"`
}
