package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// GoalStatus represents the state of a savings goal
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusCancelled GoalStatus = "cancelled"
)

// GoalFrequency is the planned contribution cadence
type GoalFrequency string

const (
	GoalFrequencyDaily   GoalFrequency = "daily"
	GoalFrequencyWeekly  GoalFrequency = "weekly"
	GoalFrequencyMonthly GoalFrequency = "monthly"
)

// SavingsGoal tracks contributions toward a target amount
type SavingsGoal struct {
	ID            uuid.UUID     `json:"id"`
	AccountID     uuid.UUID     `json:"account_id"`
	Name          string        `json:"name"`
	TargetAmount  money.Amount  `json:"target_amount"`
	CurrentAmount money.Amount  `json:"current_amount"`
	TargetDate    *time.Time    `json:"target_date,omitempty"`
	Frequency     GoalFrequency `json:"frequency"`
	Status        GoalStatus    `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Remaining is what is left to reach the target
func (g *SavingsGoal) Remaining() money.Amount {
	return g.TargetAmount - g.CurrentAmount
}

// CreateGoalRequest is the payload for creating a savings goal
type CreateGoalRequest struct {
	AccountID    uuid.UUID     `json:"account_id"`
	Name         string        `json:"name"`
	TargetAmount string        `json:"target_amount"`
	TargetDate   *time.Time    `json:"target_date,omitempty"`
	Frequency    GoalFrequency `json:"frequency"`
}

// Validate checks the create request
func (r CreateGoalRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.TargetAmount == "" {
		return ErrInvalidAmount
	}
	switch r.Frequency {
	case GoalFrequencyDaily, GoalFrequencyWeekly, GoalFrequencyMonthly, "":
	default:
		return ErrInvalidGoalFrequency
	}
	return nil
}

// ContributeRequest is the payload for a goal contribution
type ContributeRequest struct {
	Amount         string `json:"amount"`
	Reference      string `json:"reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
