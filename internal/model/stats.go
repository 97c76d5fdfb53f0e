package model

import (
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// PostingTotal aggregates postings sharing a type, direction and status
type PostingTotal struct {
	Type      TransactionType   `json:"type"`
	Direction Direction         `json:"direction"`
	Status    TransactionStatus `json:"status"`
	Count     int               `json:"count"`
	Amount    money.Amount      `json:"amount"`
}

// TypeTotal is the count and gross amount of one transaction type
type TypeTotal struct {
	Count  int          `json:"count"`
	Amount money.Amount `json:"amount"`
}

// TransactionStats summarizes ledger activity over a window. ByType counts
// completed postings only; reversals are reported apart.
type TransactionStats struct {
	Total     int                             `json:"total"`
	Completed int                             `json:"completed"`
	Reversals TypeTotal                       `json:"reversals"`
	ByType    map[TransactionType]TypeTotal   `json:"by_type"`
	Average   money.Amount                    `json:"average_amount"`
	ByStatus  map[TransactionStatus]TypeTotal `json:"by_status"`
}

// NewTransactionStats folds posting totals into a summary. Average is the
// mean posting amount across every posting, rounded half-even.
func NewTransactionStats(totals []PostingTotal) *TransactionStats {
	s := &TransactionStats{
		ByType:   make(map[TransactionType]TypeTotal),
		ByStatus: make(map[TransactionStatus]TypeTotal),
	}
	var gross money.Amount
	for _, t := range totals {
		s.Total += t.Count
		gross += t.Amount

		st := s.ByStatus[t.Status]
		st.Count += t.Count
		st.Amount += t.Amount
		s.ByStatus[t.Status] = st

		if t.Status == TransactionStatusReversal {
			s.Reversals.Count += t.Count
			s.Reversals.Amount += t.Amount
			continue
		}
		s.Completed += t.Count
		tt := s.ByType[t.Type]
		tt.Count += t.Count
		tt.Amount += t.Amount
		s.ByType[t.Type] = tt
	}
	if s.Total > 0 {
		s.Average = money.FromDecimal(gross.Decimal().Div(decimal.NewFromInt(int64(s.Total))))
	}
	return s
}

// SavingsStats summarizes one member's savings position
type SavingsStats struct {
	TotalBalance    money.Amount `json:"total_balance"`
	Deposits        TypeTotal    `json:"fixed_deposits"`
	Goals           GoalTotals   `json:"savings_goals"`
	MonthlyDeposits money.Amount `json:"monthly_deposits"`
}

// GoalTotals counts active goals and their combined progress
type GoalTotals struct {
	Count  int          `json:"count"`
	Target money.Amount `json:"target"`
	Saved  money.Amount `json:"saved"`
}
