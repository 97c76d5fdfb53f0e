// Package scoring derives a bounded credit score from a member's history.
//
// Compute is a pure function of its inputs. Engine wires it to the
// history feeds and optionally records each snapshot.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

const (
	baseScore          = model.MinCreditScore
	transactionPoints  = 200
	completedLoanBonus = 150
	defaultPenalty     = 50
	highSavingsPoints  = 100
	lowSavingsPoints   = 50
	longMemberPoints   = 50
	shortMemberPoints  = 25
	longMemberMonths   = 12
	shortMemberMonths  = 6
	DefaultWindow      = 100
)

// Params are the tunable thresholds of the score
type Params struct {
	HistoryWindow        int          `mapstructure:"history_window"`
	HighSavingsThreshold money.Amount `mapstructure:"high_savings_threshold"`
	LowSavingsThreshold  money.Amount `mapstructure:"low_savings_threshold"`
}

// Input is everything the score depends on
type Input struct {
	// Transactions newest first; only the first HistoryWindow are used
	Transactions  []model.Transaction
	Loans         []model.Loan
	SavingsInflow money.Amount
	MemberSince   time.Time
	AsOf          time.Time
}

// Compute returns the clamped score and the points per factor
func Compute(in Input, p Params) (int, model.ScoreFactors) {
	var f model.ScoreFactors

	window := p.HistoryWindow
	if window <= 0 {
		window = DefaultWindow
	}
	txs := in.Transactions
	if len(txs) > window {
		txs = txs[:window]
	}
	if total := len(txs); total > 0 {
		completed := 0
		for _, t := range txs {
			if t.Status == model.TransactionStatusCompleted {
				completed++
			}
		}
		f.TransactionPoints = completed * transactionPoints / total
		f.TransactionsConsidered = total
	}

	for _, l := range in.Loans {
		switch l.Status {
		case model.LoanStatusCompleted:
			f.CompletedLoans++
		case model.LoanStatusDefaulted:
			f.DefaultedLoans++
		}
	}
	if f.CompletedLoans > 0 {
		f.LoanPoints = completedLoanBonus
	}
	f.LoanPoints -= defaultPenalty * f.DefaultedLoans

	switch {
	case in.SavingsInflow > p.HighSavingsThreshold:
		f.SavingsPoints = highSavingsPoints
	case in.SavingsInflow > p.LowSavingsThreshold:
		f.SavingsPoints = lowSavingsPoints
	}

	if !in.MemberSince.IsZero() {
		f.AccountAgeMonths = monthsBetween(in.MemberSince, in.AsOf)
	}
	switch {
	case f.AccountAgeMonths > longMemberMonths:
		f.AccountAgePoints = longMemberPoints
	case f.AccountAgeMonths > shortMemberMonths:
		f.AccountAgePoints = shortMemberPoints
	}

	score := baseScore + f.TransactionPoints + f.LoanPoints + f.SavingsPoints + f.AccountAgePoints
	return clamp(score), f
}

func clamp(score int) int {
	if score < model.MinCreditScore {
		return model.MinCreditScore
	}
	if score > model.MaxCreditScore {
		return model.MaxCreditScore
	}
	return score
}

// monthsBetween counts whole calendar months from a to b
func monthsBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Engine scores members from the history feeds
type Engine struct {
	history  store.History
	recorder store.ScoreRecorder
	params   Params
	log      *zap.Logger
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder persists every computed snapshot
func WithRecorder(r store.ScoreRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a scoring engine over the given history
func NewEngine(h store.History, p Params, opts ...Option) *Engine {
	e := &Engine{history: h, params: p, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes a fresh snapshot for subject
func (e *Engine) Score(ctx context.Context, subject uuid.UUID) (*model.CreditScoreSnapshot, error) {
	window := e.params.HistoryWindow
	if window <= 0 {
		window = DefaultWindow
	}

	txs, err := e.history.RecentTransactions(ctx, subject, window)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction history: %w", err)
	}
	loans, err := e.history.Loans(ctx, store.LoanFilter{BorrowerID: subject})
	if err != nil {
		return nil, fmt.Errorf("failed to read loan history: %w", err)
	}
	inflow, err := e.history.SavingsInflow(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to read savings history: %w", err)
	}
	since, err := e.history.MemberSince(ctx, subject)
	if err != nil && !errors.Is(err, model.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to read account age: %w", err)
	}

	now := e.now()
	score, factors := Compute(Input{
		Transactions:  txs,
		Loans:         loans,
		SavingsInflow: inflow,
		MemberSince:   since,
		AsOf:          now,
	}, e.params)

	snap := &model.CreditScoreSnapshot{
		ID:         uuid.New(),
		SubjectID:  subject,
		Score:      score,
		Factors:    factors,
		ComputedAt: now,
	}

	if e.recorder != nil {
		if err := e.recorder.SaveScore(ctx, snap); err != nil {
			e.log.Warn("failed to record credit score",
				zap.String("subject_id", subject.String()),
				zap.Error(err),
			)
		}
	}

	metrics.CreditScores.Observe(float64(score))
	e.log.Debug("credit score computed",
		zap.String("subject_id", subject.String()),
		zap.Int("score", score),
	)
	return snap, nil
}
