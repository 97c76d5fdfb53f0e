// Package store defines the persistence contracts the engine depends on.
//
// Implementations live in internal/repository (PostgreSQL) and
// internal/repository/memory. All balance mutation happens inside Atomic,
// which holds exclusive locks on the named entities for the duration of fn
// and commits everything fn wrote as one unit, or nothing if fn fails.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// PostingFilter selects postings for period-limit checks
type PostingFilter struct {
	AccountID uuid.UUID
	Type      model.TransactionType
	Direction model.Direction
	From      time.Time
	To        time.Time
}

// LoanFilter selects loans. Zero values match everything.
type LoanFilter struct {
	BorrowerID uuid.UUID
	Statuses   []model.LoanStatus
}

// TotalsFilter selects postings for aggregate statistics. A nil OwnerID
// spans every account; zero times leave that end of the window open.
type TotalsFilter struct {
	OwnerID uuid.UUID
	From    time.Time
	To      time.Time
}

// Matches reports whether a posting on an account owned by owner falls in
// the filter
func (f TotalsFilter) Matches(owner uuid.UUID, t *model.Transaction) bool {
	if f.OwnerID != uuid.Nil && owner != f.OwnerID {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	return f.To.IsZero() || t.CreatedAt.Before(f.To)
}

// Tx is a unit of work. Reads of locked entities return the latest
// version including writes made earlier in the same unit.
type Tx interface {
	Account(ctx context.Context, id uuid.UUID) (*model.Account, error)
	PutAccount(ctx context.Context, a *model.Account) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	// KeyExists reports whether a posting with the idempotency key exists
	KeyExists(ctx context.Context, key string) (bool, error)
	Transaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	SumPostings(ctx context.Context, f PostingFilter) (money.Amount, error)

	Loan(ctx context.Context, id uuid.UUID) (*model.Loan, error)
	PutLoan(ctx context.Context, l *model.Loan) error
	InsertLoanPayment(ctx context.Context, p *model.LoanPayment) error
	InsertRestructuring(ctx context.Context, r *model.LoanRestructuring) error

	Deposit(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error)
	PutDeposit(ctx context.Context, d *model.FixedDeposit) error

	Goal(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error)
	PutGoal(ctx context.Context, g *model.SavingsGoal) error

	Investment(ctx context.Context, id uuid.UUID) (*model.Investment, error)
	PutInvestment(ctx context.Context, i *model.Investment) error
}

// Reader serves non-locking queries outside a unit of work
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	AccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// Transactions returns an account statement, newest first
	Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]model.Transaction, error)

	GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error)
	Loans(ctx context.Context, f LoanFilter) ([]model.Loan, error)
	LoanPayments(ctx context.Context, loanID uuid.UUID) ([]model.LoanPayment, error)
	Restructurings(ctx context.Context, loanID uuid.UUID) ([]model.LoanRestructuring, error)

	GetDeposit(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error)
	DepositsByAccount(ctx context.Context, accountID uuid.UUID) ([]model.FixedDeposit, error)
	DepositsDue(ctx context.Context, asOf time.Time) ([]model.FixedDeposit, error)

	GetGoal(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error)
	GoalsByAccount(ctx context.Context, accountID uuid.UUID) ([]model.SavingsGoal, error)

	GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error)
	InvestmentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Investment, error)

	// PostingTotals groups matching postings by type, direction and status
	PostingTotals(ctx context.Context, f TotalsFilter) ([]model.PostingTotal, error)
}

// History feeds the credit scoring engine. Read-only.
type History interface {
	// RecentTransactions returns the newest n postings across the owner's accounts
	RecentTransactions(ctx context.Context, ownerID uuid.UUID, n int) ([]model.Transaction, error)
	Loans(ctx context.Context, f LoanFilter) ([]model.Loan, error)
	// SavingsInflow is the lifetime sum of deposit and interest credits
	SavingsInflow(ctx context.Context, ownerID uuid.UUID) (money.Amount, error)
	// MemberSince is the opening time of the owner's oldest account
	MemberSince(ctx context.Context, ownerID uuid.UUID) (time.Time, error)
}

// ScoreRecorder persists credit score snapshots
type ScoreRecorder interface {
	SaveScore(ctx context.Context, s *model.CreditScoreSnapshot) error
	LatestScore(ctx context.Context, subjectID uuid.UUID) (*model.CreditScoreSnapshot, error)
}

// Store is the full persistence surface
type Store interface {
	Reader
	History
	ScoreRecorder
	Atomic(ctx context.Context, lock []uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// SortedUnique returns ids in ascending byte order without duplicates or
// nil ids. Lock acquisition uses this order to avoid deadlocks.
func SortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
