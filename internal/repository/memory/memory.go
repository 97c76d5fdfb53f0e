// Package memory is an in-process implementation of store.Store used for
// local development and tests. It offers the same isolation guarantees as
// the PostgreSQL store: per-entity exclusive locks held for the whole unit
// of work, and all-or-nothing commit.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// Store keeps every record in maps guarded by one RWMutex. Entity locks
// are separate one-slot semaphores so that a unit of work can hold them
// while running arbitrary reads.
type Store struct {
	mu sync.RWMutex

	accounts     map[uuid.UUID]model.Account
	accountOrder []uuid.UUID

	transactions map[uuid.UUID]model.Transaction
	byAccount    map[uuid.UUID][]uuid.UUID
	keys         map[string]uuid.UUID
	txOrder      []uuid.UUID

	loans          map[uuid.UUID]model.Loan
	loanOrder      []uuid.UUID
	payments       map[uuid.UUID][]model.LoanPayment
	restructurings map[uuid.UUID][]model.LoanRestructuring

	deposits     map[uuid.UUID]model.FixedDeposit
	depositOrder []uuid.UUID

	goals     map[uuid.UUID]model.SavingsGoal
	goalOrder []uuid.UUID

	investments     map[uuid.UUID]model.Investment
	investmentOrder []uuid.UUID

	scores map[uuid.UUID][]model.CreditScoreSnapshot

	lockMu sync.Mutex
	locks  map[uuid.UUID]chan struct{}
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		accounts:       make(map[uuid.UUID]model.Account),
		transactions:   make(map[uuid.UUID]model.Transaction),
		byAccount:      make(map[uuid.UUID][]uuid.UUID),
		keys:           make(map[string]uuid.UUID),
		loans:          make(map[uuid.UUID]model.Loan),
		payments:       make(map[uuid.UUID][]model.LoanPayment),
		restructurings: make(map[uuid.UUID][]model.LoanRestructuring),
		deposits:       make(map[uuid.UUID]model.FixedDeposit),
		goals:          make(map[uuid.UUID]model.SavingsGoal),
		investments:    make(map[uuid.UUID]model.Investment),
		scores:         make(map[uuid.UUID][]model.CreditScoreSnapshot),
		locks:          make(map[uuid.UUID]chan struct{}),
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) semaphore(id uuid.UUID) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// acquire takes the locks in ascending id order. On cancellation the locks
// taken so far are released.
func (s *Store) acquire(ctx context.Context, ids []uuid.UUID) (func(), error) {
	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		ch := s.semaphore(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: waiting for lock on %s: %v", model.ErrConcurrencyConflict, id, ctx.Err())
		}
	}
	return release, nil
}

// Atomic implements store.Store
func (s *Store) Atomic(ctx context.Context, lock []uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	ids := store.SortedUnique(lock)
	release, err := s.acquire(ctx, ids)
	if err != nil {
		return err
	}
	defer release()

	t := newTx(s, ids)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConcurrencyConflict, err)
	}
	return s.commit(t)
}

func (s *Store) commit(t *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range t.txns {
		if txn.IdempotencyKey == "" {
			continue
		}
		if _, ok := s.keys[txn.IdempotencyKey]; ok {
			return model.ErrDuplicatePosting
		}
	}

	for _, id := range t.accountOrder {
		a := t.accounts[id]
		if _, ok := s.accounts[id]; !ok {
			s.accountOrder = append(s.accountOrder, id)
		}
		a.Version++
		s.accounts[id] = *a
	}
	for _, txn := range t.txns {
		s.transactions[txn.ID] = *txn
		s.byAccount[txn.AccountID] = append(s.byAccount[txn.AccountID], txn.ID)
		s.txOrder = append(s.txOrder, txn.ID)
		if txn.IdempotencyKey != "" {
			s.keys[txn.IdempotencyKey] = txn.ID
		}
	}
	for _, id := range t.loanOrder {
		if _, ok := s.loans[id]; !ok {
			s.loanOrder = append(s.loanOrder, id)
		}
		s.loans[id] = cloneLoan(*t.loans[id])
	}
	for _, p := range t.payments {
		s.payments[p.LoanID] = append(s.payments[p.LoanID], p)
	}
	for _, r := range t.restructurings {
		s.restructurings[r.LoanID] = append(s.restructurings[r.LoanID], r)
	}
	for _, id := range t.depositOrder {
		if _, ok := s.deposits[id]; !ok {
			s.depositOrder = append(s.depositOrder, id)
		}
		s.deposits[id] = *t.deposits[id]
	}
	for _, id := range t.goalOrder {
		if _, ok := s.goals[id]; !ok {
			s.goalOrder = append(s.goalOrder, id)
		}
		s.goals[id] = *t.goals[id]
	}
	for _, id := range t.investmentOrder {
		if _, ok := s.investments[id]; !ok {
			s.investmentOrder = append(s.investmentOrder, id)
		}
		s.investments[id] = *t.investments[id]
	}
	return nil
}

// GetAccount implements store.Reader
func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &a, nil
}

// AccountsByOwner implements store.Reader
func (s *Store) AccountsByOwner(_ context.Context, ownerID uuid.UUID) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Account
	for _, id := range s.accountOrder {
		if a := s.accounts[id]; a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetTransaction implements store.Reader
func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, model.ErrTransactionNotFound
	}
	return &t, nil
}

// Transactions implements store.Reader
func (s *Store) Transactions(_ context.Context, accountID uuid.UUID, limit, offset int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byAccount[accountID]
	if limit <= 0 || offset >= len(ids) {
		return []model.Transaction{}, nil
	}
	out := make([]model.Transaction, 0, min(limit, len(ids)))
	for i := len(ids) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.transactions[ids[i]])
	}
	return out, nil
}

// GetLoan implements store.Reader
func (s *Store) GetLoan(_ context.Context, id uuid.UUID) (*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, model.ErrLoanNotFound
	}
	l = cloneLoan(l)
	return &l, nil
}

// Loans implements store.Reader and store.History
func (s *Store) Loans(_ context.Context, f store.LoanFilter) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Loan
	for _, id := range s.loanOrder {
		l := s.loans[id]
		if f.BorrowerID != uuid.Nil && l.BorrowerID != f.BorrowerID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
			continue
		}
		out = append(out, cloneLoan(l))
	}
	return out, nil
}

// LoanPayments implements store.Reader
func (s *Store) LoanPayments(_ context.Context, loanID uuid.UUID) ([]model.LoanPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.payments[loanID]), nil
}

// Restructurings implements store.Reader
func (s *Store) Restructurings(_ context.Context, loanID uuid.UUID) ([]model.LoanRestructuring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.restructurings[loanID]), nil
}

// GetDeposit implements store.Reader
func (s *Store) GetDeposit(_ context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[id]
	if !ok {
		return nil, model.ErrDepositNotFound
	}
	return &d, nil
}

// DepositsByAccount implements store.Reader
func (s *Store) DepositsByAccount(_ context.Context, accountID uuid.UUID) ([]model.FixedDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FixedDeposit
	for _, id := range s.depositOrder {
		if d := s.deposits[id]; d.AccountID == accountID {
			out = append(out, d)
		}
	}
	return out, nil
}

// DepositsDue implements store.Reader
func (s *Store) DepositsDue(_ context.Context, asOf time.Time) ([]model.FixedDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FixedDeposit
	for _, id := range s.depositOrder {
		if d := s.deposits[id]; d.IsDue(asOf) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaturityDate.Before(out[j].MaturityDate) })
	return out, nil
}

// GetGoal implements store.Reader
func (s *Store) GetGoal(_ context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok {
		return nil, model.ErrGoalNotFound
	}
	return &g, nil
}

// GoalsByAccount implements store.Reader
func (s *Store) GoalsByAccount(_ context.Context, accountID uuid.UUID) ([]model.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SavingsGoal
	for _, id := range s.goalOrder {
		if g := s.goals[id]; g.AccountID == accountID {
			out = append(out, g)
		}
	}
	return out, nil
}

// GetInvestment implements store.Reader
func (s *Store) GetInvestment(_ context.Context, id uuid.UUID) (*model.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investments[id]
	if !ok {
		return nil, model.ErrInvestmentNotFound
	}
	return &inv, nil
}

// InvestmentsByOwner implements store.Reader
func (s *Store) InvestmentsByOwner(_ context.Context, ownerID uuid.UUID) ([]model.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Investment
	for _, id := range s.investmentOrder {
		if inv := s.investments[id]; inv.OwnerID == ownerID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// PostingTotals implements store.Reader
func (s *Store) PostingTotals(_ context.Context, f store.TotalsFilter) ([]model.PostingTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type group struct {
		typ    model.TransactionType
		dir    model.Direction
		status model.TransactionStatus
	}
	totals := make(map[group]*model.PostingTotal)
	for _, id := range s.txOrder {
		t := s.transactions[id]
		if !f.Matches(s.accounts[t.AccountID].OwnerID, &t) {
			continue
		}
		g := group{t.Type, t.Direction, t.Status}
		pt, ok := totals[g]
		if !ok {
			pt = &model.PostingTotal{Type: t.Type, Direction: t.Direction, Status: t.Status}
			totals[g] = pt
		}
		pt.Count++
		pt.Amount += t.Amount
	}

	out := make([]model.PostingTotal, 0, len(totals))
	for _, pt := range totals {
		out = append(out, *pt)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Status < b.Status
	})
	return out, nil
}

func (s *Store) ownedAccounts(ownerID uuid.UUID) map[uuid.UUID]struct{} {
	owned := make(map[uuid.UUID]struct{})
	for id, a := range s.accounts {
		if a.OwnerID == ownerID {
			owned[id] = struct{}{}
		}
	}
	return owned
}

// RecentTransactions implements store.History
func (s *Store) RecentTransactions(_ context.Context, ownerID uuid.UUID, n int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owned := s.ownedAccounts(ownerID)
	var out []model.Transaction
	for i := len(s.txOrder) - 1; i >= 0 && len(out) < n; i-- {
		t := s.transactions[s.txOrder[i]]
		if _, ok := owned[t.AccountID]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// SavingsInflow implements store.History
func (s *Store) SavingsInflow(_ context.Context, ownerID uuid.UUID) (money.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owned := s.ownedAccounts(ownerID)
	var total money.Amount
	for _, t := range s.transactions {
		if _, ok := owned[t.AccountID]; !ok {
			continue
		}
		if !isSavingsType(t.Type) {
			continue
		}
		switch {
		case t.Direction == model.DirectionCredit && t.Status == model.TransactionStatusCompleted:
			total += t.Amount
		case t.Direction == model.DirectionDebit && t.Status == model.TransactionStatusReversal:
			total -= t.Amount
		}
	}
	return total, nil
}

// isSavingsType reports whether credits of type t count as savings. A
// reversal of such a credit is a debit of the same type and cancels it.
func isSavingsType(t model.TransactionType) bool {
	return t == model.TransactionTypeDeposit || t == model.TransactionTypeInterestCredit
}

// MemberSince implements store.History
func (s *Store) MemberSince(_ context.Context, ownerID uuid.UUID) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since time.Time
	for _, a := range s.accounts {
		if a.OwnerID != ownerID {
			continue
		}
		if since.IsZero() || a.OpenedAt.Before(since) {
			since = a.OpenedAt
		}
	}
	if since.IsZero() {
		return time.Time{}, model.ErrAccountNotFound
	}
	return since, nil
}

// SaveScore implements store.ScoreRecorder
func (s *Store) SaveScore(_ context.Context, snap *model.CreditScoreSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[snap.SubjectID] = append(s.scores[snap.SubjectID], *snap)
	return nil
}

// LatestScore implements store.ScoreRecorder
func (s *Store) LatestScore(_ context.Context, subjectID uuid.UUID) (*model.CreditScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.scores[subjectID]
	if len(snaps) == 0 {
		return nil, model.ErrScoreNotFound
	}
	latest := snaps[len(snaps)-1]
	return &latest, nil
}

func cloneLoan(l model.Loan) model.Loan {
	l.Schedule = slices.Clone(l.Schedule)
	return l
}

func cloneTransaction(t model.Transaction) model.Transaction {
	t.Metadata = maps.Clone(t.Metadata)
	return t
}
