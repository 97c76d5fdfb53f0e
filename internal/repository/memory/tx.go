package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

var errNotLocked = errors.New("entity is not locked by this unit of work")

// unit stages writes until commit. Reads see staged values first.
type unit struct {
	s      *Store
	locked map[uuid.UUID]struct{}

	accounts     map[uuid.UUID]*model.Account
	accountOrder []uuid.UUID

	txns []*model.Transaction
	keys map[string]struct{}

	loans          map[uuid.UUID]*model.Loan
	loanOrder      []uuid.UUID
	payments       []model.LoanPayment
	restructurings []model.LoanRestructuring

	deposits     map[uuid.UUID]*model.FixedDeposit
	depositOrder []uuid.UUID

	goals     map[uuid.UUID]*model.SavingsGoal
	goalOrder []uuid.UUID

	investments     map[uuid.UUID]*model.Investment
	investmentOrder []uuid.UUID
}

var _ store.Tx = (*unit)(nil)

func newTx(s *Store, ids []uuid.UUID) *unit {
	locked := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		locked[id] = struct{}{}
	}
	return &unit{
		s:        s,
		locked:   locked,
		accounts: make(map[uuid.UUID]*model.Account),
		keys:     make(map[string]struct{}),
		loans:    make(map[uuid.UUID]*model.Loan),
		deposits: make(map[uuid.UUID]*model.FixedDeposit),
		goals:    make(map[uuid.UUID]*model.SavingsGoal),

		investments: make(map[uuid.UUID]*model.Investment),
	}
}

func (u *unit) holds(id uuid.UUID) error {
	if _, ok := u.locked[id]; !ok {
		return fmt.Errorf("%w: %s", errNotLocked, id)
	}
	return nil
}

func (u *unit) Account(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if err := u.holds(id); err != nil {
		return nil, err
	}
	if a, ok := u.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return u.s.GetAccount(ctx, id)
}

func (u *unit) PutAccount(_ context.Context, a *model.Account) error {
	if err := u.holds(a.ID); err != nil {
		return err
	}
	if _, ok := u.accounts[a.ID]; !ok {
		u.accountOrder = append(u.accountOrder, a.ID)
	}
	cp := *a
	u.accounts[a.ID] = &cp
	return nil
}

func (u *unit) InsertTransaction(_ context.Context, t *model.Transaction) error {
	if err := u.holds(t.AccountID); err != nil {
		return err
	}
	if t.IdempotencyKey != "" {
		if _, ok := u.keys[t.IdempotencyKey]; ok {
			return model.ErrDuplicatePosting
		}
		u.s.mu.RLock()
		_, exists := u.s.keys[t.IdempotencyKey]
		u.s.mu.RUnlock()
		if exists {
			return model.ErrDuplicatePosting
		}
		u.keys[t.IdempotencyKey] = struct{}{}
	}
	cp := cloneTransaction(*t)
	u.txns = append(u.txns, &cp)
	return nil
}

func (u *unit) KeyExists(_ context.Context, key string) (bool, error) {
	if _, ok := u.keys[key]; ok {
		return true, nil
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	_, ok := u.s.keys[key]
	return ok, nil
}

func (u *unit) Transaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	for _, t := range u.txns {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return u.s.GetTransaction(ctx, id)
}

func (u *unit) SumPostings(_ context.Context, f store.PostingFilter) (money.Amount, error) {
	matches := func(t *model.Transaction) bool {
		return t.AccountID == f.AccountID &&
			t.Type == f.Type &&
			t.Direction == f.Direction &&
			!t.CreatedAt.Before(f.From) &&
			t.CreatedAt.Before(f.To)
	}

	var total money.Amount
	u.s.mu.RLock()
	for _, id := range u.s.byAccount[f.AccountID] {
		t := u.s.transactions[id]
		if matches(&t) {
			total += t.Amount
		}
	}
	u.s.mu.RUnlock()

	for _, t := range u.txns {
		if matches(t) {
			total += t.Amount
		}
	}
	return total, nil
}

func (u *unit) Loan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	if err := u.holds(id); err != nil {
		return nil, err
	}
	if l, ok := u.loans[id]; ok {
		cp := cloneLoan(*l)
		return &cp, nil
	}
	return u.s.GetLoan(ctx, id)
}

func (u *unit) PutLoan(_ context.Context, l *model.Loan) error {
	if err := u.holds(l.ID); err != nil {
		return err
	}
	if _, ok := u.loans[l.ID]; !ok {
		u.loanOrder = append(u.loanOrder, l.ID)
	}
	cp := cloneLoan(*l)
	u.loans[l.ID] = &cp
	return nil
}

func (u *unit) InsertLoanPayment(_ context.Context, p *model.LoanPayment) error {
	if err := u.holds(p.LoanID); err != nil {
		return err
	}
	u.payments = append(u.payments, *p)
	return nil
}

func (u *unit) InsertRestructuring(_ context.Context, r *model.LoanRestructuring) error {
	if err := u.holds(r.LoanID); err != nil {
		return err
	}
	u.restructurings = append(u.restructurings, *r)
	return nil
}

func (u *unit) Deposit(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	if err := u.holds(id); err != nil {
		return nil, err
	}
	if d, ok := u.deposits[id]; ok {
		cp := *d
		return &cp, nil
	}
	return u.s.GetDeposit(ctx, id)
}

func (u *unit) PutDeposit(_ context.Context, d *model.FixedDeposit) error {
	if err := u.holds(d.ID); err != nil {
		return err
	}
	if _, ok := u.deposits[d.ID]; !ok {
		u.depositOrder = append(u.depositOrder, d.ID)
	}
	cp := *d
	u.deposits[d.ID] = &cp
	return nil
}

func (u *unit) Goal(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	if err := u.holds(id); err != nil {
		return nil, err
	}
	if g, ok := u.goals[id]; ok {
		cp := *g
		return &cp, nil
	}
	return u.s.GetGoal(ctx, id)
}

func (u *unit) PutGoal(_ context.Context, g *model.SavingsGoal) error {
	if err := u.holds(g.ID); err != nil {
		return err
	}
	if _, ok := u.goals[g.ID]; !ok {
		u.goalOrder = append(u.goalOrder, g.ID)
	}
	cp := *g
	u.goals[g.ID] = &cp
	return nil
}

func (u *unit) Investment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	if err := u.holds(id); err != nil {
		return nil, err
	}
	if inv, ok := u.investments[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return u.s.GetInvestment(ctx, id)
}

func (u *unit) PutInvestment(_ context.Context, inv *model.Investment) error {
	if err := u.holds(inv.ID); err != nil {
		return err
	}
	if _, ok := u.investments[inv.ID]; !ok {
		u.investmentOrder = append(u.investmentOrder, inv.ID)
	}
	cp := *inv
	u.investments[inv.ID] = &cp
	return nil
}
