package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// pgTx is a unit of work on an open database transaction. Entities outside
// the lock set are refused so every write is covered by an advisory lock.
type pgTx struct {
	tx     pgx.Tx
	locked map[uuid.UUID]struct{}
}

var _ store.Tx = (*pgTx)(nil)

func newTx(tx pgx.Tx, ids []uuid.UUID) *pgTx {
	locked := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		locked[id] = struct{}{}
	}
	return &pgTx{tx: tx, locked: locked}
}

func (t *pgTx) holds(id uuid.UUID) error {
	if _, ok := t.locked[id]; !ok {
		return fmt.Errorf("%w: %s", errNotLocked, id)
	}
	return nil
}

func (t *pgTx) Account(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if err := t.holds(id); err != nil {
		return nil, err
	}
	return getAccount(ctx, t.tx, id)
}

func (t *pgTx) PutAccount(ctx context.Context, a *model.Account) error {
	if err := t.holds(a.ID); err != nil {
		return err
	}
	return putAccount(ctx, t.tx, a)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := t.holds(txn.AccountID); err != nil {
		return err
	}
	return insertTransaction(ctx, t.tx, txn)
}

func (t *pgTx) KeyExists(ctx context.Context, key string) (bool, error) {
	return keyExists(ctx, t.tx, key)
}

func (t *pgTx) Transaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *pgTx) SumPostings(ctx context.Context, f store.PostingFilter) (money.Amount, error) {
	return sumPostings(ctx, t.tx, f)
}

func (t *pgTx) Loan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	if err := t.holds(id); err != nil {
		return nil, err
	}
	return getLoan(ctx, t.tx, id)
}

func (t *pgTx) PutLoan(ctx context.Context, l *model.Loan) error {
	if err := t.holds(l.ID); err != nil {
		return err
	}
	return putLoan(ctx, t.tx, l)
}

func (t *pgTx) InsertLoanPayment(ctx context.Context, p *model.LoanPayment) error {
	if err := t.holds(p.LoanID); err != nil {
		return err
	}
	return insertPayment(ctx, t.tx, p)
}

func (t *pgTx) InsertRestructuring(ctx context.Context, r *model.LoanRestructuring) error {
	if err := t.holds(r.LoanID); err != nil {
		return err
	}
	return insertRestructuring(ctx, t.tx, r)
}

func (t *pgTx) Deposit(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	if err := t.holds(id); err != nil {
		return nil, err
	}
	return getDeposit(ctx, t.tx, id)
}

func (t *pgTx) PutDeposit(ctx context.Context, d *model.FixedDeposit) error {
	if err := t.holds(d.ID); err != nil {
		return err
	}
	return putDeposit(ctx, t.tx, d)
}

func (t *pgTx) Goal(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	if err := t.holds(id); err != nil {
		return nil, err
	}
	return getGoal(ctx, t.tx, id)
}

func (t *pgTx) PutGoal(ctx context.Context, g *model.SavingsGoal) error {
	if err := t.holds(g.ID); err != nil {
		return err
	}
	return putGoal(ctx, t.tx, g)
}

func (t *pgTx) Investment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	if err := t.holds(id); err != nil {
		return nil, err
	}
	return getInvestment(ctx, t.tx, id)
}

func (t *pgTx) PutInvestment(ctx context.Context, inv *model.Investment) error {
	if err := t.holds(inv.ID); err != nil {
		return err
	}
	return putInvestment(ctx, t.tx, inv)
}

// prefixed qualifies every column in a column list with alias
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
