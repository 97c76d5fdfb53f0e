package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

const accountColumns = `id, owner_id, product, currency, balance, blocked_amount, minimum_balance,
	daily_limit, monthly_limit, status, version, opened_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.Product,
		&a.Currency,
		&a.Balance,
		&a.BlockedAmount,
		&a.MinimumBalance,
		&a.DailyLimit,
		&a.MonthlyLimit,
		&a.Status,
		&a.Version,
		&a.OpenedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return a, nil
}

func getAccount(ctx context.Context, q querier, id uuid.UUID) (*model.Account, error) {
	return scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetAccount implements store.Reader
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return getAccount(ctx, s.db, id)
}

// AccountsByOwner implements store.Reader
func (s *Store) AccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner_id = $1
		ORDER BY opened_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collect(rows, scanAccount)
}

// putAccount inserts or updates an account. Updates only apply to the
// version that was read, so a lost lock surfaces as a conflict.
func putAccount(ctx context.Context, q querier, a *model.Account) error {
	err := q.QueryRow(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			balance         = EXCLUDED.balance,
			blocked_amount  = EXCLUDED.blocked_amount,
			minimum_balance = EXCLUDED.minimum_balance,
			daily_limit     = EXCLUDED.daily_limit,
			monthly_limit   = EXCLUDED.monthly_limit,
			status          = EXCLUDED.status,
			version         = accounts.version + 1,
			updated_at      = EXCLUDED.updated_at
		WHERE accounts.version = EXCLUDED.version
		RETURNING version
	`,
		a.ID,
		a.OwnerID,
		a.Product,
		a.Currency,
		a.Balance,
		a.BlockedAmount,
		a.MinimumBalance,
		a.DailyLimit,
		a.MonthlyLimit,
		a.Status,
		a.Version,
		a.OpenedAt,
		a.UpdatedAt,
	).Scan(&a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: account %s changed since read", model.ErrConcurrencyConflict, a.ID)
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}
