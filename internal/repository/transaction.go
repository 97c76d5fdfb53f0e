package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

const transactionColumns = `id, idempotency_key, account_id, type, direction, amount, currency,
	exchange_rate, balance_before, balance_after, reference, reversal_of, metadata, status, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	t := &model.Transaction{}
	var key *string
	err := row.Scan(
		&t.ID,
		&key,
		&t.AccountID,
		&t.Type,
		&t.Direction,
		&t.Amount,
		&t.Currency,
		&t.ExchangeRate,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.Reference,
		&t.ReversalOf,
		&t.Metadata,
		&t.Status,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if key != nil {
		t.IdempotencyKey = *key
	}
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	return t, nil
}

func getTransaction(ctx context.Context, q querier, id uuid.UUID) (*model.Transaction, error) {
	return scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// GetTransaction implements store.Reader
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

// Transactions implements store.Reader
func (s *Store) Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 {
		return []model.Transaction{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for account: %w", err)
	}
	out, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Transaction{}
	}
	return out, nil
}

func insertTransaction(ctx context.Context, q querier, t *model.Transaction) error {
	var key *string
	if t.IdempotencyKey != "" {
		key = &t.IdempotencyKey
	}
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		t.ID,
		key,
		t.AccountID,
		t.Type,
		t.Direction,
		t.Amount,
		t.Currency,
		t.ExchangeRate,
		t.BalanceBefore,
		t.BalanceAfter,
		t.Reference,
		t.ReversalOf,
		metadata,
		t.Status,
		t.CreatedAt,
	)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, model.ErrDuplicatePosting) {
			return mapped
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func keyExists(ctx context.Context, q querier, key string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE idempotency_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

func sumPostings(ctx context.Context, q querier, f store.PostingFilter) (money.Amount, error) {
	var sum money.Amount
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM transactions
		WHERE account_id = $1
		  AND type = $2
		  AND direction = $3
		  AND created_at >= $4
		  AND created_at < $5
	`, f.AccountID, f.Type, f.Direction, f.From, f.To).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum postings: %w", err)
	}
	return sum, nil
}
