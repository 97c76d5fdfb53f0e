package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

const investmentColumns = `id, owner_id, account_id, product, type, currency, amount, current_value,
	risk_profile, status, sale_proceeds, purchase_tx_id, sale_tx_id, purchased_at, sold_at, updated_at`

func scanInvestment(row pgx.Row) (*model.Investment, error) {
	inv := &model.Investment{}
	err := row.Scan(
		&inv.ID,
		&inv.OwnerID,
		&inv.AccountID,
		&inv.Product,
		&inv.Type,
		&inv.Currency,
		&inv.Amount,
		&inv.CurrentValue,
		&inv.RiskProfile,
		&inv.Status,
		&inv.SaleProceeds,
		&inv.PurchaseTxID,
		&inv.SaleTxID,
		&inv.PurchasedAt,
		&inv.SoldAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrInvestmentNotFound
		}
		return nil, fmt.Errorf("failed to scan investment: %w", err)
	}
	return inv, nil
}

func getInvestment(ctx context.Context, q querier, id uuid.UUID) (*model.Investment, error) {
	return scanInvestment(q.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
}

// GetInvestment implements store.Reader
func (s *Store) GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	return getInvestment(ctx, s.db, id)
}

// InvestmentsByOwner implements store.Reader
func (s *Store) InvestmentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Investment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM investments
		WHERE owner_id = $1
		ORDER BY purchased_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return collect(rows, scanInvestment)
}

func putInvestment(ctx context.Context, q querier, inv *model.Investment) error {
	_, err := q.Exec(ctx, `
		INSERT INTO investments (`+investmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			status        = EXCLUDED.status,
			sale_proceeds = EXCLUDED.sale_proceeds,
			sale_tx_id    = EXCLUDED.sale_tx_id,
			sold_at       = EXCLUDED.sold_at,
			updated_at    = EXCLUDED.updated_at
	`,
		inv.ID,
		inv.OwnerID,
		inv.AccountID,
		inv.Product,
		inv.Type,
		inv.Currency,
		inv.Amount,
		inv.CurrentValue,
		inv.RiskProfile,
		inv.Status,
		inv.SaleProceeds,
		inv.PurchaseTxID,
		inv.SaleTxID,
		inv.PurchasedAt,
		inv.SoldAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save investment: %w", err)
	}
	return nil
}

// PostingTotals implements store.Reader
func (s *Store) PostingTotals(ctx context.Context, f store.TotalsFilter) ([]model.PostingTotal, error) {
	var owner *uuid.UUID
	if f.OwnerID != uuid.Nil {
		owner = &f.OwnerID
	}
	rows, err := s.db.Query(ctx, `
		SELECT t.type, t.direction, t.status, COUNT(*)::INT, COALESCE(SUM(t.amount), 0)::BIGINT
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE ($1::UUID IS NULL OR a.owner_id = $1)
		  AND ($2::TIMESTAMPTZ IS NULL OR t.created_at >= $2)
		  AND ($3::TIMESTAMPTZ IS NULL OR t.created_at < $3)
		GROUP BY t.type, t.direction, t.status
		ORDER BY t.type, t.direction, t.status
	`, owner, optionalTime(f.From), optionalTime(f.To))
	if err != nil {
		return nil, fmt.Errorf("failed to total postings: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*model.PostingTotal, error) {
		pt := &model.PostingTotal{}
		if err := row.Scan(&pt.Type, &pt.Direction, &pt.Status, &pt.Count, &pt.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan posting total: %w", err)
		}
		return pt, nil
	})
}

// optionalTime maps the zero time to NULL
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
