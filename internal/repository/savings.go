package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

const depositColumns = `id, account_id, principal, interest_rate, term_months, start_date, maturity_date,
	interest_amount, maturity_value, status, penalty_rate, auto_renew, renewal_term_months,
	renewed_from, renewed_into, closed_at, created_at`

func scanDeposit(row pgx.Row) (*model.FixedDeposit, error) {
	d := &model.FixedDeposit{}
	err := row.Scan(
		&d.ID,
		&d.AccountID,
		&d.Principal,
		&d.InterestRate,
		&d.TermMonths,
		&d.StartDate,
		&d.MaturityDate,
		&d.InterestAmount,
		&d.MaturityValue,
		&d.Status,
		&d.PenaltyRate,
		&d.AutoRenew,
		&d.RenewalTermMonths,
		&d.RenewedFrom,
		&d.RenewedInto,
		&d.ClosedAt,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to scan fixed deposit: %w", err)
	}
	return d, nil
}

func getDeposit(ctx context.Context, q querier, id uuid.UUID) (*model.FixedDeposit, error) {
	return scanDeposit(q.QueryRow(ctx, `SELECT `+depositColumns+` FROM fixed_deposits WHERE id = $1`, id))
}

// GetDeposit implements store.Reader
func (s *Store) GetDeposit(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	return getDeposit(ctx, s.db, id)
}

// DepositsByAccount implements store.Reader
func (s *Store) DepositsByAccount(ctx context.Context, accountID uuid.UUID) ([]model.FixedDeposit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+depositColumns+`
		FROM fixed_deposits
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixed deposits: %w", err)
	}
	return collect(rows, scanDeposit)
}

// DepositsDue implements store.Reader
func (s *Store) DepositsDue(ctx context.Context, asOf time.Time) ([]model.FixedDeposit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+depositColumns+`
		FROM fixed_deposits
		WHERE status = $1 AND maturity_date <= $2
		ORDER BY maturity_date, id
	`, model.DepositStatusActive, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deposits: %w", err)
	}
	return collect(rows, scanDeposit)
}

func putDeposit(ctx context.Context, q querier, d *model.FixedDeposit) error {
	_, err := q.Exec(ctx, `
		INSERT INTO fixed_deposits (`+depositColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			interest_amount = EXCLUDED.interest_amount,
			status          = EXCLUDED.status,
			renewed_into    = EXCLUDED.renewed_into,
			closed_at       = EXCLUDED.closed_at
	`,
		d.ID,
		d.AccountID,
		d.Principal,
		d.InterestRate,
		d.TermMonths,
		d.StartDate,
		d.MaturityDate,
		d.InterestAmount,
		d.MaturityValue,
		d.Status,
		d.PenaltyRate,
		d.AutoRenew,
		d.RenewalTermMonths,
		d.RenewedFrom,
		d.RenewedInto,
		d.ClosedAt,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save fixed deposit: %w", err)
	}
	return nil
}

const goalColumns = `id, account_id, name, target_amount, current_amount, target_date, frequency,
	status, created_at, updated_at`

func scanGoal(row pgx.Row) (*model.SavingsGoal, error) {
	g := &model.SavingsGoal{}
	err := row.Scan(
		&g.ID,
		&g.AccountID,
		&g.Name,
		&g.TargetAmount,
		&g.CurrentAmount,
		&g.TargetDate,
		&g.Frequency,
		&g.Status,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrGoalNotFound
		}
		return nil, fmt.Errorf("failed to scan savings goal: %w", err)
	}
	return g, nil
}

func getGoal(ctx context.Context, q querier, id uuid.UUID) (*model.SavingsGoal, error) {
	return scanGoal(q.QueryRow(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = $1`, id))
}

// GetGoal implements store.Reader
func (s *Store) GetGoal(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	return getGoal(ctx, s.db, id)
}

// GoalsByAccount implements store.Reader
func (s *Store) GoalsByAccount(ctx context.Context, accountID uuid.UUID) ([]model.SavingsGoal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+goalColumns+`
		FROM savings_goals
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list savings goals: %w", err)
	}
	return collect(rows, scanGoal)
}

func putGoal(ctx context.Context, q querier, g *model.SavingsGoal) error {
	_, err := q.Exec(ctx, `
		INSERT INTO savings_goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			current_amount = EXCLUDED.current_amount,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at
	`,
		g.ID,
		g.AccountID,
		g.Name,
		g.TargetAmount,
		g.CurrentAmount,
		g.TargetDate,
		g.Frequency,
		g.Status,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save savings goal: %w", err)
	}
	return nil
}
