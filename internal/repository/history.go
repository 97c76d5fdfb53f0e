package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// RecentTransactions implements store.History
func (s *Store) RecentTransactions(ctx context.Context, ownerID uuid.UUID, n int) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixed("t", transactionColumns)+`
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.owner_id = $1
		ORDER BY t.seq DESC
		LIMIT $2
	`, ownerID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

// SavingsInflow implements store.History
func (s *Store) SavingsInflow(ctx context.Context, ownerID uuid.UUID) (money.Amount, error) {
	var total money.Amount
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN t.status = $3 THEN -t.amount ELSE t.amount END), 0)::BIGINT
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.owner_id = $1
		  AND t.type = ANY($4)
		  AND ((t.direction = $2 AND t.status = $5) OR (t.direction <> $2 AND t.status = $3))
	`,
		ownerID,
		model.DirectionCredit,
		model.TransactionStatusReversal,
		[]string{string(model.TransactionTypeDeposit), string(model.TransactionTypeInterestCredit)},
		model.TransactionStatusCompleted,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum savings inflow: %w", err)
	}
	return total, nil
}

// MemberSince implements store.History
func (s *Store) MemberSince(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	var since *time.Time
	err := s.db.QueryRow(ctx, `SELECT MIN(opened_at) FROM accounts WHERE owner_id = $1`, ownerID).Scan(&since)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get member since: %w", err)
	}
	if since == nil {
		return time.Time{}, model.ErrAccountNotFound
	}
	return *since, nil
}

// SaveScore implements store.ScoreRecorder
func (s *Store) SaveScore(ctx context.Context, snap *model.CreditScoreSnapshot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO credit_scores (id, subject_id, score, factors, computed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID, snap.SubjectID, snap.Score, snap.Factors, snap.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to save credit score: %w", err)
	}
	return nil
}

// LatestScore implements store.ScoreRecorder
func (s *Store) LatestScore(ctx context.Context, subjectID uuid.UUID) (*model.CreditScoreSnapshot, error) {
	snap := &model.CreditScoreSnapshot{}
	err := s.db.QueryRow(ctx, `
		SELECT id, subject_id, score, factors, computed_at
		FROM credit_scores
		WHERE subject_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, subjectID).Scan(&snap.ID, &snap.SubjectID, &snap.Score, &snap.Factors, &snap.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get credit score: %w", err)
	}
	return snap, nil
}
