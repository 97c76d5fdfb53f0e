// Package repository is the PostgreSQL implementation of the store
// contracts.
package repository

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

//go:embed schema.sql
var schema string

// Postgres error codes the store maps onto domain errors
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

var errNotLocked = errors.New("entity is not locked by this unit of work")

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on a pgx pool
type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New creates a Store
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Atomic implements store.Store. Entity locks are transaction-scoped
// advisory locks taken in ascending id order, so they are released on
// commit or rollback.
func (s *Store) Atomic(ctx context.Context, lock []uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	ids := store.SortedUnique(lock)

	dbTx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer dbTx.Rollback(ctx)

	for _, id := range ids {
		if _, err := dbTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(id)); err != nil {
			return fmt.Errorf("failed to lock %s: %w", id, mapError(err))
		}
	}

	t := newTx(dbTx, ids)
	if err := fn(ctx, t); err != nil {
		return mapError(err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// lockKey folds an id into the advisory lock key space. Two ids sharing a
// key only serialize more than needed.
func lockKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:]))
}

// mapError translates driver errors into domain errors. Errors that are
// already domain errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrConcurrencyConflict, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		if pgErr.ConstraintName == "transactions_idempotency_key_key" {
			return model.ErrDuplicatePosting
		}
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", model.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

// collect scans every row with scan
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
