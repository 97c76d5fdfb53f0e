// Package goals tracks member savings goals. A contribution is an ordinary
// deposit posting on the goal's account, so it counts toward the savings
// history used for credit scoring.
package goals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// Service runs the savings goal lifecycle
type Service struct {
	ledger *ledger.Ledger
	store  store.Reader
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a goal service
func NewService(l *ledger.Ledger, r store.Reader, opts ...Option) *Service {
	s := &Service{ledger: l, store: r, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a goal on one of the owner's accounts
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, req model.CreateGoalRequest) (*model.SavingsGoal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.OwnerID != ownerID {
		return nil, model.ErrAccountNotFound
	}
	if acct.Status == model.AccountStatusClosed {
		return nil, model.ErrAccountNotActive
	}
	target, err := money.Parse(req.TargetAmount, acct.Scale())
	if err != nil {
		return nil, err
	}
	if target <= 0 {
		return nil, model.ErrInvalidAmount
	}

	now := s.now().UTC()
	if req.TargetDate != nil && !req.TargetDate.After(now) {
		return nil, fmt.Errorf("%w: target date must be in the future", model.ErrInvalidTerm)
	}
	freq := req.Frequency
	if freq == "" {
		freq = model.GoalFrequencyMonthly
	}

	g := &model.SavingsGoal{
		ID:           uuid.New(),
		AccountID:    acct.ID,
		Name:         strings.TrimSpace(req.Name),
		TargetAmount: target,
		TargetDate:   req.TargetDate,
		Frequency:    freq,
		Status:       model.GoalStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.ledger.Atomic(ctx, []uuid.UUID{g.ID}, func(ctx context.Context, tx store.Tx) error {
		return tx.PutGoal(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, acct.OwnerID, g, notify.EventGoalCreated, map[string]any{
		"name":          g.Name,
		"target_amount": g.TargetAmount.Format(acct.Scale()),
	})
	return g, nil
}

// Contribute credits amount to the goal's account and adds it to the goal.
// A contribution that would overshoot the target is rejected; reaching the
// target exactly completes the goal.
func (s *Service) Contribute(ctx context.Context, id uuid.UUID, req model.ContributeRequest) (*model.SavingsGoal, error) {
	current, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}

	var goal *model.SavingsGoal
	var owner uuid.UUID
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, current.AccountID}, func(ctx context.Context, tx store.Tx) error {
		g, err := tx.Goal(ctx, id)
		if err != nil {
			return err
		}
		if g.Status != model.GoalStatusActive {
			return fmt.Errorf("%w: goal %s is %s", model.ErrInvalidStateTransition, id, g.Status)
		}
		acct, err := tx.Account(ctx, g.AccountID)
		if err != nil {
			return err
		}
		owner = acct.OwnerID

		amount, err := money.Parse(req.Amount, acct.Scale())
		if err != nil {
			return err
		}
		if amount <= 0 {
			return model.ErrInvalidAmount
		}
		if amount > g.Remaining() {
			return model.ErrGoalExceeded
		}

		ref := req.Reference
		if ref == "" {
			ref = "savings goal contribution"
		}
		credit := ledger.Credit(g.AccountID, model.TransactionTypeDeposit, amount).
			WithReference(ref).
			WithMetadata(map[string]any{"goal_id": id.String()})
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			credit = credit.WithKey(fmt.Sprintf("goal:%s:%s", id, key))
		}
		credit.Limits = ledger.AccountLimits(acct, s.now())

		posted, err = s.ledger.ApplyTx(ctx, tx, ledger.Batch{ledger.PostOp(credit)})
		if err != nil {
			return err
		}

		g.CurrentAmount += amount
		g.UpdatedAt = s.now().UTC()
		if g.CurrentAmount == g.TargetAmount {
			g.Status = model.GoalStatusCompleted
		}
		goal = g
		return tx.PutGoal(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	scale := money.Scale(posted[0].Currency)
	event := notify.EventGoalContribution
	if goal.Status == model.GoalStatusCompleted {
		event = notify.EventGoalCompleted
	}
	s.transitioned(ctx, owner, goal, event, map[string]any{
		"amount":         posted[0].Amount.Format(scale),
		"current_amount": goal.CurrentAmount.Format(scale),
		"transaction_id": posted[0].ID.String(),
	})
	return goal, nil
}

// Cancel stops an active goal. Contributed funds stay on the account.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	var goal *model.SavingsGoal
	err := s.ledger.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		g, err := tx.Goal(ctx, id)
		if err != nil {
			return err
		}
		if g.Status != model.GoalStatusActive {
			return fmt.Errorf("%w: goal %s is %s", model.ErrInvalidStateTransition, id, g.Status)
		}
		g.Status = model.GoalStatusCancelled
		g.UpdatedAt = s.now().UTC()
		goal = g
		return tx.PutGoal(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	owner := uuid.Nil
	if acct, err := s.store.GetAccount(ctx, goal.AccountID); err == nil {
		owner = acct.OwnerID
	}
	s.transitioned(ctx, owner, goal, notify.EventGoalCancelled, nil)
	return goal, nil
}

// Get returns a goal
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.SavingsGoal, error) {
	return s.store.GetGoal(ctx, id)
}

// ByAccount lists an account's goals
func (s *Service) ByAccount(ctx context.Context, accountID uuid.UUID) ([]model.SavingsGoal, error) {
	return s.store.GoalsByAccount(ctx, accountID)
}

func (s *Service) transitioned(ctx context.Context, owner uuid.UUID, g *model.SavingsGoal, event string, data map[string]any) {
	metrics.GoalTransitions.WithLabelValues(string(g.Status)).Inc()
	s.log.Info("savings goal updated",
		zap.String("goal_id", g.ID.String()),
		zap.String("account_id", g.AccountID.String()),
		zap.String("status", string(g.Status)),
	)
	if data == nil {
		data = map[string]any{}
	}
	data["goal_id"] = g.ID.String()
	data["status"] = string(g.Status)
	s.ledger.Notify(ctx, notify.NewEvent(event, owner, data).ForAccount(g.AccountID))
}
