// Package deposits manages fixed-term deposits.
//
// Opening a deposit blocks the principal on the source account. At
// maturity the block is released and the simple interest is credited, so
// the member's available funds rise by the maturity value. Withdrawing
// early releases the block, charges the penalty and forfeits interest.
package deposits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

var monthsPerYearPercent = decimal.NewFromInt(1200)

// Interest is the simple interest P × rate × term / 1200, rounded half-even
func Interest(principal money.Amount, ratePercent decimal.Decimal, termMonths int) money.Amount {
	return money.FromDecimal(
		principal.Decimal().
			Mul(ratePercent).
			Mul(decimal.NewFromInt(int64(termMonths))).
			Div(monthsPerYearPercent),
	)
}

// Service runs the deposit lifecycle
type Service struct {
	ledger  *ledger.Ledger
	store   store.Reader
	catalog *policy.Catalog
	log     *zap.Logger
	now     func() time.Time
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

// NewService creates a deposit service
func NewService(l *ledger.Ledger, r store.Reader, catalog *policy.Catalog, opts ...Option) *Service {
	s := &Service{ledger: l, store: r, catalog: catalog, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) checkTerm(months int) error {
	t := s.catalog.Deposits
	if months < t.MinTerm || months > t.MaxTerm {
		return fmt.Errorf("%w: deposit term must be between %d and %d months", model.ErrInvalidTerm, t.MinTerm, t.MaxTerm)
	}
	return nil
}

func (s *Service) newDeposit(accountID uuid.UUID, principal money.Amount, rate decimal.Decimal, term int, start time.Time) *model.FixedDeposit {
	interest := Interest(principal, rate, term)
	return &model.FixedDeposit{
		ID:             uuid.New(),
		AccountID:      accountID,
		Principal:      principal,
		InterestRate:   rate,
		TermMonths:     term,
		StartDate:      start,
		MaturityDate:   start.AddDate(0, term, 0),
		InterestAmount: interest,
		MaturityValue:  principal + interest,
		Status:         model.DepositStatusActive,
		PenaltyRate:    s.catalog.Fees.EarlyWithdrawalPenaltyRate,
		CreatedAt:      start,
	}
}

// Open blocks the principal on the owner's account and records the deposit
func (s *Service) Open(ctx context.Context, ownerID uuid.UUID, req model.OpenDepositRequest) (*model.FixedDeposit, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkTerm(req.TermMonths); err != nil {
		return nil, err
	}
	renewalTerm := req.RenewalTermMonths
	if renewalTerm == 0 {
		renewalTerm = req.TermMonths
	}
	if req.AutoRenew {
		if err := s.checkTerm(renewalTerm); err != nil {
			return nil, err
		}
	}

	rate := s.catalog.Deposits.DefaultRate
	if req.InterestRate != "" {
		r, err := decimal.NewFromString(req.InterestRate)
		if err != nil || r.IsNegative() {
			return nil, model.ErrInvalidRate
		}
		rate = r
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.OwnerID != ownerID {
		return nil, model.ErrAccountNotFound
	}
	principal, err := money.Parse(req.Amount, acct.Scale())
	if err != nil {
		return nil, err
	}
	if principal <= 0 {
		return nil, model.ErrInvalidAmount
	}

	d := s.newDeposit(acct.ID, principal, rate, req.TermMonths, s.now().UTC())
	d.AutoRenew = req.AutoRenew
	if req.AutoRenew {
		d.RenewalTermMonths = renewalTerm
	}

	err = s.ledger.Atomic(ctx, []uuid.UUID{d.ID, acct.ID}, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.ledger.ApplyTx(ctx, tx, ledger.Batch{ledger.BlockOp(acct.ID, principal)}); err != nil {
			return err
		}
		return tx.PutDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, acct.OwnerID, d, notify.EventDepositOpened, map[string]any{
		"principal":      d.Principal.Format(acct.Scale()),
		"interest_rate":  d.InterestRate.String(),
		"maturity_date":  d.MaturityDate,
		"maturity_value": d.MaturityValue.Format(acct.Scale()),
	})
	return d, nil
}

// Mature closes a due deposit. The principal block is released and the
// interest credited; with auto-renew the maturity value is blocked again
// under a successor deposit in the same unit. A deposit matures once.
func (s *Service) Mature(ctx context.Context, id uuid.UUID, asOf time.Time) (*model.FixedDeposit, error) {
	current, err := s.store.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	successorID := uuid.New()

	var closed, successor *model.FixedDeposit
	var owner uuid.UUID
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, current.AccountID, successorID}, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.Deposit(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != model.DepositStatusActive {
			return fmt.Errorf("%w: deposit %s is %s", model.ErrInvalidStateTransition, id, d.Status)
		}
		if asOf.Before(d.MaturityDate) {
			return fmt.Errorf("%w: deposit %s matures on %s", model.ErrInvalidStateTransition, id, d.MaturityDate.Format(time.DateOnly))
		}
		acct, err := tx.Account(ctx, d.AccountID)
		if err != nil {
			return err
		}
		owner = acct.OwnerID

		batch := ledger.Batch{ledger.UnblockOp(d.AccountID, d.Principal)}
		if d.InterestAmount > 0 {
			credit := ledger.Credit(d.AccountID, model.TransactionTypeInterestCredit, d.InterestAmount).
				WithKey(closeKey(id)).
				WithReference("fixed deposit interest").
				WithMetadata(map[string]any{"deposit_id": id.String()})
			credit.Administrative = true
			batch = append(batch, ledger.PostOp(credit))
		}

		now := s.now().UTC()
		d.Status = model.DepositStatusMatured
		d.ClosedAt = &now

		if d.AutoRenew && acct.Status == model.AccountStatusActive {
			term := d.RenewalTermMonths
			if term == 0 {
				term = d.TermMonths
			}
			successor = s.newDeposit(d.AccountID, d.MaturityValue, d.InterestRate, term, d.MaturityDate)
			successor.ID = successorID
			successor.AutoRenew = true
			successor.RenewalTermMonths = term
			successor.RenewedFrom = &d.ID
			successor.CreatedAt = now
			batch = append(batch, ledger.BlockOp(d.AccountID, successor.Principal))

			d.Status = model.DepositStatusRenewed
			d.RenewedInto = &successor.ID
		}

		posted, err = s.ledger.ApplyTx(ctx, tx, batch)
		if err != nil {
			if errors.Is(err, model.ErrDuplicatePosting) {
				return fmt.Errorf("%w: deposit %s already closed", model.ErrInvalidStateTransition, id)
			}
			return err
		}
		if successor != nil {
			if err := tx.PutDeposit(ctx, successor); err != nil {
				return err
			}
		}
		closed = d
		return tx.PutDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	scale := money.Scale(s.catalog.Currency)
	s.transitioned(ctx, owner, closed, notify.EventDepositMatured, map[string]any{
		"interest":       closed.InterestAmount.Format(scale),
		"maturity_value": closed.MaturityValue.Format(scale),
	})
	if successor != nil {
		s.transitioned(ctx, owner, successor, notify.EventDepositRenewed, map[string]any{
			"renewed_from":  closed.ID.String(),
			"principal":     successor.Principal.Format(scale),
			"maturity_date": successor.MaturityDate,
		})
	}
	return closed, nil
}

// WithdrawEarly closes an active deposit before its maturity date. The
// principal is released, the penalty principal × penalty rate is charged
// and no interest is paid.
func (s *Service) WithdrawEarly(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	current, err := s.store.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}

	var closed *model.FixedDeposit
	var owner uuid.UUID
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, current.AccountID}, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.Deposit(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != model.DepositStatusActive {
			return fmt.Errorf("%w: deposit %s is %s", model.ErrInvalidStateTransition, id, d.Status)
		}
		now := s.now().UTC()
		if !now.Before(d.MaturityDate) {
			return fmt.Errorf("%w: deposit %s has reached maturity", model.ErrInvalidStateTransition, id)
		}
		acct, err := tx.Account(ctx, d.AccountID)
		if err != nil {
			return err
		}
		owner = acct.OwnerID

		batch := ledger.Batch{ledger.UnblockOp(d.AccountID, d.Principal)}
		if penalty := d.Principal.MulRate(d.PenaltyRate); penalty > 0 {
			fee := ledger.Debit(d.AccountID, model.TransactionTypeFeeCharge, penalty).
				WithKey(closeKey(id)).
				WithReference("early withdrawal penalty").
				WithMetadata(map[string]any{"deposit_id": id.String()})
			fee.Administrative = true
			batch = append(batch, ledger.PostOp(fee))
		}
		posted, err = s.ledger.ApplyTx(ctx, tx, batch)
		if err != nil {
			return err
		}

		d.Status = model.DepositStatusWithdrawn
		d.InterestAmount = 0
		d.ClosedAt = &now
		closed = d
		return tx.PutDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	penalty := money.Amount(0)
	if len(posted) > 0 {
		penalty = posted[0].Amount
	}
	s.transitioned(ctx, owner, closed, notify.EventDepositWithdrawn, map[string]any{
		"penalty": penalty.Format(money.Scale(s.catalog.Currency)),
	})
	return closed, nil
}

// MatureDue matures every deposit due as of asOf and returns how many it
// closed. Deposits closed concurrently are skipped.
func (s *Service) MatureDue(ctx context.Context, asOf time.Time) (int, error) {
	due, err := s.store.DepositsDue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list due deposits: %w", err)
	}

	var errs []error
	n := 0
	for i := range due {
		_, err := s.Mature(ctx, due[i].ID, asOf)
		switch {
		case err == nil:
			n++
		case errors.Is(err, model.ErrInvalidStateTransition):
			s.log.Debug("deposit already closed", zap.String("deposit_id", due[i].ID.String()))
		default:
			s.log.Warn("failed to mature deposit",
				zap.String("deposit_id", due[i].ID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

// Get returns a deposit
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.FixedDeposit, error) {
	return s.store.GetDeposit(ctx, id)
}

// ByAccount lists an account's deposits
func (s *Service) ByAccount(ctx context.Context, accountID uuid.UUID) ([]model.FixedDeposit, error) {
	return s.store.DepositsByAccount(ctx, accountID)
}

// Stats summarizes the owner's savings: balances of active accounts,
// active deposits and goals, and net deposits since the start of the
// current month. Reversed deposits are netted out.
func (s *Service) Stats(ctx context.Context, ownerID uuid.UUID) (*model.SavingsStats, error) {
	accounts, err := s.store.AccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	stats := &model.SavingsStats{}
	for i := range accounts {
		a := &accounts[i]
		if a.Status == model.AccountStatusActive {
			stats.TotalBalance += a.Balance
		}
		deposits, err := s.store.DepositsByAccount(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list deposits: %w", err)
		}
		for _, d := range deposits {
			if d.Status == model.DepositStatusActive {
				stats.Deposits.Count++
				stats.Deposits.Amount += d.Principal
			}
		}
		goals, err := s.store.GoalsByAccount(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list goals: %w", err)
		}
		for _, g := range goals {
			if g.Status == model.GoalStatusActive {
				stats.Goals.Count++
				stats.Goals.Target += g.TargetAmount
				stats.Goals.Saved += g.CurrentAmount
			}
		}
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	totals, err := s.store.PostingTotals(ctx, store.TotalsFilter{OwnerID: ownerID, From: monthStart})
	if err != nil {
		return nil, fmt.Errorf("failed to total postings: %w", err)
	}
	for _, t := range totals {
		if t.Type != model.TransactionTypeDeposit {
			continue
		}
		switch {
		case t.Direction == model.DirectionCredit && t.Status == model.TransactionStatusCompleted:
			stats.MonthlyDeposits += t.Amount
		case t.Direction == model.DirectionDebit && t.Status == model.TransactionStatusReversal:
			stats.MonthlyDeposits -= t.Amount
		}
	}
	return stats, nil
}

// Currency is the catalog currency
func (s *Service) Currency() string {
	return s.catalog.Currency
}

func (s *Service) transitioned(ctx context.Context, owner uuid.UUID, d *model.FixedDeposit, event string, data map[string]any) {
	metrics.DepositTransitions.WithLabelValues(string(d.Status)).Inc()
	s.log.Info("deposit transitioned",
		zap.String("deposit_id", d.ID.String()),
		zap.String("account_id", d.AccountID.String()),
		zap.String("status", string(d.Status)),
	)
	if data == nil {
		data = map[string]any{}
	}
	data["deposit_id"] = d.ID.String()
	s.ledger.Notify(ctx, notify.NewEvent(event, owner, data).ForAccount(d.AccountID))
}

func closeKey(id uuid.UUID) string {
	return fmt.Sprintf("deposit:%s:close", id)
}
