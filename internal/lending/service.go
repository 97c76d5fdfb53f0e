// Package lending runs the loan lifecycle: application, approval and
// disbursement, repayment, restructuring and default.
//
// Every transition that moves money goes through the ledger in the same
// unit of work that persists the loan, so a loan never becomes active
// without its disbursement posting, and a repayment is never recorded
// without its debit.
package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/amortization"
	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// DefaultGraceDays is how long past its due date a loan may run before it
// can be marked defaulted
const DefaultGraceDays = 30

// Scorer produces a credit score for a borrower
type Scorer interface {
	Score(ctx context.Context, subject uuid.UUID) (*model.CreditScoreSnapshot, error)
}

// Service implements the loan lifecycle
type Service struct {
	ledger    *ledger.Ledger
	store     store.Reader
	scorer    Scorer
	catalog   *policy.Catalog
	log       *zap.Logger
	now       func() time.Time
	graceDays int
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

// WithGraceDays sets the default grace period
func WithGraceDays(days int) Option {
	return func(s *Service) { s.graceDays = days }
}

// NewService creates a lending service
func NewService(l *ledger.Ledger, r store.Reader, scorer Scorer, catalog *policy.Catalog, opts ...Option) *Service {
	s := &Service{
		ledger:    l,
		store:     r,
		scorer:    scorer,
		catalog:   catalog,
		log:       zap.NewNop(),
		now:       time.Now,
		graceDays: DefaultGraceDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply records a pending loan application priced from the borrower's
// current credit score. Nothing is posted to the ledger.
func (s *Service) Apply(ctx context.Context, borrowerID uuid.UUID, req model.LoanApplicationRequest) (*model.Loan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	product, err := s.catalog.LoanProduct(req.Product)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.OwnerID != borrowerID {
		return nil, model.ErrAccountNotFound
	}
	if acct.Status != model.AccountStatusActive {
		return nil, model.ErrAccountNotActive
	}
	if acct.Currency != s.catalog.Currency {
		return nil, fmt.Errorf("%w: loans are issued in %s", model.ErrCurrencyMismatch, s.catalog.Currency)
	}

	principal, err := money.Parse(req.Amount, acct.Scale())
	if err != nil {
		return nil, err
	}
	if err := product.CheckBounds(principal, req.TermMonths); err != nil {
		return nil, err
	}

	snap, err := s.scorer.Score(ctx, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("failed to score borrower: %w", err)
	}
	rate := s.catalog.Pricing.Price(product.BaseInterestRate, snap.Score)

	now := s.now().UTC()
	sched, err := amortization.Amortize(principal, rate, req.TermMonths, now)
	if err != nil {
		return nil, err
	}

	loan := &model.Loan{
		ID:                       uuid.New(),
		BorrowerID:               borrowerID,
		AccountID:                acct.ID,
		Product:                  product.Code,
		Currency:                 acct.Currency,
		Principal:                principal,
		InterestRate:             rate,
		TermMonths:               req.TermMonths,
		Status:                   model.LoanStatusPending,
		CreditScoreAtApplication: snap.Score,
		Purpose:                  req.Purpose,
		AppliedAt:                now,
		UpdatedAt:                now,
	}
	applySchedule(loan, sched)

	err = s.ledger.Atomic(ctx, []uuid.UUID{loan.ID}, func(ctx context.Context, tx store.Tx) error {
		return tx.PutLoan(ctx, loan)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save loan application: %w", err)
	}

	s.transitioned(ctx, loan, notify.EventLoanApplied, map[string]any{
		"product":       loan.Product,
		"principal":     loan.Principal.Format(money.Scale(loan.Currency)),
		"interest_rate": loan.InterestRate.String(),
		"credit_score":  loan.CreditScoreAtApplication,
	})
	return loan, nil
}

// Approve moves a pending loan through approved to active and disburses
// the principal to the borrower's account in the same unit of work
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	current, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	var loan *model.Loan
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, current.AccountID}, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if l.Status == model.LoanStatusPending {
			l.Status = model.LoanStatusApproved
		}
		if !l.Status.CanTransitionTo(model.LoanStatusActive) {
			return fmt.Errorf("%w: loan %s is %s", model.ErrInvalidStateTransition, id, l.Status)
		}

		now := s.now().UTC()
		sched, err := amortization.Amortize(l.Principal, l.InterestRate, l.TermMonths, now)
		if err != nil {
			return err
		}

		credit := ledger.Credit(l.AccountID, model.TransactionTypeLoanDisbursement, l.Principal).
			WithKey(disburseKey(id)).
			WithReference("loan disbursement").
			WithMetadata(map[string]any{"loan_id": id.String()})
		posted, err = s.ledger.ApplyTx(ctx, tx, ledger.Batch{ledger.PostOp(credit)})
		if err != nil {
			return conflictOnDuplicate(err)
		}

		applySchedule(l, sched)
		l.Status = model.LoanStatusActive
		l.OutstandingPrincipal = l.Principal
		l.ApprovedAt = &now
		l.DisbursementTxID = &posted[0].ID
		l.UpdatedAt = now
		loan = l
		return tx.PutLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	metrics.LoanTransitions.WithLabelValues(string(model.LoanStatusApproved)).Inc()
	s.transitioned(ctx, loan, notify.EventLoanApproved, map[string]any{
		"disbursement_tx_id": posted[0].ID.String(),
		"monthly_payment":    loan.MonthlyPayment.Format(money.Scale(loan.Currency)),
	})
	return loan, nil
}

// Reject closes a pending application
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*model.Loan, error) {
	var loan *model.Loan
	err := s.ledger.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if !l.Status.CanTransitionTo(model.LoanStatusRejected) {
			return fmt.Errorf("%w: loan %s is %s", model.ErrInvalidStateTransition, id, l.Status)
		}
		now := s.now().UTC()
		l.Status = model.LoanStatusRejected
		l.RejectionReason = reason
		l.ClosedAt = &now
		l.UpdatedAt = now
		loan = l
		return tx.PutLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, loan, notify.EventLoanRejected, map[string]any{"reason": reason})
	return loan, nil
}

// Restructure replaces the schedule of an active loan with one computed
// from its outstanding principal. The prior terms are kept as an audit
// record and the loan passes through restructured back to active.
func (s *Service) Restructure(ctx context.Context, id uuid.UUID, req model.RestructureRequest) (*model.Loan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(req.InterestRate)
	if err != nil || rate.IsNegative() {
		return nil, model.ErrInvalidRate
	}

	var loan *model.Loan
	err = s.ledger.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if !l.Status.CanTransitionTo(model.LoanStatusRestructured) {
			return fmt.Errorf("%w: loan %s is %s", model.ErrInvalidStateTransition, id, l.Status)
		}
		if l.OutstandingPrincipal <= 0 {
			return fmt.Errorf("%w: loan %s has no outstanding principal", model.ErrInvalidStateTransition, id)
		}

		now := s.now().UTC()
		sched, err := amortization.Amortize(l.OutstandingPrincipal, rate, req.TermMonths, now)
		if err != nil {
			return err
		}

		audit := &model.LoanRestructuring{
			ID:                  uuid.New(),
			LoanID:              id,
			PriorRate:           l.InterestRate,
			PriorTermMonths:     l.TermMonths,
			PriorMonthlyPayment: l.MonthlyPayment,
			Outstanding:         l.OutstandingPrincipal,
			NewRate:             rate,
			NewTermMonths:       req.TermMonths,
			Reason:              req.Reason,
			CreatedAt:           now,
		}
		if err := tx.InsertRestructuring(ctx, audit); err != nil {
			return err
		}

		l.Status = model.LoanStatusRestructured
		applySchedule(l, sched)
		l.InterestRate = rate
		l.TermMonths = req.TermMonths
		l.RestructureRef = &audit.ID
		l.Status = model.LoanStatusActive
		l.UpdatedAt = now
		loan = l
		return tx.PutLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	metrics.LoanTransitions.WithLabelValues(string(model.LoanStatusRestructured)).Inc()
	s.transitioned(ctx, loan, notify.EventLoanRestructured, map[string]any{
		"outstanding":     loan.OutstandingPrincipal.Format(money.Scale(loan.Currency)),
		"interest_rate":   loan.InterestRate.String(),
		"term_months":     loan.TermMonths,
		"monthly_payment": loan.MonthlyPayment.Format(money.Scale(loan.Currency)),
	})
	return loan, nil
}

// MarkDefaulted moves an overdue active loan to defaulted. Calling it on an
// already defaulted loan returns the loan unchanged.
func (s *Service) MarkDefaulted(ctx context.Context, id uuid.UUID, asOf time.Time) (*model.Loan, error) {
	var loan *model.Loan
	changed := false
	err := s.ledger.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		loan = l
		if l.Status == model.LoanStatusDefaulted {
			return nil
		}
		if !l.Status.CanTransitionTo(model.LoanStatusDefaulted) {
			return fmt.Errorf("%w: loan %s is %s", model.ErrInvalidStateTransition, id, l.Status)
		}
		if !l.IsOverdue(asOf, s.graceDays) {
			return fmt.Errorf("%w: loan %s is not past its grace period", model.ErrInvalidStateTransition, id)
		}
		now := s.now().UTC()
		l.Status = model.LoanStatusDefaulted
		l.ClosedAt = &now
		l.UpdatedAt = now
		changed = true
		return tx.PutLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.transitioned(ctx, loan, notify.EventLoanDefaulted, map[string]any{
			"outstanding": loan.OutstandingPrincipal.Format(money.Scale(loan.Currency)),
		})
	}
	return loan, nil
}

// DetectDefaults marks every active loan past its grace period as
// defaulted and returns how many it moved
func (s *Service) DetectDefaults(ctx context.Context, asOf time.Time) (int, error) {
	loans, err := s.store.Loans(ctx, store.LoanFilter{Statuses: []model.LoanStatus{model.LoanStatusActive}})
	if err != nil {
		return 0, fmt.Errorf("failed to list active loans: %w", err)
	}

	var errs []error
	n := 0
	for i := range loans {
		if !loans[i].IsOverdue(asOf, s.graceDays) {
			continue
		}
		if _, err := s.MarkDefaulted(ctx, loans[i].ID, asOf); err != nil {
			s.log.Warn("failed to mark loan defaulted",
				zap.String("loan_id", loans[i].ID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Currency is the currency loans are issued in
func (s *Service) Currency() string {
	return s.catalog.Currency
}

// Get returns a loan
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	return s.store.GetLoan(ctx, id)
}

// ByBorrower lists a borrower's loans
func (s *Service) ByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]model.Loan, error) {
	return s.store.Loans(ctx, store.LoanFilter{BorrowerID: borrowerID})
}

// Payments lists a loan's repayments in order
func (s *Service) Payments(ctx context.Context, id uuid.UUID) ([]model.LoanPayment, error) {
	if _, err := s.store.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return s.store.LoanPayments(ctx, id)
}

// Restructurings lists a loan's restructuring audit trail
func (s *Service) Restructurings(ctx context.Context, id uuid.UUID) ([]model.LoanRestructuring, error) {
	if _, err := s.store.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Restructurings(ctx, id)
}

func (s *Service) transitioned(ctx context.Context, l *model.Loan, event string, data map[string]any) {
	metrics.LoanTransitions.WithLabelValues(string(l.Status)).Inc()
	s.log.Info("loan transitioned",
		zap.String("loan_id", l.ID.String()),
		zap.String("borrower_id", l.BorrowerID.String()),
		zap.String("status", string(l.Status)),
		zap.String("event", event),
	)
	s.ledger.Notify(ctx, notify.NewEvent(event, l.BorrowerID, data).ForAccount(l.AccountID))
}

// applySchedule copies a schedule onto the loan and resets repayment progress
func applySchedule(l *model.Loan, sched amortization.Schedule) {
	l.MonthlyPayment = sched.MonthlyPayment
	l.TotalPayable = sched.TotalPayable
	l.TotalInterest = sched.TotalInterest
	l.Schedule = sched.Installments
	l.DueDate = sched.FirstDue()
	l.MaturityDate = sched.LastDue()
	l.InstallmentsPaid = 0
	l.InstallmentCredit = 0
}

func disburseKey(id uuid.UUID) string {
	return fmt.Sprintf("loan:%s:disburse", id)
}

func paymentKey(id uuid.UUID, seq int) string {
	return fmt.Sprintf("loan:%s:payment:%d", id, seq)
}

// conflictOnDuplicate reports a reused lifecycle key as a lost race
func conflictOnDuplicate(err error) error {
	if errors.Is(err, model.ErrDuplicatePosting) {
		return fmt.Errorf("%w: %v", model.ErrConcurrencyConflict, err)
	}
	return err
}
