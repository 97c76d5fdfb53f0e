// Package ledger is the single point of balance mutation.
//
// Every change runs inside store.Atomic with the touched accounts locked,
// so the read balance, validate, write balance and append transaction
// sequence is serialized per account. A batch that fails any check leaves
// no trace: no balance change and no transaction record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// Ledger owns account balances and the transaction log
type Ledger struct {
	store   store.Store
	catalog *policy.Catalog
	events  *notify.Dispatcher
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithNotifier sets the post-commit event dispatcher
func WithNotifier(d *notify.Dispatcher) Option {
	return func(lg *Ledger) { lg.events = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a Ledger
func New(s store.Store, catalog *policy.Catalog, opts ...Option) *Ledger {
	l := &Ledger{store: s, catalog: catalog, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.events == nil {
		l.events = notify.NewDispatcher(nil, l.log)
	}
	return l
}

// Now returns the ledger clock
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Apply runs a batch atomically and returns the transactions it posted
func (l *Ledger) Apply(ctx context.Context, batch Batch) ([]model.Transaction, error) {
	var posted []model.Transaction
	err := l.Atomic(ctx, batch.Accounts(), func(ctx context.Context, tx store.Tx) error {
		var err error
		posted, err = l.ApplyTx(ctx, tx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Published(ctx, posted...)
	return posted, nil
}

// Atomic runs fn under the store's unit of work, recording batch metrics.
// Services that persist their own records alongside postings use this
// with ApplyTx and then call Published after it returns.
func (l *Ledger) Atomic(ctx context.Context, lock []uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	timer := prometheus.NewTimer(metrics.LedgerBatchDuration.WithLabelValues("apply"))
	defer timer.ObserveDuration()

	err := l.store.Atomic(ctx, lock, fn)
	metrics.LedgerBatches.WithLabelValues(metrics.Result(err)).Inc()
	return err
}

// ApplyTx applies a batch inside an existing unit of work. The accounts
// must be among the unit's locked set.
func (l *Ledger) ApplyTx(ctx context.Context, tx store.Tx, batch Batch) ([]model.Transaction, error) {
	now := l.now().UTC()
	posted := make([]model.Transaction, 0, len(batch))

	for i, op := range batch {
		switch op.kind {
		case opPost:
			t, err := l.post(ctx, tx, op.post, now)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			posted = append(posted, *t)
		case opBlock:
			if err := l.block(ctx, tx, op.accountID, op.amount, now); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		case opUnblock:
			if err := l.unblock(ctx, tx, op.accountID, op.amount, now); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	return posted, nil
}

// Published records metrics and sends events for committed postings
func (l *Ledger) Published(ctx context.Context, posted ...model.Transaction) {
	events := make([]notify.Event, 0, len(posted))
	for _, t := range posted {
		metrics.LedgerPostings.WithLabelValues(string(t.Type), string(t.Direction)).Inc()
		l.log.Info("transaction posted",
			zap.String("transaction_id", t.ID.String()),
			zap.String("account_id", t.AccountID.String()),
			zap.String("type", string(t.Type)),
			zap.String("direction", string(t.Direction)),
			zap.Int64("amount", int64(t.Amount)),
			zap.Int64("balance_after", int64(t.BalanceAfter)),
		)
		events = append(events, notify.NewEvent(notify.EventTransactionPosted, t.AccountID, map[string]any{
			"transaction_id": t.ID.String(),
			"type":           t.Type,
			"direction":      t.Direction,
			"amount":         t.Amount.Format(money.Scale(t.Currency)),
			"currency":       t.Currency,
			"balance_after":  t.BalanceAfter.Format(money.Scale(t.Currency)),
		}).ForAccount(t.AccountID))
	}
	l.events.Send(ctx, events...)
}

// Notify sends arbitrary post-commit events through the ledger's dispatcher
func (l *Ledger) Notify(ctx context.Context, events ...notify.Event) {
	l.events.Send(ctx, events...)
}

func (l *Ledger) post(ctx context.Context, tx store.Tx, r PostRequest, now time.Time) (*model.Transaction, error) {
	if r.Amount <= 0 {
		return nil, fmt.Errorf("%w: posting amount must be positive", model.ErrInvalidAmount)
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", r.Type)
	}
	if r.Direction != model.DirectionCredit && r.Direction != model.DirectionDebit {
		r.Direction = r.Type.DefaultDirection()
	}

	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.IdempotencyKey != "" {
		exists, err := tx.KeyExists(ctx, r.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, model.ErrDuplicatePosting
		}
	}

	acct, err := tx.Account(ctx, r.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.CanPost(r.Administrative) {
		return nil, fmt.Errorf("%w: account %s is %s", model.ErrAccountNotActive, acct.ID, acct.Status)
	}

	before := acct.Balance
	after := before + r.Amount
	if r.Direction == model.DirectionDebit {
		if r.Amount > acct.AvailableBalance() {
			return nil, model.ErrInsufficientFunds
		}
		after = before - r.Amount
		if acct.EnforcesMinimumBalance() && after < acct.MinimumBalance {
			return nil, model.ErrBelowMinimumBalance
		}
	}

	for _, lim := range r.Limits {
		used, err := tx.SumPostings(ctx, store.PostingFilter{
			AccountID: acct.ID,
			Type:      r.Type,
			Direction: r.Direction,
			From:      lim.From,
			To:        lim.To,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to sum postings: %w", err)
		}
		if used+r.Amount > lim.Cap {
			return nil, model.ErrLimitExceeded
		}
	}

	status := model.TransactionStatusCompleted
	if r.reversalOf != nil {
		status = model.TransactionStatusReversal
	}

	t := &model.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: r.IdempotencyKey,
		AccountID:      acct.ID,
		Type:           r.Type,
		Direction:      r.Direction,
		Amount:         r.Amount,
		Currency:       acct.Currency,
		ExchangeRate:   r.ExchangeRate,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Reference:      r.Reference,
		ReversalOf:     r.reversalOf,
		Metadata:       r.Metadata,
		Status:         status,
		CreatedAt:      now,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}

	acct.Balance = after
	acct.UpdatedAt = now
	if err := tx.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *Ledger) block(ctx context.Context, tx store.Tx, id uuid.UUID, amount money.Amount, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: block amount must be positive", model.ErrInvalidAmount)
	}
	acct, err := tx.Account(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status != model.AccountStatusActive {
		return fmt.Errorf("%w: account %s is %s", model.ErrAccountNotActive, acct.ID, acct.Status)
	}
	if amount > acct.AvailableBalance() {
		return model.ErrInsufficientFunds
	}
	acct.BlockedAmount += amount
	acct.UpdatedAt = now
	return tx.PutAccount(ctx, acct)
}

func (l *Ledger) unblock(ctx context.Context, tx store.Tx, id uuid.UUID, amount money.Amount, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: unblock amount must be positive", model.ErrInvalidAmount)
	}
	acct, err := tx.Account(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status == model.AccountStatusClosed {
		return fmt.Errorf("%w: account %s is closed", model.ErrAccountNotActive, acct.ID)
	}
	if amount > acct.BlockedAmount {
		return fmt.Errorf("%w: unblock exceeds blocked amount", model.ErrInvalidAmount)
	}
	acct.BlockedAmount -= amount
	acct.UpdatedAt = now
	return tx.PutAccount(ctx, acct)
}

// Post applies a single posting
func (l *Ledger) Post(ctx context.Context, r PostRequest) (*model.Transaction, error) {
	posted, err := l.Apply(ctx, Batch{PostOp(r)})
	if err != nil {
		return nil, err
	}
	return &posted[0], nil
}

// Block reserves amount of the account's available balance
func (l *Ledger) Block(ctx context.Context, accountID uuid.UUID, amount money.Amount) error {
	_, err := l.Apply(ctx, Batch{BlockOp(accountID, amount)})
	return err
}

// Unblock releases a reservation
func (l *Ledger) Unblock(ctx context.Context, accountID uuid.UUID, amount money.Amount) error {
	_, err := l.Apply(ctx, Batch{UnblockOp(accountID, amount)})
	return err
}

// TransferRequest moves money between two accounts of the same currency
type TransferRequest struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         money.Amount
	Reference      string
	IdempotencyKey string
}

// Transfer posts a debit and a credit in one unit; if either leg fails
// neither is applied. Outgoing transfers count against the source
// account's period limits.
func (l *Ledger) Transfer(ctx context.Context, r TransferRequest) ([]model.Transaction, error) {
	if r.FromAccountID == r.ToAccountID {
		return nil, model.ErrSameAccount
	}

	transferID := uuid.New().String()
	debit := Debit(r.FromAccountID, model.TransactionTypeTransfer, r.Amount).
		WithReference(r.Reference).
		WithMetadata(map[string]any{"transfer_id": transferID, "counterparty": r.ToAccountID.String()})
	credit := Credit(r.ToAccountID, model.TransactionTypeTransfer, r.Amount).
		WithReference(r.Reference).
		WithMetadata(map[string]any{"transfer_id": transferID, "counterparty": r.FromAccountID.String()})
	if r.IdempotencyKey != "" {
		debit = debit.WithKey(r.IdempotencyKey + ":debit")
		credit = credit.WithKey(r.IdempotencyKey + ":credit")
	}

	var posted []model.Transaction
	err := l.Atomic(ctx, []uuid.UUID{r.FromAccountID, r.ToAccountID}, func(ctx context.Context, tx store.Tx) error {
		from, err := tx.Account(ctx, r.FromAccountID)
		if err != nil {
			return err
		}
		to, err := tx.Account(ctx, r.ToAccountID)
		if err != nil {
			return err
		}
		if from.Currency != to.Currency {
			return model.ErrCurrencyMismatch
		}
		debit.Limits = AccountLimits(from, l.now())
		posted, err = l.ApplyTx(ctx, tx, Batch{PostOp(debit), PostOp(credit)})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Published(ctx, posted...)
	return posted, nil
}

// Reverse posts a compensating transaction for txID. A transaction can be
// reversed once; reversals themselves cannot be reversed.
func (l *Ledger) Reverse(ctx context.Context, txID uuid.UUID, reason string) (*model.Transaction, error) {
	original, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if original.ReversalOf != nil {
		return nil, fmt.Errorf("%w: transaction %s is itself a reversal", model.ErrInvalidStateTransition, txID)
	}

	id := original.ID
	req := PostRequest{
		AccountID:      original.AccountID,
		Type:           original.Type,
		Direction:      original.Direction.Opposite(),
		Amount:         original.Amount,
		Reference:      reason,
		IdempotencyKey: "reversal:" + id.String(),
		Administrative: true,
		Metadata:       map[string]any{"reason": reason},
		reversalOf:     &id,
	}

	t, err := l.Post(ctx, req)
	if errors.Is(err, model.ErrDuplicatePosting) {
		return nil, model.ErrAlreadyReversed
	}
	return t, err
}

// OpenAccount creates an account configured from its product policy
func (l *Ledger) OpenAccount(ctx context.Context, req model.OpenAccountRequest) (*model.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	product, err := l.catalog.AccountProduct(req.Product)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	acct := &model.Account{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		Product:        product.Code,
		Currency:       strings.ToUpper(req.Currency),
		MinimumBalance: product.MinimumBalance,
		DailyLimit:     product.DailyLimit,
		MonthlyLimit:   product.MonthlyLimit,
		Status:         product.InitialStatus(),
		OpenedAt:       now,
		UpdatedAt:      now,
	}

	err = l.Atomic(ctx, []uuid.UUID{acct.ID}, func(ctx context.Context, tx store.Tx) error {
		return tx.PutAccount(ctx, acct)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}

	l.log.Info("account opened",
		zap.String("account_id", acct.ID.String()),
		zap.String("product", acct.Product),
		zap.String("status", string(acct.Status)),
	)
	l.events.Send(ctx, notify.NewEvent(notify.EventAccountOpened, acct.OwnerID, map[string]any{
		"product": acct.Product,
		"status":  acct.Status,
	}).ForAccount(acct.ID))
	return acct, nil
}

// SetStatus moves an account through its lifecycle. Closing requires a
// zero balance and no blocked funds.
func (l *Ledger) SetStatus(ctx context.Context, id uuid.UUID, status model.AccountStatus, reason string) (*model.Account, error) {
	if !status.Valid() {
		return nil, model.ErrInvalidStatus
	}

	var updated *model.Account
	var from model.AccountStatus
	err := l.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		from = acct.Status
		if !acct.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: account %s cannot move from %s to %s", model.ErrInvalidStateTransition, id, acct.Status, status)
		}
		if status == model.AccountStatusClosed && (acct.Balance != 0 || acct.BlockedAmount != 0) {
			return model.ErrNonZeroBalance
		}
		acct.Status = status
		acct.UpdatedAt = l.now().UTC()
		updated = acct
		return tx.PutAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("account status changed",
		zap.String("account_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("reason", reason),
	)
	l.events.Send(ctx, notify.NewEvent(notify.EventAccountStatus, updated.OwnerID, map[string]any{
		"from":   from,
		"to":     status,
		"reason": reason,
	}).ForAccount(id))
	return updated, nil
}

// Account returns an account
func (l *Ledger) Account(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return l.store.GetAccount(ctx, id)
}

// AccountsByOwner lists a member's accounts
func (l *Ledger) AccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Account, error) {
	return l.store.AccountsByOwner(ctx, ownerID)
}

// Transaction returns a single posting
func (l *Ledger) Transaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// Transactions returns a page of the account statement, newest first
func (l *Ledger) Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.Transactions(ctx, accountID, limit, offset)
}

// Currency is the catalog currency
func (l *Ledger) Currency() string {
	return l.catalog.Currency
}

// Stats summarizes postings created in [from, to). Zero times leave that
// end of the window open.
func (l *Ledger) Stats(ctx context.Context, from, to time.Time) (*model.TransactionStats, error) {
	totals, err := l.store.PostingTotals(ctx, store.TotalsFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("failed to total postings: %w", err)
	}
	return model.NewTransactionStats(totals), nil
}

// Deposit credits cash into an account, enforcing the account's limits
func (l *Ledger) Deposit(ctx context.Context, accountID uuid.UUID, amount money.Amount, reference, key string) (*model.Transaction, error) {
	return l.PostWithLimits(ctx, Credit(accountID, model.TransactionTypeDeposit, amount).WithReference(reference).WithKey(key))
}

// Withdraw debits cash from an account, enforcing the account's limits
func (l *Ledger) Withdraw(ctx context.Context, accountID uuid.UUID, amount money.Amount, reference, key string) (*model.Transaction, error) {
	return l.PostWithLimits(ctx, Debit(accountID, model.TransactionTypeWithdrawal, amount).WithReference(reference).WithKey(key))
}

// PostWithLimits applies a single posting under the account's period limits
func (l *Ledger) PostWithLimits(ctx context.Context, r PostRequest) (*model.Transaction, error) {
	var posted []model.Transaction
	err := l.Atomic(ctx, []uuid.UUID{r.AccountID}, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx, r.AccountID)
		if err != nil {
			return err
		}
		r.Limits = AccountLimits(acct, l.now())
		posted, err = l.ApplyTx(ctx, tx, Batch{PostOp(r)})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Published(ctx, posted...)
	return &posted[0], nil
}
