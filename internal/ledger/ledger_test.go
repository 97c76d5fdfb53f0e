package ledger_test

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/repository/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, *memory.Store, *recorder) {
	t.Helper()
	s := memory.New()
	rec := &recorder{}
	l := ledger.New(s, policy.Default(),
		ledger.WithNotifier(notify.NewDispatcher(rec, zap.NewNop())),
		ledger.WithClock(func() time.Time { return fixedNow }),
	)
	return l, s, rec
}

func open(t *testing.T, l *ledger.Ledger, product, currency string) *model.Account {
	t.Helper()
	a, err := l.OpenAccount(context.Background(), model.OpenAccountRequest{
		OwnerID:  uuid.New(),
		Product:  product,
		Currency: currency,
	})
	require.NoError(t, err)
	if a.Status == model.AccountStatusPending {
		a, err = l.SetStatus(context.Background(), a.ID, model.AccountStatusActive, "approved")
		require.NoError(t, err)
	}
	return a
}

func fund(t *testing.T, l *ledger.Ledger, id uuid.UUID, amount money.Amount) {
	t.Helper()
	_, err := l.Post(context.Background(), ledger.Credit(id, model.TransactionTypeDeposit, amount))
	require.NoError(t, err)
}

func balance(t *testing.T, l *ledger.Ledger, id uuid.UUID) money.Amount {
	t.Helper()
	a, err := l.Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func TestOpenAccount(t *testing.T) {
	l, _, rec := newLedger(t)

	personal, err := l.OpenAccount(context.Background(), model.OpenAccountRequest{OwnerID: uuid.New(), Product: "personal", Currency: "kes"})
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, personal.Status)
	assert.Equal(t, "KES", personal.Currency)

	group, err := l.OpenAccount(context.Background(), model.OpenAccountRequest{OwnerID: uuid.New(), Product: "women_group", Currency: "KES"})
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusPending, group.Status)
	assert.Equal(t, money.Amount(10000), group.MinimumBalance)

	_, err = l.OpenAccount(context.Background(), model.OpenAccountRequest{OwnerID: uuid.New(), Product: "gold", Currency: "KES"})
	assert.ErrorIs(t, err, model.ErrUnknownProduct)

	assert.Equal(t, 2, rec.count(notify.EventAccountOpened))
}

func TestPost_BalanceEqualsReplayOfPostings(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		amount := money.Amount(rng.Intn(50000) + 1)
		if rng.Intn(3) == 0 {
			_, _ = l.Withdraw(ctx, a.ID, amount, "", "")
		} else {
			_, err := l.Deposit(ctx, a.ID, amount, "", "")
			require.NoError(t, err)
		}
	}

	txs, err := l.Transactions(ctx, a.ID, 1000, 0)
	require.NoError(t, err)

	var replay money.Amount
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		assert.Equal(t, replay, tx.BalanceBefore)
		replay += tx.SignedAmount()
		assert.Equal(t, replay, tx.BalanceAfter)
		assert.GreaterOrEqual(t, int64(tx.BalanceAfter), int64(0))
	}
	assert.Equal(t, replay, balance(t, l, a.ID))
}

func TestPost_RejectedPostingLeavesNoTrace(t *testing.T) {
	l, _, rec := newLedger(t)
	a := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 1000)
	posted := rec.count(notify.EventTransactionPosted)

	_, err := l.Withdraw(context.Background(), a.ID, 1001, "", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = l.Post(context.Background(), ledger.Credit(a.ID, model.TransactionTypeDeposit, 0))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	assert.Equal(t, money.Amount(1000), balance(t, l, a.ID))
	txs, err := l.Transactions(context.Background(), a.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, posted, rec.count(notify.EventTransactionPosted))
}

func TestPost_MinimumBalance(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "youth_group", "KES")
	fund(t, l, a.ID, 50000)

	_, err := l.Withdraw(context.Background(), a.ID, 45000, "", "")
	assert.ErrorIs(t, err, model.ErrBelowMinimumBalance)

	_, err = l.Withdraw(context.Background(), a.ID, 40000, "", "")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(10000), balance(t, l, a.ID))
}

func TestPost_FrozenAccountsAcceptAdministrativeOnly(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "youth_group", "KES")
	fund(t, l, a.ID, 20000)

	_, err := l.SetStatus(context.Background(), a.ID, model.AccountStatusFrozen, "investigation")
	require.NoError(t, err)

	_, err = l.Deposit(context.Background(), a.ID, 100, "", "")
	assert.ErrorIs(t, err, model.ErrAccountNotActive)

	correction := ledger.Debit(a.ID, model.TransactionTypeFeeCharge, 15000)
	correction.Administrative = true
	_, err = l.Post(context.Background(), correction)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(5000), balance(t, l, a.ID))
}

func TestPost_DailyLimit(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "joint_savings", "KES")
	fund(t, l, a.ID, 30000000)

	_, err := l.Withdraw(context.Background(), a.ID, 6000000, "", "")
	require.NoError(t, err)

	_, err = l.Withdraw(context.Background(), a.ID, 5000000, "", "")
	assert.ErrorIs(t, err, model.ErrLimitExceeded)

	_, err = l.Withdraw(context.Background(), a.ID, 4000000, "", "")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(20000000), balance(t, l, a.ID))
}

func TestTransfer_DailyLimit(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "joint_savings", "KES")
	b := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 30000000)
	ctx := context.Background()

	_, err := l.Transfer(ctx, ledger.TransferRequest{FromAccountID: a.ID, ToAccountID: b.ID, Amount: 6000000})
	require.NoError(t, err)

	_, err = l.Transfer(ctx, ledger.TransferRequest{FromAccountID: a.ID, ToAccountID: b.ID, Amount: 5000000})
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	assert.Equal(t, money.Amount(6000000), balance(t, l, b.ID))

	// limits are per posting type; cash withdrawals have their own cap
	_, err = l.Withdraw(ctx, a.ID, 5000000, "", "")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(19000000), balance(t, l, a.ID))
}

func TestPost_IdempotencyKey(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")

	_, err := l.Deposit(context.Background(), a.ID, 500, "", "cash-001")
	require.NoError(t, err)
	_, err = l.Deposit(context.Background(), a.ID, 500, "", "cash-001")
	assert.ErrorIs(t, err, model.ErrDuplicatePosting)
	assert.Equal(t, money.Amount(500), balance(t, l, a.ID))
}

func TestBlockAndUnblock(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 10000)
	ctx := context.Background()

	require.NoError(t, l.Block(ctx, a.ID, 6000))
	_, err := l.Withdraw(ctx, a.ID, 5000, "", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.ErrorIs(t, l.Block(ctx, a.ID, 4001), model.ErrInsufficientFunds)

	assert.ErrorIs(t, l.Unblock(ctx, a.ID, 7000), model.ErrInvalidAmount)
	require.NoError(t, l.Unblock(ctx, a.ID, 6000))

	_, err = l.Withdraw(ctx, a.ID, 5000, "", "")
	require.NoError(t, err)

	acct, err := l.Account(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(5000), acct.Balance)
	assert.Equal(t, money.Amount(0), acct.BlockedAmount)
}

func TestApply_BatchIsAllOrNothing(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	b := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 1000)

	_, err := l.Apply(context.Background(), ledger.Batch{
		ledger.PostOp(ledger.Credit(b.ID, model.TransactionTypeDeposit, 500)),
		ledger.BlockOp(a.ID, 400),
		ledger.PostOp(ledger.Debit(a.ID, model.TransactionTypeWithdrawal, 700)),
	})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	assert.Equal(t, money.Amount(0), balance(t, l, b.ID))
	acct, err := l.Account(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1000), acct.Balance)
	assert.Equal(t, money.Amount(0), acct.BlockedAmount)
}

func TestTransfer(t *testing.T) {
	l, _, _ := newLedger(t)
	from := open(t, l, "personal", "KES")
	to := open(t, l, "personal", "KES")
	usd := open(t, l, "personal", "USD")
	fund(t, l, from.ID, 1000)
	ctx := context.Background()

	_, err := l.Transfer(ctx, ledger.TransferRequest{FromAccountID: from.ID, ToAccountID: to.ID, Amount: 2000})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, money.Amount(1000), balance(t, l, from.ID))
	assert.Equal(t, money.Amount(0), balance(t, l, to.ID))

	_, err = l.Transfer(ctx, ledger.TransferRequest{FromAccountID: from.ID, ToAccountID: usd.ID, Amount: 100})
	assert.ErrorIs(t, err, model.ErrCurrencyMismatch)

	_, err = l.Transfer(ctx, ledger.TransferRequest{FromAccountID: from.ID, ToAccountID: from.ID, Amount: 100})
	assert.ErrorIs(t, err, model.ErrSameAccount)

	posted, err := l.Transfer(ctx, ledger.TransferRequest{FromAccountID: from.ID, ToAccountID: to.ID, Amount: 400, IdempotencyKey: "t-1"})
	require.NoError(t, err)
	require.Len(t, posted, 2)
	assert.Equal(t, model.DirectionDebit, posted[0].Direction)
	assert.Equal(t, posted[0].Metadata["transfer_id"], posted[1].Metadata["transfer_id"])
	assert.Equal(t, money.Amount(600), balance(t, l, from.ID))
	assert.Equal(t, money.Amount(400), balance(t, l, to.ID))

	_, err = l.Transfer(ctx, ledger.TransferRequest{FromAccountID: from.ID, ToAccountID: to.ID, Amount: 400, IdempotencyKey: "t-1"})
	assert.ErrorIs(t, err, model.ErrDuplicatePosting)
	assert.Equal(t, money.Amount(600), balance(t, l, from.ID))
}

func TestReverse(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	ctx := context.Background()

	dep, err := l.Deposit(ctx, a.ID, 2500, "teller", "")
	require.NoError(t, err)

	rev, err := l.Reverse(ctx, dep.ID, "keyed twice")
	require.NoError(t, err)
	assert.Equal(t, model.DirectionDebit, rev.Direction)
	assert.Equal(t, model.TransactionStatusReversal, rev.Status)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, dep.ID, *rev.ReversalOf)
	assert.Equal(t, money.Amount(0), balance(t, l, a.ID))

	_, err = l.Reverse(ctx, dep.ID, "again")
	assert.ErrorIs(t, err, model.ErrAlreadyReversed)

	_, err = l.Reverse(ctx, rev.ID, "undo")
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)

	_, err = l.Reverse(ctx, uuid.New(), "missing")
	assert.ErrorIs(t, err, model.ErrTransactionNotFound)
}

func TestStats(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	a := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 90000)
	_, err := l.Withdraw(ctx, a.ID, 30000, "", "")
	require.NoError(t, err)
	dep, err := l.Deposit(ctx, a.ID, 60000, "", "")
	require.NoError(t, err)
	_, err = l.Reverse(ctx, dep.ID, "duplicate")
	require.NoError(t, err)

	stats, err := l.Stats(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, model.TypeTotal{Count: 2, Amount: 150000}, stats.ByType[model.TransactionTypeDeposit])
	assert.Equal(t, model.TypeTotal{Count: 1, Amount: 30000}, stats.ByType[model.TransactionTypeWithdrawal])
	assert.Equal(t, model.TypeTotal{Count: 1, Amount: 60000}, stats.Reversals)
	assert.Equal(t, money.Amount(60000), stats.Average)

	later, err := l.Stats(ctx, fixedNow.Add(time.Second), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, later.Total)
	assert.Zero(t, later.Average)
}

func TestSetStatus(t *testing.T) {
	l, _, rec := newLedger(t)
	ctx := context.Background()
	a := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 100)

	_, err := l.SetStatus(ctx, a.ID, model.AccountStatusClosed, "member left")
	assert.ErrorIs(t, err, model.ErrNonZeroBalance)

	_, err = l.Withdraw(ctx, a.ID, 100, "", "")
	require.NoError(t, err)
	closed, err := l.SetStatus(ctx, a.ID, model.AccountStatusClosed, "member left")
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusClosed, closed.Status)

	_, err = l.SetStatus(ctx, a.ID, model.AccountStatusActive, "reopen")
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)

	_, err = l.SetStatus(ctx, a.ID, "dormant", "")
	assert.ErrorIs(t, err, model.ErrInvalidStatus)

	_, err = l.SetStatus(ctx, uuid.New(), model.AccountStatusFrozen, "")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	assert.Equal(t, 1, rec.count(notify.EventAccountStatus))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 2000)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(context.Background(), a.ID, 100, "", "")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, model.ErrInsufficientFunds):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), ok.Load())
	assert.Equal(t, int32(30), insufficient.Load())
	assert.Equal(t, money.Amount(0), balance(t, l, a.ID))
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	l, _, _ := newLedger(t)
	a := open(t, l, "personal", "KES")
	b := open(t, l, "personal", "KES")
	fund(t, l, a.ID, 5000)
	fund(t, l, b.ID, 5000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a.ID, b.ID
			if i%2 == 1 {
				from, to = to, from
			}
			_, _ = l.Transfer(context.Background(), ledger.TransferRequest{FromAccountID: from, ToAccountID: to, Amount: 300})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, money.Amount(10000), balance(t, l, a.ID)+balance(t, l, b.ID))
}
