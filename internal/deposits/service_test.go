package deposits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/repository/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	svc    *Service
	ledger *ledger.Ledger
	clock  *clock
	owner  uuid.UUID
	acct   *model.Account
}

func newEnv(t *testing.T, funds money.Amount) *env {
	t.Helper()
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	s := memory.New()
	l := ledger.New(s, policy.Default(), ledger.WithClock(c.Now))
	svc := NewService(l, s, policy.Default(), WithClock(c.Now))

	owner := uuid.New()
	acct, err := l.OpenAccount(context.Background(), model.OpenAccountRequest{OwnerID: owner, Product: "personal", Currency: "KES"})
	require.NoError(t, err)
	if funds > 0 {
		_, err = l.Deposit(context.Background(), acct.ID, funds, "opening balance", "")
		require.NoError(t, err)
	}
	return &env{svc: svc, ledger: l, clock: c, owner: owner, acct: acct}
}

func (e *env) account(t *testing.T) *model.Account {
	t.Helper()
	a, err := e.ledger.Account(context.Background(), e.acct.ID)
	require.NoError(t, err)
	return a
}

func (e *env) open(t *testing.T, amount string, autoRenew bool) *model.FixedDeposit {
	t.Helper()
	d, err := e.svc.Open(context.Background(), e.owner, model.OpenDepositRequest{
		AccountID:    e.acct.ID,
		Amount:       amount,
		InterestRate: "8",
		TermMonths:   12,
		AutoRenew:    autoRenew,
	})
	require.NoError(t, err)
	return d
}

func TestInterest(t *testing.T) {
	tests := []struct {
		principal money.Amount
		rate      string
		term      int
		want      money.Amount
	}{
		{5000000, "8", 12, 400000},
		{5000000, "8", 6, 200000},
		{100000, "7.5", 3, 1875},
		{333, "10", 1, 3},
		{5000000, "0", 12, 0},
	}
	for _, tt := range tests {
		got := Interest(tt.principal, decimal.RequireFromString(tt.rate), tt.term)
		assert.Equal(t, tt.want, got, "%d at %s%% for %d months", tt.principal, tt.rate, tt.term)
	}
}

func TestOpen_BlocksPrincipal(t *testing.T) {
	e := newEnv(t, 6000000)
	d := e.open(t, "50000.00", false)

	assert.Equal(t, model.DepositStatusActive, d.Status)
	assert.Equal(t, money.Amount(400000), d.InterestAmount)
	assert.Equal(t, money.Amount(5400000), d.MaturityValue)
	assert.Equal(t, e.clock.Now().AddDate(0, 12, 0), d.MaturityDate)
	assert.True(t, decimal.NewFromInt(2).Equal(d.PenaltyRate))

	a := e.account(t)
	assert.Equal(t, money.Amount(6000000), a.Balance)
	assert.Equal(t, money.Amount(5000000), a.BlockedAmount)
	assert.Equal(t, money.Amount(1000000), a.AvailableBalance())

	_, err := e.ledger.Withdraw(context.Background(), e.acct.ID, 1000001, "", "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
}

func TestOpen_Validation(t *testing.T) {
	e := newEnv(t, 100000)
	ctx := context.Background()

	_, err := e.svc.Open(ctx, e.owner, model.OpenDepositRequest{AccountID: e.acct.ID, Amount: "100.00", TermMonths: 61})
	assert.ErrorIs(t, err, model.ErrInvalidTerm)

	_, err = e.svc.Open(ctx, e.owner, model.OpenDepositRequest{AccountID: e.acct.ID, Amount: "100.00", TermMonths: 12, InterestRate: "-2"})
	assert.ErrorIs(t, err, model.ErrInvalidRate)

	_, err = e.svc.Open(ctx, uuid.New(), model.OpenDepositRequest{AccountID: e.acct.ID, Amount: "100.00", TermMonths: 12})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	_, err = e.svc.Open(ctx, e.owner, model.OpenDepositRequest{AccountID: e.acct.ID, Amount: "5000.00", TermMonths: 12})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	deposits, err := e.svc.ByAccount(ctx, e.acct.ID)
	require.NoError(t, err)
	assert.Empty(t, deposits)
	assert.Equal(t, money.Amount(0), e.account(t).BlockedAmount)
}

func TestOpen_DefaultRate(t *testing.T) {
	e := newEnv(t, 100000)
	d, err := e.svc.Open(context.Background(), e.owner, model.OpenDepositRequest{AccountID: e.acct.ID, Amount: "1000.00", TermMonths: 6})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(8).Equal(d.InterestRate))
}

func TestWithdrawEarly(t *testing.T) {
	e := newEnv(t, 5000000)
	d := e.open(t, "50000.00", false)
	e.clock.Advance(90 * 24 * time.Hour)

	closed, err := e.svc.WithdrawEarly(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusWithdrawn, closed.Status)
	assert.Equal(t, money.Amount(0), closed.InterestAmount)

	a := e.account(t)
	assert.Equal(t, money.Amount(4900000), a.Balance)
	assert.Equal(t, money.Amount(0), a.BlockedAmount)

	_, err = e.svc.WithdrawEarly(context.Background(), d.ID)
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
	_, err = e.svc.Mature(context.Background(), d.ID, d.MaturityDate)
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
	assert.Equal(t, money.Amount(4900000), e.account(t).Balance)
}

func TestMature(t *testing.T) {
	e := newEnv(t, 5000000)
	d := e.open(t, "50000.00", false)
	ctx := context.Background()

	_, err := e.svc.Mature(ctx, d.ID, d.MaturityDate.Add(-time.Hour))
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)

	matured, err := e.svc.Mature(ctx, d.ID, d.MaturityDate)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusMatured, matured.Status)
	require.NotNil(t, matured.ClosedAt)

	a := e.account(t)
	assert.Equal(t, money.Amount(5400000), a.Balance)
	assert.Equal(t, money.Amount(0), a.BlockedAmount)
	assert.Equal(t, money.Amount(5400000), a.AvailableBalance())

	_, err = e.svc.Mature(ctx, d.ID, d.MaturityDate.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
	assert.Equal(t, money.Amount(5400000), e.account(t).Balance)

	txs, err := e.ledger.Transactions(ctx, e.acct.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TransactionTypeInterestCredit, txs[0].Type)
	assert.Equal(t, money.Amount(400000), txs[0].Amount)
}

func TestMature_ConcurrentCallsCreditOnce(t *testing.T) {
	e := newEnv(t, 5000000)
	d := e.open(t, "50000.00", false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.svc.Mature(context.Background(), d.ID, d.MaturityDate)
		}()
	}
	wg.Wait()

	assert.Equal(t, money.Amount(5400000), e.account(t).Balance)
}

func TestMature_AutoRenew(t *testing.T) {
	e := newEnv(t, 5000000)
	d := e.open(t, "50000.00", true)

	closed, err := e.svc.Mature(context.Background(), d.ID, d.MaturityDate)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusRenewed, closed.Status)
	require.NotNil(t, closed.RenewedInto)

	next, err := e.svc.Get(context.Background(), *closed.RenewedInto)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusActive, next.Status)
	assert.Equal(t, money.Amount(5400000), next.Principal)
	assert.Equal(t, d.MaturityDate, next.StartDate)
	assert.Equal(t, d.MaturityDate.AddDate(0, 12, 0), next.MaturityDate)
	require.NotNil(t, next.RenewedFrom)
	assert.Equal(t, d.ID, *next.RenewedFrom)

	a := e.account(t)
	assert.Equal(t, money.Amount(5400000), a.Balance)
	assert.Equal(t, money.Amount(5400000), a.BlockedAmount)
}

func TestMatureDue(t *testing.T) {
	e := newEnv(t, 5000000)
	first := e.open(t, "10000.00", false)
	e.clock.Advance(60 * 24 * time.Hour)
	second := e.open(t, "10000.00", false)

	n, err := e.svc.MatureDue(context.Background(), first.MaturityDate)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.svc.MatureDue(context.Background(), first.MaturityDate)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.svc.MatureDue(context.Background(), second.MaturityDate)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStats(t *testing.T) {
	e := newEnv(t, 6000000)
	ctx := context.Background()
	e.open(t, "50000.00", false)

	extra, err := e.ledger.Deposit(ctx, e.acct.ID, 100000, "cash", "")
	require.NoError(t, err)
	_, err = e.ledger.Reverse(ctx, extra.ID, "counterfeit note")
	require.NoError(t, err)

	stats, err := e.svc.Stats(ctx, e.owner)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(6000000), stats.TotalBalance)
	assert.Equal(t, 1, stats.Deposits.Count)
	assert.Equal(t, money.Amount(5000000), stats.Deposits.Amount)
	assert.Equal(t, 0, stats.Goals.Count)
	assert.Equal(t, money.Amount(6000000), stats.MonthlyDeposits)

	e.clock.Advance(31 * 24 * time.Hour)
	stats, err = e.svc.Stats(ctx, e.owner)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), stats.MonthlyDeposits)
	assert.Equal(t, money.Amount(5000000), stats.Deposits.Amount)

	empty, err := e.svc.Stats(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), empty.TotalBalance)
}
