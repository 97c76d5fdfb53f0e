package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

func seedAccount(t *testing.T, s *Store, owner uuid.UUID) *model.Account {
	t.Helper()
	a := &model.Account{
		ID:       uuid.New(),
		OwnerID:  owner,
		Product:  "personal",
		Currency: "KES",
		Status:   model.AccountStatusActive,
		OpenedAt: time.Now().UTC(),
	}
	err := s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
		return tx.PutAccount(ctx, a)
	})
	require.NoError(t, err)
	return a
}

func posting(accountID uuid.UUID, amount money.Amount, key string) *model.Transaction {
	return &model.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: key,
		AccountID:      accountID,
		Type:           model.TransactionTypeDeposit,
		Direction:      model.DirectionCredit,
		Amount:         amount,
		Currency:       "KES",
		Status:         model.TransactionStatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())
	boom := errors.New("boom")

	err := s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx, a.ID)
		require.NoError(t, err)
		acct.Balance = 5000
		require.NoError(t, tx.PutAccount(ctx, acct))
		require.NoError(t, tx.InsertTransaction(ctx, posting(a.ID, 5000, "k1")))

		staged, err := tx.Account(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, money.Amount(5000), staged.Balance)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), got.Balance)

	txs, err := s.Transactions(context.Background(), a.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestAtomic_DuplicateKey(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())
	insert := func(key string) error {
		return s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTransaction(ctx, posting(a.ID, 100, key))
		})
	}

	require.NoError(t, insert("dup"))
	assert.ErrorIs(t, insert("dup"), model.ErrDuplicatePosting)
	require.NoError(t, insert(""))
	require.NoError(t, insert(""))
}

func TestAtomic_RequiresLock(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())

	err := s.Atomic(context.Background(), nil, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Account(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, errNotLocked)
}

func TestAtomic_OpposingLockOrderDoesNotDeadlock(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())
	b := seedAccount(t, s, uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Atomic(context.Background(), []uuid.UUID{a.ID, b.ID}, func(context.Context, store.Tx) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = s.Atomic(context.Background(), []uuid.UUID{b.ID, a.ID}, func(context.Context, store.Tx) error { return nil })
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestAtomic_CancelledWhileWaiting(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(context.Context, store.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Atomic(ctx, []uuid.UUID{a.ID}, func(context.Context, store.Tx) error { return nil })
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)
	close(release)
}

func TestTransactions_NewestFirstWithPaging(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())
	for i := 1; i <= 5; i++ {
		amount := money.Amount(i * 100)
		err := s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTransaction(ctx, posting(a.ID, amount, ""))
		})
		require.NoError(t, err)
	}

	page, err := s.Transactions(context.Background(), a.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, money.Amount(500), page[0].Amount)
	assert.Equal(t, money.Amount(400), page[1].Amount)

	page, err = s.Transactions(context.Background(), a.ID, 10, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, money.Amount(200), page[0].Amount)

	page, err = s.Transactions(context.Background(), a.ID, 10, 9)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSumPostings_IncludesStagedAndRespectsWindow(t *testing.T) {
	s := New()
	a := seedAccount(t, s, uuid.New())
	old := posting(a.ID, 700, "")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, old); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, posting(a.ID, 300, ""))
	}))

	err := s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTransaction(ctx, posting(a.ID, 200, "")))
		sum, err := tx.SumPostings(ctx, store.PostingFilter{
			AccountID: a.ID,
			Type:      model.TransactionTypeDeposit,
			Direction: model.DirectionCredit,
			From:      time.Now().Add(-time.Hour),
			To:        time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(500), sum)
		return nil
	})
	require.NoError(t, err)
}

func TestHistory(t *testing.T) {
	s := New()
	owner := uuid.New()
	a := seedAccount(t, s, owner)
	other := seedAccount(t, s, uuid.New())

	require.NoError(t, s.Atomic(context.Background(), []uuid.UUID{a.ID, other.ID}, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, posting(a.ID, 1000, "")); err != nil {
			return err
		}
		interest := posting(a.ID, 50, "")
		interest.Type = model.TransactionTypeInterestCredit
		if err := tx.InsertTransaction(ctx, interest); err != nil {
			return err
		}
		fee := posting(a.ID, 20, "")
		fee.Type = model.TransactionTypeFeeCharge
		fee.Direction = model.DirectionDebit
		if err := tx.InsertTransaction(ctx, fee); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, posting(other.ID, 9999, ""))
	}))

	inflow, err := s.SavingsInflow(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1050), inflow)

	recent, err := s.RecentTransactions(context.Background(), owner, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.TransactionTypeFeeCharge, recent[0].Type)

	since, err := s.MemberSince(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, a.OpenedAt, since)

	_, err = s.MemberSince(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	// a reversed deposit no longer counts as saved
	require.NoError(t, s.Atomic(context.Background(), []uuid.UUID{a.ID}, func(ctx context.Context, tx store.Tx) error {
		deposit := posting(a.ID, 300, "")
		if err := tx.InsertTransaction(ctx, deposit); err != nil {
			return err
		}
		reversal := posting(a.ID, 300, "")
		reversal.Direction = model.DirectionDebit
		reversal.Status = model.TransactionStatusReversal
		reversal.ReversalOf = &deposit.ID
		return tx.InsertTransaction(ctx, reversal)
	}))
	inflow, err = s.SavingsInflow(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1050), inflow)
}

func TestScores(t *testing.T) {
	s := New()
	subject := uuid.New()

	_, err := s.LatestScore(context.Background(), subject)
	assert.ErrorIs(t, err, model.ErrScoreNotFound)

	require.NoError(t, s.SaveScore(context.Background(), &model.CreditScoreSnapshot{ID: uuid.New(), SubjectID: subject, Score: 500}))
	require.NoError(t, s.SaveScore(context.Background(), &model.CreditScoreSnapshot{ID: uuid.New(), SubjectID: subject, Score: 640}))

	latest, err := s.LatestScore(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 640, latest.Score)
}

func TestLoansFilter(t *testing.T) {
	s := New()
	borrower := uuid.New()
	put := func(l *model.Loan) {
		require.NoError(t, s.Atomic(context.Background(), []uuid.UUID{l.ID}, func(ctx context.Context, tx store.Tx) error {
			return tx.PutLoan(ctx, l)
		}))
	}
	put(&model.Loan{ID: uuid.New(), BorrowerID: borrower, Status: model.LoanStatusActive})
	put(&model.Loan{ID: uuid.New(), BorrowerID: borrower, Status: model.LoanStatusCompleted})
	put(&model.Loan{ID: uuid.New(), BorrowerID: uuid.New(), Status: model.LoanStatusActive})

	all, err := s.Loans(context.Background(), store.LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := s.Loans(context.Background(), store.LoanFilter{BorrowerID: borrower})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	active, err := s.Loans(context.Background(), store.LoanFilter{BorrowerID: borrower, Statuses: []model.LoanStatus{model.LoanStatusActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.LoanStatusActive, active[0].Status)
}

func TestInvestments_StagedUntilCommit(t *testing.T) {
	s := New()
	owner := uuid.New()
	a := seedAccount(t, s, owner)
	inv := &model.Investment{
		ID:           uuid.New(),
		OwnerID:      owner,
		AccountID:    a.ID,
		Product:      "money_market",
		Type:         model.InvestmentTypeMutualFunds,
		Amount:       500000,
		CurrentValue: 500000,
		Status:       model.InvestmentStatusActive,
	}

	err := s.Atomic(context.Background(), []uuid.UUID{inv.ID}, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.PutInvestment(ctx, inv))
		_, err := s.GetInvestment(ctx, inv.ID)
		assert.ErrorIs(t, err, model.ErrInvestmentNotFound)

		staged, err := tx.Investment(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, money.Amount(500000), staged.CurrentValue)
		return nil
	})
	require.NoError(t, err)

	err = s.Atomic(context.Background(), nil, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Investment(ctx, inv.ID)
		return err
	})
	assert.ErrorIs(t, err, errNotLocked)

	held, err := s.InvestmentsByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, inv.ID, held[0].ID)

	none, err := s.InvestmentsByOwner(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostingTotals_GroupsAndFilters(t *testing.T) {
	s := New()
	owner := uuid.New()
	a := seedAccount(t, s, owner)
	b := seedAccount(t, s, uuid.New())

	old := posting(a.ID, 700, "")
	old.CreatedAt = time.Now().UTC().AddDate(0, -2, 0)
	withdrawal := posting(a.ID, 200, "")
	withdrawal.Type = model.TransactionTypeWithdrawal
	withdrawal.Direction = model.DirectionDebit
	reversal := posting(a.ID, 300, "")
	reversal.Direction = model.DirectionDebit
	reversal.Status = model.TransactionStatusReversal

	err := s.Atomic(context.Background(), []uuid.UUID{a.ID, b.ID}, func(ctx context.Context, tx store.Tx) error {
		for _, p := range []*model.Transaction{
			old,
			posting(a.ID, 300, ""),
			posting(a.ID, 100, ""),
			withdrawal,
			reversal,
			posting(b.ID, 5000, ""),
		} {
			if err := tx.InsertTransaction(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := s.PostingTotals(context.Background(), store.TotalsFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.PostingTotal{
		Type: model.TransactionTypeDeposit, Direction: model.DirectionCredit,
		Status: model.TransactionStatusCompleted, Count: 4, Amount: 6100,
	}, all[0])

	recent, err := s.PostingTotals(context.Background(), store.TotalsFilter{
		OwnerID: owner,
		From:    time.Now().UTC().AddDate(0, 0, -1),
	})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Count)
	assert.Equal(t, money.Amount(400), recent[0].Amount)
	assert.Equal(t, model.TransactionStatusReversal, recent[1].Status)
	assert.Equal(t, model.TransactionTypeWithdrawal, recent[2].Type)
}
