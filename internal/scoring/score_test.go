package scoring

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

var params = Params{
	HistoryWindow:        100,
	HighSavingsThreshold: 1000000,
	LowSavingsThreshold:  500000,
}

var asOf = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func txs(completed, reversals int) []model.Transaction {
	out := make([]model.Transaction, 0, completed+reversals)
	for i := 0; i < completed; i++ {
		out = append(out, model.Transaction{Status: model.TransactionStatusCompleted})
	}
	for i := 0; i < reversals; i++ {
		out = append(out, model.Transaction{Status: model.TransactionStatusReversal})
	}
	return out
}

func TestCompute_Factors(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		want  int
	}{
		{
			name:  "empty history",
			input: Input{AsOf: asOf},
			want:  300,
		},
		{
			name:  "all transactions completed",
			input: Input{Transactions: txs(10, 0), AsOf: asOf},
			want:  500,
		},
		{
			name:  "success rate floors",
			input: Input{Transactions: txs(2, 1), AsOf: asOf},
			want:  300 + 133,
		},
		{
			name: "completed loan with one default",
			input: Input{
				Loans: []model.Loan{{Status: model.LoanStatusCompleted}, {Status: model.LoanStatusDefaulted}},
				AsOf:  asOf,
			},
			want: 400,
		},
		{
			name:  "high savings",
			input: Input{SavingsInflow: 1000001, AsOf: asOf},
			want:  400,
		},
		{
			name:  "low savings",
			input: Input{SavingsInflow: 500001, AsOf: asOf},
			want:  350,
		},
		{
			name:  "savings at threshold earns nothing",
			input: Input{SavingsInflow: 500000, AsOf: asOf},
			want:  300,
		},
		{
			name:  "member over a year",
			input: Input{MemberSince: asOf.AddDate(-2, 0, 0), AsOf: asOf},
			want:  350,
		},
		{
			name:  "member seven months",
			input: Input{MemberSince: asOf.AddDate(0, -7, 0), AsOf: asOf},
			want:  325,
		},
		{
			name: "best possible history",
			input: Input{
				Transactions:  txs(100, 0),
				Loans:         []model.Loan{{Status: model.LoanStatusCompleted}},
				SavingsInflow: 5000000,
				MemberSince:   asOf.AddDate(-3, 0, 0),
				AsOf:          asOf,
			},
			want: 800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Compute(tt.input, params)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_UsesNewestWindow(t *testing.T) {
	// newest 100 are completed, older ones are reversals
	history := append(txs(100, 0), txs(0, 50)...)
	score, f := Compute(Input{Transactions: history, AsOf: asOf}, params)
	assert.Equal(t, 500, score)
	assert.Equal(t, 100, f.TransactionsConsidered)
}

func TestCompute_ClampsDefaults(t *testing.T) {
	loans := make([]model.Loan, 20)
	for i := range loans {
		loans[i].Status = model.LoanStatusDefaulted
	}
	score, f := Compute(Input{Loans: loans, AsOf: asOf}, params)
	assert.Equal(t, model.MinCreditScore, score)
	assert.Equal(t, -1000, f.LoanPoints)
}

func TestCompute_AlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []model.LoanStatus{
		model.LoanStatusCompleted, model.LoanStatusDefaulted, model.LoanStatusActive,
	}

	for i := 0; i < 500; i++ {
		in := Input{
			Transactions:  txs(rng.Intn(150), rng.Intn(150)),
			SavingsInflow: money.Amount(rng.Int63n(5000000)),
			MemberSince:   asOf.AddDate(0, -rng.Intn(60), 0),
			AsOf:          asOf,
		}
		for j := rng.Intn(10); j > 0; j-- {
			in.Loans = append(in.Loans, model.Loan{Status: statuses[rng.Intn(len(statuses))]})
		}
		rng.Shuffle(len(in.Transactions), func(a, b int) {
			in.Transactions[a], in.Transactions[b] = in.Transactions[b], in.Transactions[a]
		})

		score, _ := Compute(in, params)
		require.GreaterOrEqual(t, score, model.MinCreditScore)
		require.LessOrEqual(t, score, model.MaxCreditScore)
	}
}

func TestPricingTable_Price(t *testing.T) {
	table := DefaultPricing()
	base := decimal.NewFromInt(12)

	tests := []struct {
		score int
		want  string
	}{
		{score: 450, want: "17"},
		{score: 500, want: "14"},
		{score: 649, want: "14"},
		{score: 650, want: "12"},
		{score: 750, want: "12"},
		{score: 751, want: "11"},
	}
	for _, tt := range tests {
		got := table.Price(base, tt.score)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "score %d: got %s want %s", tt.score, got, tt.want)
	}

	assert.True(t, table.Price(decimal.NewFromFloat(0.5), 800).IsZero(), "rate floors at zero")
	assert.True(t, PricingTable(nil).Price(base, 300).Equal(base))
}

type fakeHistory struct {
	txs      []model.Transaction
	loans    []model.Loan
	inflow   money.Amount
	since    time.Time
	sinceErr error
}

func (f *fakeHistory) RecentTransactions(_ context.Context, _ uuid.UUID, n int) ([]model.Transaction, error) {
	if len(f.txs) > n {
		return f.txs[:n], nil
	}
	return f.txs, nil
}

func (f *fakeHistory) Loans(context.Context, store.LoanFilter) ([]model.Loan, error) {
	return f.loans, nil
}

func (f *fakeHistory) SavingsInflow(context.Context, uuid.UUID) (money.Amount, error) {
	return f.inflow, nil
}

func (f *fakeHistory) MemberSince(context.Context, uuid.UUID) (time.Time, error) {
	return f.since, f.sinceErr
}

type fakeRecorder struct {
	saved []*model.CreditScoreSnapshot
	err   error
}

func (f *fakeRecorder) SaveScore(_ context.Context, s *model.CreditScoreSnapshot) error {
	f.saved = append(f.saved, s)
	return f.err
}

func (f *fakeRecorder) LatestScore(context.Context, uuid.UUID) (*model.CreditScoreSnapshot, error) {
	if len(f.saved) == 0 {
		return nil, errors.New("none")
	}
	return f.saved[len(f.saved)-1], nil
}

func TestEngine_Score(t *testing.T) {
	h := &fakeHistory{
		txs:    txs(4, 0),
		loans:  []model.Loan{{Status: model.LoanStatusCompleted}},
		inflow: 2000000,
		since:  asOf.AddDate(-1, -1, 0),
	}
	rec := &fakeRecorder{}
	subject := uuid.New()

	e := NewEngine(h, params, WithRecorder(rec), WithClock(func() time.Time { return asOf }))
	snap, err := e.Score(context.Background(), subject)
	require.NoError(t, err)

	assert.Equal(t, 800, snap.Score)
	assert.Equal(t, subject, snap.SubjectID)
	assert.Equal(t, asOf, snap.ComputedAt)
	require.Len(t, rec.saved, 1)
	assert.Equal(t, snap.ID, rec.saved[0].ID)
}

func TestEngine_Score_NoAccountsAndRecorderFailure(t *testing.T) {
	h := &fakeHistory{sinceErr: model.ErrAccountNotFound}
	rec := &fakeRecorder{err: errors.New("db down")}

	e := NewEngine(h, params, WithRecorder(rec))
	snap, err := e.Score(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 300, snap.Score)
}
