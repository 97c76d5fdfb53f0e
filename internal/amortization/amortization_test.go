package amortization

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

var start = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

func sumPrincipal(s Schedule) money.Amount {
	var total money.Amount
	for _, row := range s.Installments {
		total += row.Principal
	}
	return total
}

func TestAmortize_HundredThousandAtTwelvePercent(t *testing.T) {
	// 100,000.00 at 12% over 12 months
	s, err := Amortize(10000000, decimal.NewFromInt(12), 12, start)
	require.NoError(t, err)

	assert.Equal(t, money.Amount(888488), s.MonthlyPayment)
	require.Len(t, s.Installments, 12)
	assert.Equal(t, money.Amount(10000000), sumPrincipal(s))
	assert.Equal(t, s.MonthlyPayment*12, s.TotalPayable)
	assert.Equal(t, s.TotalPayable-10000000, s.TotalInterest)

	first := s.Installments[0]
	assert.Equal(t, money.Amount(100000), first.Interest)
	assert.Equal(t, money.Amount(788488), first.Principal)
	assert.Equal(t, money.Amount(9211512), first.RemainingBalance)

	last := s.Installments[11]
	assert.Equal(t, money.Amount(0), last.RemainingBalance)
	assert.Equal(t, s.MonthlyPayment, last.Payment)
}

func TestAmortize_ZeroRate(t *testing.T) {
	s, err := Amortize(1200000, decimal.Zero, 12, start)
	require.NoError(t, err)

	assert.Equal(t, money.Amount(100000), s.MonthlyPayment)
	assert.Equal(t, money.Amount(1200000), s.TotalPayable)
	assert.True(t, s.TotalInterest == 0)
	for _, row := range s.Installments {
		assert.Equal(t, money.Amount(0), row.Interest)
	}
}

func TestAmortize_ZeroRateUnevenSplit(t *testing.T) {
	s, err := Amortize(20000, decimal.Zero, 3, start)
	require.NoError(t, err)

	assert.Equal(t, money.Amount(6667), s.MonthlyPayment)
	assert.Equal(t, money.Amount(6667), s.Installments[0].Payment)
	assert.Equal(t, money.Amount(6666), s.Installments[1].Payment)
	assert.Equal(t, money.Amount(6667), s.Installments[2].Payment)
	assert.Equal(t, money.Amount(20000), s.TotalPayable)
	assert.Equal(t, money.Amount(0), s.TotalInterest)
}

func TestAmortize_OutstandingFortyThousand(t *testing.T) {
	s, err := Amortize(4000000, decimal.NewFromInt(10), 24, start)
	require.NoError(t, err)

	assert.Equal(t, money.Amount(184580), s.MonthlyPayment)
	assert.Equal(t, money.Amount(4000000), sumPrincipal(s))
}

func TestAmortize_DueDates(t *testing.T) {
	s, err := Amortize(100000, decimal.NewFromInt(12), 3, start)
	require.NoError(t, err)

	want := []time.Time{
		start.AddDate(0, 1, 0),
		start.AddDate(0, 2, 0),
		start.AddDate(0, 3, 0),
	}
	for i, row := range s.Installments {
		assert.Equal(t, i+1, row.Index)
		assert.Equal(t, want[i], row.DueDate)
	}
	assert.Equal(t, want[0], *s.FirstDue())
	assert.Equal(t, want[2], *s.LastDue())
}

func TestAmortize_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		principal money.Amount
		rate      decimal.Decimal
		term      int
		want      error
	}{
		{name: "zero principal", principal: 0, rate: decimal.NewFromInt(10), term: 12, want: model.ErrInvalidAmount},
		{name: "negative principal", principal: -5, rate: decimal.NewFromInt(10), term: 12, want: model.ErrInvalidAmount},
		{name: "zero term", principal: 1000, rate: decimal.NewFromInt(10), term: 0, want: model.ErrInvalidTerm},
		{name: "negative rate", principal: 1000, rate: decimal.NewFromInt(-1), term: 12, want: model.ErrInvalidRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Amortize(tt.principal, tt.rate, tt.term, start)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAmortize_LongTermsStayLevel(t *testing.T) {
	tests := []struct {
		name      string
		principal money.Amount
		rate      decimal.Decimal
		term      int
	}{
		{name: "high rate 20 years", principal: 123457, rate: decimal.RequireFromString("29.99"), term: 240},
		{name: "12 percent 30 years", principal: 999999, rate: decimal.NewFromInt(12), term: 360},
		{name: "small principal", principal: 500, rate: decimal.NewFromInt(24), term: 360},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Amortize(tt.principal, tt.rate, tt.term, start)
			require.NoError(t, err)
			require.Len(t, s.Installments, tt.term)

			for _, row := range s.Installments[:tt.term-1] {
				require.Equal(t, s.MonthlyPayment, row.Payment, "installment %d", row.Index)
				require.Positive(t, int64(row.RemainingBalance), "installment %d", row.Index)
			}
			prev := s.Installments[tt.term-2].RemainingBalance
			last := s.Installments[tt.term-1]
			r := MonthlyRate(tt.rate)
			assert.Equal(t, prev, last.Principal)
			assert.Equal(t, money.FromDecimal(prev.Decimal().Mul(r)), last.Interest)
			assert.InDelta(t, int64(s.MonthlyPayment), int64(last.Payment), 1)
		})
	}
}

func TestAmortize_TinyPrincipalStopsAtZero(t *testing.T) {
	s, err := Amortize(3, decimal.NewFromInt(12), 12, start)
	require.NoError(t, err)
	require.NotEmpty(t, s.Installments)
	assert.LessOrEqual(t, len(s.Installments), 12)
	assert.Equal(t, money.Amount(3), sumPrincipal(s))

	for _, row := range s.Installments[:len(s.Installments)-1] {
		assert.Positive(t, int64(row.RemainingBalance))
	}
	assert.Equal(t, money.Amount(0), s.Installments[len(s.Installments)-1].RemainingBalance)
}

func TestAmortize_PrincipalAlwaysSumsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		principal := money.Amount(rng.Int63n(500000000) + 1)
		rate := decimal.New(rng.Int63n(3000), -2) // 0.00 .. 29.99
		term := rng.Intn(360) + 1
		r := MonthlyRate(rate)

		s, err := Amortize(principal, rate, term, start)
		require.NoError(t, err)
		if principal >= money.Amount(term) {
			require.Len(t, s.Installments, term)
		}
		require.LessOrEqual(t, len(s.Installments), term)
		require.Equal(t, principal, sumPrincipal(s), "P=%d rate=%s n=%d", principal, rate, term)

		var total money.Amount
		balance := principal
		for _, row := range s.Installments {
			require.Positive(t, int64(balance), "installment %d billed on a zero balance", row.Index)
			require.GreaterOrEqual(t, int64(row.Principal), int64(0))
			require.GreaterOrEqual(t, int64(row.Interest), int64(0))
			total += row.Payment
			balance = row.RemainingBalance
		}
		require.Equal(t, total, s.TotalPayable)

		last := s.Installments[len(s.Installments)-1]
		require.Equal(t, money.Amount(0), last.RemainingBalance)
		prev := principal
		if len(s.Installments) > 1 {
			prev = s.Installments[len(s.Installments)-2].RemainingBalance
		}
		require.Equal(t, money.FromDecimal(prev.Decimal().Mul(r)), last.Interest, "P=%d rate=%s n=%d", principal, rate, term)
	}
}
