// Package amortization builds reducing-balance loan schedules.
//
// All computation is pure. The outstanding balance and interest are carried
// as unrounded decimals; only the reported amounts are rounded, half-even,
// to the minor unit.
package amortization

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// precision is the number of fractional digits kept in intermediate values
const precision = 40

var (
	one        = decimal.NewFromInt(1)
	monthsRate = decimal.NewFromInt(1200)
)

// Schedule is the result of amortizing a loan
type Schedule struct {
	MonthlyPayment money.Amount        `json:"monthly_payment"`
	TotalPayable   money.Amount        `json:"total_payable"`
	TotalInterest  money.Amount        `json:"total_interest"`
	Installments   []model.Installment `json:"schedule"`
}

// FirstDue is the due date of the first installment
func (s Schedule) FirstDue() *time.Time {
	if len(s.Installments) == 0 {
		return nil
	}
	d := s.Installments[0].DueDate
	return &d
}

// LastDue is the due date of the final installment
func (s Schedule) LastDue() *time.Time {
	if len(s.Installments) == 0 {
		return nil
	}
	d := s.Installments[len(s.Installments)-1].DueDate
	return &d
}

// MonthlyRate converts an annual percentage to a monthly fraction
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.DivRound(monthsRate, precision)
}

// Payment returns the level monthly payment M for principal at the given
// annual rate over n months, rounded to the minor unit
func Payment(principal money.Amount, annualPercent decimal.Decimal, n int) (money.Amount, error) {
	m, err := exactPayment(principal, annualPercent, n)
	if err != nil {
		return 0, err
	}
	return money.FromDecimal(m), nil
}

func exactPayment(principal money.Amount, annualPercent decimal.Decimal, n int) (decimal.Decimal, error) {
	if principal <= 0 {
		return decimal.Zero, fmt.Errorf("%w: principal must be positive", model.ErrInvalidAmount)
	}
	if n <= 0 {
		return decimal.Zero, fmt.Errorf("%w: term must be positive", model.ErrInvalidTerm)
	}
	if annualPercent.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: rate must not be negative", model.ErrInvalidRate)
	}

	p := principal.Decimal()
	r := MonthlyRate(annualPercent)
	if r.IsZero() {
		return p.DivRound(decimal.NewFromInt(int64(n)), precision), nil
	}
	growth := pow(one.Add(r), n)
	return p.Mul(r).Mul(growth).DivRound(growth.Sub(one), precision), nil
}

// Amortize builds the full schedule. Installment i falls due i months after
// start.
//
// The balance is carried unrounded against the exact payment; a row's
// remaining balance is that value rounded, and its principal is the drop in
// rounded balance, so the principal components sum to exactly the principal.
// Every installment but the last pays M, the interest component taking up
// the sub-unit difference. The last installment repays the remaining balance
// plus interest on it. No installment is produced once the balance is zero,
// so a principal smaller than the term in minor units gives a shorter
// schedule.
func Amortize(principal money.Amount, annualPercent decimal.Decimal, n int, start time.Time) (Schedule, error) {
	exact, err := exactPayment(principal, annualPercent, n)
	if err != nil {
		return Schedule{}, err
	}
	m := money.FromDecimal(exact)

	r := MonthlyRate(annualPercent)
	zeroRate := r.IsZero()
	balance := principal.Decimal()
	remaining := principal
	rows := make([]model.Installment, 0, n)
	var total money.Amount

	for i := 1; i <= n && remaining > 0; i++ {
		row := model.Installment{Index: i, DueDate: start.AddDate(0, i, 0)}

		interest := balance.Mul(r).Round(precision)
		balance = balance.Sub(exact.Sub(interest))
		next := money.FromDecimal(balance)

		switch {
		case i == n || next <= 0:
			row.Principal = remaining
			row.Interest = money.FromDecimal(remaining.Decimal().Mul(r))
			next = 0
		case zeroRate:
			row.Principal = remaining - next
		default:
			row.Principal = remaining - next
			row.Interest = money.Max(m-row.Principal, 0)
		}
		row.Payment = row.Principal + row.Interest
		row.RemainingBalance = next
		remaining = next

		total += row.Payment
		rows = append(rows, row)
	}

	return Schedule{
		MonthlyPayment: m,
		TotalPayable:   total,
		TotalInterest:  total - principal,
		Installments:   rows,
	}, nil
}

// pow raises base to a non-negative integer power by squaring, truncating
// intermediates to the working precision
func pow(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Truncate(precision)
		}
		base = base.Mul(base).Truncate(precision)
		n >>= 1
	}
	return result
}
