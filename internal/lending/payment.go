package lending

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// allocation is how a repayment splits across the schedule
type allocation struct {
	principal money.Amount
	interest  money.Amount
	index     int
	credit    money.Amount
}

// allocate applies amount to the schedule from the current installment,
// interest before principal within each installment. amount must not
// exceed AmountOwed.
func allocate(l *model.Loan, amount money.Amount) allocation {
	a := allocation{index: l.InstallmentsPaid, credit: l.InstallmentCredit}
	left := amount

	for left > 0 && a.index < len(l.Schedule) {
		inst := l.Schedule[a.index]
		interestDue := money.Max(inst.Interest-a.credit, 0)
		principalDue := inst.Principal - money.Max(a.credit-inst.Interest, 0)

		i := money.Min(left, interestDue)
		left -= i
		p := money.Min(left, principalDue)
		left -= p

		a.interest += i
		a.principal += p
		a.credit += i + p
		if a.credit >= inst.Payment {
			a.index++
			a.credit = 0
		}
	}
	return a
}

// dateOf truncates t to its calendar day in UTC
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Pay applies a repayment. A payment made after the current due date
// carries a late fee of amount × late fee rate, debited from the same
// account in the same unit as the repayment.
func (s *Service) Pay(ctx context.Context, id uuid.UUID, req model.LoanPaymentRequest) (*model.LoanPayment, error) {
	current, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	amount, err := money.Parse(req.Amount, money.Scale(current.Currency))
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}

	from := current.AccountID
	if req.FromAccountID != nil && *req.FromAccountID != uuid.Nil {
		from = *req.FromAccountID
	}
	paidAt := s.now().UTC()
	if req.PaymentDate != nil {
		paidAt = req.PaymentDate.UTC()
	}

	var payment *model.LoanPayment
	var loan *model.Loan
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, from}, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.Loan(ctx, id)
		if err != nil {
			return err
		}
		if l.Status != model.LoanStatusActive {
			return fmt.Errorf("%w: loan %s is %s", model.ErrInvalidStateTransition, id, l.Status)
		}
		if from != l.AccountID {
			payer, err := tx.Account(ctx, from)
			if err != nil {
				return err
			}
			if payer.OwnerID != l.BorrowerID {
				return model.ErrAccountNotFound
			}
		}
		if amount > l.AmountOwed() {
			return model.ErrOverpayment
		}

		var lateFee money.Amount
		if l.DueDate != nil && dateOf(paidAt).After(dateOf(*l.DueDate)) {
			lateFee = amount.MulRate(s.catalog.Fees.LateFeeRate)
		}

		seq := l.PaymentCount + 1
		meta := map[string]any{"loan_id": id.String(), "payment": seq}
		batch := ledger.Batch{ledger.PostOp(
			ledger.Debit(from, model.TransactionTypeLoanRepayment, amount).
				WithKey(paymentKey(id, seq)).
				WithReference("loan repayment").
				WithMetadata(meta),
		)}
		if lateFee > 0 {
			batch = append(batch, ledger.PostOp(
				ledger.Debit(from, model.TransactionTypeFeeCharge, lateFee).
					WithKey(paymentKey(id, seq)+":late_fee").
					WithReference("late payment fee").
					WithMetadata(meta),
			))
		}
		posted, err = s.ledger.ApplyTx(ctx, tx, batch)
		if err != nil {
			return conflictOnDuplicate(err)
		}

		alloc := allocate(l, amount)
		now := s.now().UTC()
		payment = &model.LoanPayment{
			ID:               uuid.New(),
			LoanID:           id,
			TransactionID:    posted[0].ID,
			Amount:           amount,
			Principal:        alloc.principal,
			Interest:         alloc.interest,
			LateFee:          lateFee,
			InstallmentIndex: l.InstallmentsPaid + 1,
			DueDate:          l.DueDate,
			PaidDate:         paidAt,
			CreatedAt:        now,
		}
		if err := tx.InsertLoanPayment(ctx, payment); err != nil {
			return err
		}

		l.PaidPrincipal += alloc.principal
		l.PaidInterest += alloc.interest
		l.PaidFees += lateFee
		l.OutstandingPrincipal -= alloc.principal
		l.InstallmentsPaid = alloc.index
		l.InstallmentCredit = alloc.credit
		l.PaymentCount = seq
		l.UpdatedAt = now
		if inst := l.CurrentInstallment(); inst != nil {
			due := inst.DueDate
			l.DueDate = &due
		} else {
			l.DueDate = nil
			l.OutstandingPrincipal = 0
			l.Status = model.LoanStatusCompleted
			l.ClosedAt = &now
		}
		loan = l
		return tx.PutLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	scale := money.Scale(loan.Currency)
	s.ledger.Notify(ctx, notify.NewEvent(notify.EventLoanPayment, loan.BorrowerID, map[string]any{
		"loan_id":     id.String(),
		"amount":      payment.Amount.Format(scale),
		"principal":   payment.Principal.Format(scale),
		"interest":    payment.Interest.Format(scale),
		"late_fee":    payment.LateFee.Format(scale),
		"outstanding": loan.OutstandingPrincipal.Format(scale),
	}).ForAccount(loan.AccountID))
	if loan.Status == model.LoanStatusCompleted {
		s.transitioned(ctx, loan, notify.EventLoanCompleted, nil)
	}
	return payment, nil
}
