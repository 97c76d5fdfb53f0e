package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

const loanColumns = `id, borrower_id, account_id, product, currency, principal, interest_rate, term_months,
	monthly_payment, total_payable, total_interest, status, credit_score_at_application, purpose,
	due_date, maturity_date, outstanding_principal, paid_principal, paid_interest, paid_fees,
	installments_paid, installment_credit, payment_count, schedule, rejection_reason,
	restructure_ref, disbursement_tx_id, applied_at, approved_at, closed_at, updated_at`

func scanLoan(row pgx.Row) (*model.Loan, error) {
	l := &model.Loan{}
	err := row.Scan(
		&l.ID,
		&l.BorrowerID,
		&l.AccountID,
		&l.Product,
		&l.Currency,
		&l.Principal,
		&l.InterestRate,
		&l.TermMonths,
		&l.MonthlyPayment,
		&l.TotalPayable,
		&l.TotalInterest,
		&l.Status,
		&l.CreditScoreAtApplication,
		&l.Purpose,
		&l.DueDate,
		&l.MaturityDate,
		&l.OutstandingPrincipal,
		&l.PaidPrincipal,
		&l.PaidInterest,
		&l.PaidFees,
		&l.InstallmentsPaid,
		&l.InstallmentCredit,
		&l.PaymentCount,
		&l.Schedule,
		&l.RejectionReason,
		&l.RestructureRef,
		&l.DisbursementTxID,
		&l.AppliedAt,
		&l.ApprovedAt,
		&l.ClosedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}
	return l, nil
}

func getLoan(ctx context.Context, q querier, id uuid.UUID) (*model.Loan, error) {
	return scanLoan(q.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
}

// GetLoan implements store.Reader
func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	return getLoan(ctx, s.db, id)
}

// Loans implements store.Reader and store.History
func (s *Store) Loans(ctx context.Context, f store.LoanFilter) ([]model.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE 1 = 1`
	var args []any
	if f.BorrowerID != uuid.Nil {
		args = append(args, f.BorrowerID)
		query += fmt.Sprintf(" AND borrower_id = $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY applied_at, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return collect(rows, scanLoan)
}

func putLoan(ctx context.Context, q querier, l *model.Loan) error {
	schedule := l.Schedule
	if schedule == nil {
		schedule = []model.Installment{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		ON CONFLICT (id) DO UPDATE SET
			principal             = EXCLUDED.principal,
			interest_rate         = EXCLUDED.interest_rate,
			term_months           = EXCLUDED.term_months,
			monthly_payment       = EXCLUDED.monthly_payment,
			total_payable         = EXCLUDED.total_payable,
			total_interest        = EXCLUDED.total_interest,
			status                = EXCLUDED.status,
			due_date              = EXCLUDED.due_date,
			maturity_date         = EXCLUDED.maturity_date,
			outstanding_principal = EXCLUDED.outstanding_principal,
			paid_principal        = EXCLUDED.paid_principal,
			paid_interest         = EXCLUDED.paid_interest,
			paid_fees             = EXCLUDED.paid_fees,
			installments_paid     = EXCLUDED.installments_paid,
			installment_credit    = EXCLUDED.installment_credit,
			payment_count         = EXCLUDED.payment_count,
			schedule              = EXCLUDED.schedule,
			rejection_reason      = EXCLUDED.rejection_reason,
			restructure_ref       = EXCLUDED.restructure_ref,
			disbursement_tx_id    = EXCLUDED.disbursement_tx_id,
			approved_at           = EXCLUDED.approved_at,
			closed_at             = EXCLUDED.closed_at,
			updated_at            = EXCLUDED.updated_at
	`,
		l.ID,
		l.BorrowerID,
		l.AccountID,
		l.Product,
		l.Currency,
		l.Principal,
		l.InterestRate,
		l.TermMonths,
		l.MonthlyPayment,
		l.TotalPayable,
		l.TotalInterest,
		l.Status,
		l.CreditScoreAtApplication,
		l.Purpose,
		l.DueDate,
		l.MaturityDate,
		l.OutstandingPrincipal,
		l.PaidPrincipal,
		l.PaidInterest,
		l.PaidFees,
		l.InstallmentsPaid,
		l.InstallmentCredit,
		l.PaymentCount,
		schedule,
		l.RejectionReason,
		l.RestructureRef,
		l.DisbursementTxID,
		l.AppliedAt,
		l.ApprovedAt,
		l.ClosedAt,
		l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

const paymentColumns = `id, loan_id, transaction_id, amount, principal, interest, late_fee,
	installment_index, due_date, paid_date, created_at`

func scanPayment(row pgx.Row) (*model.LoanPayment, error) {
	p := &model.LoanPayment{}
	err := row.Scan(
		&p.ID,
		&p.LoanID,
		&p.TransactionID,
		&p.Amount,
		&p.Principal,
		&p.Interest,
		&p.LateFee,
		&p.InstallmentIndex,
		&p.DueDate,
		&p.PaidDate,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan payment: %w", err)
	}
	return p, nil
}

// LoanPayments implements store.Reader
func (s *Store) LoanPayments(ctx context.Context, loanID uuid.UUID) ([]model.LoanPayment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM loan_payments
		WHERE loan_id = $1
		ORDER BY created_at, installment_index
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan payments: %w", err)
	}
	return collect(rows, scanPayment)
}

func insertPayment(ctx context.Context, q querier, p *model.LoanPayment) error {
	_, err := q.Exec(ctx, `
		INSERT INTO loan_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID,
		p.LoanID,
		p.TransactionID,
		p.Amount,
		p.Principal,
		p.Interest,
		p.LateFee,
		p.InstallmentIndex,
		p.DueDate,
		p.PaidDate,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record loan payment: %w", err)
	}
	return nil
}

const restructuringColumns = `id, loan_id, prior_rate, prior_term_months, prior_monthly_payment,
	outstanding, new_rate, new_term_months, reason, created_at`

func scanRestructuring(row pgx.Row) (*model.LoanRestructuring, error) {
	r := &model.LoanRestructuring{}
	err := row.Scan(
		&r.ID,
		&r.LoanID,
		&r.PriorRate,
		&r.PriorTermMonths,
		&r.PriorMonthlyPayment,
		&r.Outstanding,
		&r.NewRate,
		&r.NewTermMonths,
		&r.Reason,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan restructuring: %w", err)
	}
	return r, nil
}

// Restructurings implements store.Reader
func (s *Store) Restructurings(ctx context.Context, loanID uuid.UUID) ([]model.LoanRestructuring, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+restructuringColumns+`
		FROM loan_restructurings
		WHERE loan_id = $1
		ORDER BY created_at
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restructurings: %w", err)
	}
	return collect(rows, scanRestructuring)
}

func insertRestructuring(ctx context.Context, q querier, r *model.LoanRestructuring) error {
	_, err := q.Exec(ctx, `
		INSERT INTO loan_restructurings (`+restructuringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		r.ID,
		r.LoanID,
		r.PriorRate,
		r.PriorTermMonths,
		r.PriorMonthlyPayment,
		r.Outstanding,
		r.NewRate,
		r.NewTermMonths,
		r.Reason,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record restructuring: %w", err)
	}
	return nil
}
