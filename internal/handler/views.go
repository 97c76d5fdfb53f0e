package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/lending"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
)

// Response views render amounts as decimal strings in the currency's scale.

type accountView struct {
	ID               uuid.UUID           `json:"id"`
	OwnerID          uuid.UUID           `json:"owner_id"`
	Product          string              `json:"product"`
	Currency         string              `json:"currency"`
	Balance          string              `json:"balance"`
	AvailableBalance string              `json:"available_balance"`
	BlockedAmount    string              `json:"blocked_amount"`
	MinimumBalance   string              `json:"minimum_balance"`
	DailyLimit       *string             `json:"daily_limit,omitempty"`
	MonthlyLimit     *string             `json:"monthly_limit,omitempty"`
	Status           model.AccountStatus `json:"status"`
	OpenedAt         time.Time           `json:"opened_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func optional(a *money.Amount, scale int32) *string {
	if a == nil {
		return nil
	}
	s := a.Format(scale)
	return &s
}

func newAccountView(a *model.Account) accountView {
	scale := a.Scale()
	return accountView{
		ID:               a.ID,
		OwnerID:          a.OwnerID,
		Product:          a.Product,
		Currency:         a.Currency,
		Balance:          a.Balance.Format(scale),
		AvailableBalance: a.AvailableBalance().Format(scale),
		BlockedAmount:    a.BlockedAmount.Format(scale),
		MinimumBalance:   a.MinimumBalance.Format(scale),
		DailyLimit:       optional(a.DailyLimit, scale),
		MonthlyLimit:     optional(a.MonthlyLimit, scale),
		Status:           a.Status,
		OpenedAt:         a.OpenedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type transactionView struct {
	ID             uuid.UUID               `json:"id"`
	IdempotencyKey string                  `json:"idempotency_key,omitempty"`
	AccountID      uuid.UUID               `json:"account_id"`
	Type           model.TransactionType   `json:"type"`
	Direction      model.Direction         `json:"direction"`
	Amount         string                  `json:"amount"`
	Currency       string                  `json:"currency"`
	ExchangeRate   string                  `json:"exchange_rate,omitempty"`
	BalanceBefore  string                  `json:"balance_before"`
	BalanceAfter   string                  `json:"balance_after"`
	Reference      string                  `json:"reference,omitempty"`
	ReversalOf     *uuid.UUID              `json:"reversal_of,omitempty"`
	Metadata       map[string]any          `json:"metadata,omitempty"`
	Status         model.TransactionStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
}

func newTransactionView(t *model.Transaction) transactionView {
	scale := money.Scale(t.Currency)
	v := transactionView{
		ID:             t.ID,
		IdempotencyKey: t.IdempotencyKey,
		AccountID:      t.AccountID,
		Type:           t.Type,
		Direction:      t.Direction,
		Amount:         t.Amount.Format(scale),
		Currency:       t.Currency,
		BalanceBefore:  t.BalanceBefore.Format(scale),
		BalanceAfter:   t.BalanceAfter.Format(scale),
		Reference:      t.Reference,
		ReversalOf:     t.ReversalOf,
		Metadata:       t.Metadata,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
	}
	if t.ExchangeRate != nil {
		v.ExchangeRate = t.ExchangeRate.String()
	}
	return v
}

func transactionViews(txs []model.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionView(&txs[i]))
	}
	return out
}

type installmentView struct {
	Index            int       `json:"index"`
	DueDate          time.Time `json:"due_date"`
	Payment          string    `json:"payment"`
	Principal        string    `json:"principal"`
	Interest         string    `json:"interest"`
	RemainingBalance string    `json:"remaining_balance"`
}

func installmentViews(rows []model.Installment, scale int32) []installmentView {
	out := make([]installmentView, 0, len(rows))
	for _, in := range rows {
		out = append(out, installmentView{
			Index:            in.Index,
			DueDate:          in.DueDate,
			Payment:          in.Payment.Format(scale),
			Principal:        in.Principal.Format(scale),
			Interest:         in.Interest.Format(scale),
			RemainingBalance: in.RemainingBalance.Format(scale),
		})
	}
	return out
}

type loanView struct {
	ID                       uuid.UUID        `json:"id"`
	BorrowerID               uuid.UUID        `json:"borrower_id"`
	AccountID                uuid.UUID        `json:"account_id"`
	Product                  string           `json:"product"`
	Currency                 string           `json:"currency"`
	Principal                string           `json:"principal"`
	InterestRate             string           `json:"interest_rate"`
	TermMonths               int              `json:"term_months"`
	MonthlyPayment           string           `json:"monthly_payment"`
	TotalPayable             string           `json:"total_payable"`
	TotalInterest            string           `json:"total_interest"`
	Status                   model.LoanStatus `json:"status"`
	CreditScoreAtApplication int              `json:"credit_score_at_application"`
	Purpose                  string           `json:"purpose,omitempty"`
	DueDate                  *time.Time       `json:"due_date,omitempty"`
	MaturityDate             *time.Time       `json:"maturity_date,omitempty"`
	OutstandingPrincipal     string           `json:"outstanding_principal"`
	PaidPrincipal            string           `json:"paid_principal"`
	PaidInterest             string           `json:"paid_interest"`
	PaidFees                 string           `json:"paid_fees"`
	AmountOwed               string           `json:"amount_owed"`
	InstallmentsPaid         int              `json:"installments_paid"`
	RejectionReason          string           `json:"rejection_reason,omitempty"`
	DisbursementTxID         *uuid.UUID       `json:"disbursement_tx_id,omitempty"`
	AppliedAt                time.Time        `json:"applied_at"`
	ApprovedAt               *time.Time       `json:"approved_at,omitempty"`
	ClosedAt                 *time.Time       `json:"closed_at,omitempty"`
}

func newLoanView(l *model.Loan) loanView {
	scale := money.Scale(l.Currency)
	return loanView{
		ID:                       l.ID,
		BorrowerID:               l.BorrowerID,
		AccountID:                l.AccountID,
		Product:                  l.Product,
		Currency:                 l.Currency,
		Principal:                l.Principal.Format(scale),
		InterestRate:             l.InterestRate.String(),
		TermMonths:               l.TermMonths,
		MonthlyPayment:           l.MonthlyPayment.Format(scale),
		TotalPayable:             l.TotalPayable.Format(scale),
		TotalInterest:            l.TotalInterest.Format(scale),
		Status:                   l.Status,
		CreditScoreAtApplication: l.CreditScoreAtApplication,
		Purpose:                  l.Purpose,
		DueDate:                  l.DueDate,
		MaturityDate:             l.MaturityDate,
		OutstandingPrincipal:     l.OutstandingPrincipal.Format(scale),
		PaidPrincipal:            l.PaidPrincipal.Format(scale),
		PaidInterest:             l.PaidInterest.Format(scale),
		PaidFees:                 l.PaidFees.Format(scale),
		AmountOwed:               l.AmountOwed().Format(scale),
		InstallmentsPaid:         l.InstallmentsPaid,
		RejectionReason:          l.RejectionReason,
		DisbursementTxID:         l.DisbursementTxID,
		AppliedAt:                l.AppliedAt,
		ApprovedAt:               l.ApprovedAt,
		ClosedAt:                 l.ClosedAt,
	}
}

type paymentView struct {
	ID               uuid.UUID  `json:"id"`
	LoanID           uuid.UUID  `json:"loan_id"`
	TransactionID    uuid.UUID  `json:"transaction_id"`
	Amount           string     `json:"amount"`
	Principal        string     `json:"principal"`
	Interest         string     `json:"interest"`
	LateFee          string     `json:"late_fee"`
	InstallmentIndex int        `json:"installment_index"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	PaidDate         time.Time  `json:"paid_date"`
}

func newPaymentView(p *model.LoanPayment, scale int32) paymentView {
	return paymentView{
		ID:               p.ID,
		LoanID:           p.LoanID,
		TransactionID:    p.TransactionID,
		Amount:           p.Amount.Format(scale),
		Principal:        p.Principal.Format(scale),
		Interest:         p.Interest.Format(scale),
		LateFee:          p.LateFee.Format(scale),
		InstallmentIndex: p.InstallmentIndex,
		DueDate:          p.DueDate,
		PaidDate:         p.PaidDate,
	}
}

type restructuringView struct {
	ID                  uuid.UUID `json:"id"`
	PriorRate           string    `json:"prior_rate"`
	PriorTermMonths     int       `json:"prior_term_months"`
	PriorMonthlyPayment string    `json:"prior_monthly_payment"`
	Outstanding         string    `json:"outstanding"`
	NewRate             string    `json:"new_rate"`
	NewTermMonths       int       `json:"new_term_months"`
	Reason              string    `json:"reason"`
	CreatedAt           time.Time `json:"created_at"`
}

func newRestructuringView(r *model.LoanRestructuring, scale int32) restructuringView {
	return restructuringView{
		ID:                  r.ID,
		PriorRate:           r.PriorRate.String(),
		PriorTermMonths:     r.PriorTermMonths,
		PriorMonthlyPayment: r.PriorMonthlyPayment.Format(scale),
		Outstanding:         r.Outstanding.Format(scale),
		NewRate:             r.NewRate.String(),
		NewTermMonths:       r.NewTermMonths,
		Reason:              r.Reason,
		CreatedAt:           r.CreatedAt,
	}
}

type quoteView struct {
	Product        string            `json:"product"`
	Currency       string            `json:"currency"`
	Principal      string            `json:"principal"`
	InterestRate   string            `json:"interest_rate"`
	CreditScore    int               `json:"credit_score"`
	MonthlyPayment string            `json:"monthly_payment"`
	TotalPayable   string            `json:"total_payable"`
	TotalInterest  string            `json:"total_interest"`
	Schedule       []installmentView `json:"schedule"`
}

func newQuoteView(q *lending.Quote) quoteView {
	scale := money.Scale(q.Currency)
	return quoteView{
		Product:        q.Product,
		Currency:       q.Currency,
		Principal:      q.Principal.Format(scale),
		InterestRate:   q.InterestRate.String(),
		CreditScore:    q.CreditScore,
		MonthlyPayment: q.Schedule.MonthlyPayment.Format(scale),
		TotalPayable:   q.Schedule.TotalPayable.Format(scale),
		TotalInterest:  q.Schedule.TotalInterest.Format(scale),
		Schedule:       installmentViews(q.Schedule.Installments, scale),
	}
}

type statsView struct {
	Counts         map[model.LoanStatus]int `json:"counts"`
	TotalLoans     int                      `json:"total_loans"`
	Disbursed      string                   `json:"disbursed"`
	Outstanding    string                   `json:"outstanding"`
	InterestEarned string                   `json:"interest_earned"`
	AverageScore   int                      `json:"average_score"`
}

func newStatsView(s *model.PortfolioStats, scale int32) statsView {
	return statsView{
		Counts:         s.Counts,
		TotalLoans:     s.TotalLoans,
		Disbursed:      s.Disbursed.Format(scale),
		Outstanding:    s.Outstanding.Format(scale),
		InterestEarned: s.InterestEarned.Format(scale),
		AverageScore:   s.AverageScore,
	}
}

type depositView struct {
	ID                uuid.UUID           `json:"id"`
	AccountID         uuid.UUID           `json:"account_id"`
	Principal         string              `json:"principal"`
	InterestRate      string              `json:"interest_rate"`
	TermMonths        int                 `json:"term_months"`
	StartDate         time.Time           `json:"start_date"`
	MaturityDate      time.Time           `json:"maturity_date"`
	InterestAmount    string              `json:"interest_amount"`
	MaturityValue     string              `json:"maturity_value"`
	Status            model.DepositStatus `json:"status"`
	PenaltyRate       string              `json:"early_withdrawal_penalty_rate"`
	AutoRenew         bool                `json:"auto_renew"`
	RenewalTermMonths int                 `json:"renewal_term_months,omitempty"`
	RenewedFrom       *uuid.UUID          `json:"renewed_from,omitempty"`
	RenewedInto       *uuid.UUID          `json:"renewed_into,omitempty"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
}

func newDepositView(d *model.FixedDeposit, scale int32) depositView {
	return depositView{
		ID:                d.ID,
		AccountID:         d.AccountID,
		Principal:         d.Principal.Format(scale),
		InterestRate:      d.InterestRate.String(),
		TermMonths:        d.TermMonths,
		StartDate:         d.StartDate,
		MaturityDate:      d.MaturityDate,
		InterestAmount:    d.InterestAmount.Format(scale),
		MaturityValue:     d.MaturityValue.Format(scale),
		Status:            d.Status,
		PenaltyRate:       d.PenaltyRate.String(),
		AutoRenew:         d.AutoRenew,
		RenewalTermMonths: d.RenewalTermMonths,
		RenewedFrom:       d.RenewedFrom,
		RenewedInto:       d.RenewedInto,
		ClosedAt:          d.ClosedAt,
	}
}

type goalView struct {
	ID            uuid.UUID           `json:"id"`
	AccountID     uuid.UUID           `json:"account_id"`
	Name          string              `json:"name"`
	TargetAmount  string              `json:"target_amount"`
	CurrentAmount string              `json:"current_amount"`
	Remaining     string              `json:"remaining"`
	TargetDate    *time.Time          `json:"target_date,omitempty"`
	Frequency     model.GoalFrequency `json:"frequency"`
	Status        model.GoalStatus    `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func newGoalView(g *model.SavingsGoal, scale int32) goalView {
	return goalView{
		ID:            g.ID,
		AccountID:     g.AccountID,
		Name:          g.Name,
		TargetAmount:  g.TargetAmount.Format(scale),
		CurrentAmount: g.CurrentAmount.Format(scale),
		Remaining:     g.Remaining().Format(scale),
		TargetDate:    g.TargetDate,
		Frequency:     g.Frequency,
		Status:        g.Status,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

type investmentProductView struct {
	Code           string               `json:"code"`
	Name           string               `json:"name"`
	Type           model.InvestmentType `json:"type"`
	Issuer         string               `json:"issuer,omitempty"`
	MinInvestment  string               `json:"min_investment"`
	RiskProfile    string               `json:"risk_profile"`
	ExpectedReturn string               `json:"expected_return"`
	Description    string               `json:"description,omitempty"`
}

func newInvestmentProductView(p policy.InvestmentProduct, scale int32) investmentProductView {
	return investmentProductView{
		Code:           p.Code,
		Name:           p.Name,
		Type:           p.Type,
		Issuer:         p.Issuer,
		MinInvestment:  p.MinInvestment.Format(scale),
		RiskProfile:    p.RiskProfile,
		ExpectedReturn: p.ExpectedReturn.String(),
		Description:    p.Description,
	}
}

type investmentView struct {
	ID            uuid.UUID              `json:"id"`
	OwnerID       uuid.UUID              `json:"owner_id"`
	AccountID     uuid.UUID              `json:"account_id"`
	Product       string                 `json:"product"`
	Type          model.InvestmentType   `json:"type"`
	Currency      string                 `json:"currency"`
	Amount        string                 `json:"amount"`
	CurrentValue  string                 `json:"current_value"`
	ProfitLoss    string                 `json:"profit_loss"`
	ReturnPercent string                 `json:"return_percent"`
	RiskProfile   string                 `json:"risk_profile"`
	Status        model.InvestmentStatus `json:"status"`
	SaleProceeds  *string                `json:"sale_proceeds,omitempty"`
	PurchaseTxID  uuid.UUID              `json:"purchase_tx_id"`
	SaleTxID      *uuid.UUID             `json:"sale_tx_id,omitempty"`
	PurchasedAt   time.Time              `json:"purchased_at"`
	SoldAt        *time.Time             `json:"sold_at,omitempty"`
}

func newInvestmentView(i *model.Investment) investmentView {
	scale := money.Scale(i.Currency)
	v := investmentView{
		ID:            i.ID,
		OwnerID:       i.OwnerID,
		AccountID:     i.AccountID,
		Product:       i.Product,
		Type:          i.Type,
		Currency:      i.Currency,
		Amount:        i.Amount.Format(scale),
		CurrentValue:  i.CurrentValue.Format(scale),
		ProfitLoss:    i.ProfitLoss().Format(scale),
		ReturnPercent: i.ReturnPercent().StringFixed(2),
		RiskProfile:   i.RiskProfile,
		Status:        i.Status,
		PurchaseTxID:  i.PurchaseTxID,
		SaleTxID:      i.SaleTxID,
		PurchasedAt:   i.PurchasedAt,
		SoldAt:        i.SoldAt,
	}
	if i.Status == model.InvestmentStatusSold {
		v.SaleProceeds = optional(&i.SaleProceeds, scale)
	}
	return v
}

type investmentTotalsView struct {
	Count        int    `json:"count"`
	Invested     string `json:"invested"`
	CurrentValue string `json:"current_value"`
}

type portfolioView struct {
	TotalInvestments  int                                           `json:"total_investments"`
	ActiveInvestments int                                           `json:"active_investments"`
	Invested          string                                        `json:"invested"`
	CurrentValue      string                                        `json:"current_value"`
	Unrealized        string                                        `json:"unrealized_profit_loss"`
	ReturnPercent     string                                        `json:"return_percent"`
	Realized          string                                        `json:"realized_profit_loss"`
	ByType            map[model.InvestmentType]investmentTotalsView `json:"by_type"`
	Holdings          []investmentView                              `json:"holdings"`
}

func newPortfolioView(p *model.InvestmentPortfolio, scale int32) portfolioView {
	v := portfolioView{
		TotalInvestments:  p.TotalInvestments,
		ActiveInvestments: p.ActiveInvestments,
		Invested:          p.Invested.Format(scale),
		CurrentValue:      p.CurrentValue.Format(scale),
		Unrealized:        p.Unrealized().Format(scale),
		ReturnPercent:     p.ReturnPercent().StringFixed(2),
		Realized:          p.Realized.Format(scale),
		ByType:            make(map[model.InvestmentType]investmentTotalsView, len(p.ByType)),
		Holdings:          make([]investmentView, 0, len(p.Holdings)),
	}
	for typ, t := range p.ByType {
		v.ByType[typ] = investmentTotalsView{
			Count:        t.Count,
			Invested:     t.Invested.Format(scale),
			CurrentValue: t.CurrentValue.Format(scale),
		}
	}
	for i := range p.Holdings {
		v.Holdings = append(v.Holdings, newInvestmentView(&p.Holdings[i]))
	}
	return v
}

type typeTotalView struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

func newTypeTotalView(t model.TypeTotal, scale int32) typeTotalView {
	return typeTotalView{Count: t.Count, Amount: t.Amount.Format(scale)}
}

type transactionStatsView struct {
	Total     int                                     `json:"total"`
	Completed int                                     `json:"completed"`
	Reversals typeTotalView                           `json:"reversals"`
	ByType    map[model.TransactionType]typeTotalView `json:"by_type"`
	Average   string                                  `json:"average_amount"`
}

func newTransactionStatsView(s *model.TransactionStats, scale int32) transactionStatsView {
	v := transactionStatsView{
		Total:     s.Total,
		Completed: s.Completed,
		Reversals: newTypeTotalView(s.Reversals, scale),
		ByType:    make(map[model.TransactionType]typeTotalView, len(s.ByType)),
		Average:   s.Average.Format(scale),
	}
	for typ, t := range s.ByType {
		v.ByType[typ] = newTypeTotalView(t, scale)
	}
	return v
}

type goalTotalsView struct {
	Count  int    `json:"count"`
	Target string `json:"target"`
	Saved  string `json:"saved"`
}

type savingsStatsView struct {
	TotalBalance    string         `json:"total_balance"`
	Deposits        typeTotalView  `json:"fixed_deposits"`
	Goals           goalTotalsView `json:"savings_goals"`
	MonthlyDeposits string         `json:"monthly_deposits"`
}

func newSavingsStatsView(s *model.SavingsStats, scale int32) savingsStatsView {
	return savingsStatsView{
		TotalBalance: s.TotalBalance.Format(scale),
		Deposits:     newTypeTotalView(s.Deposits, scale),
		Goals: goalTotalsView{
			Count:  s.Goals.Count,
			Target: s.Goals.Target.Format(scale),
			Saved:  s.Goals.Saved.Format(scale),
		},
		MonthlyDeposits: s.MonthlyDeposits.Format(scale),
	}
}
