package lending

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/amortization"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// QuoteRequest is the loan calculator input
type QuoteRequest struct {
	Product    string `json:"product"`
	Amount     string `json:"amount"`
	TermMonths int    `json:"term_months"`
}

// Quote is a priced schedule for a prospective loan
type Quote struct {
	Product      string
	Currency     string
	Principal    money.Amount
	InterestRate decimal.Decimal
	CreditScore  int
	Schedule     amortization.Schedule
}

// Quote prices a prospective loan for subject. Nothing is persisted.
func (s *Service) Quote(ctx context.Context, subject uuid.UUID, req QuoteRequest) (*Quote, error) {
	product, err := s.catalog.LoanProduct(req.Product)
	if err != nil {
		return nil, err
	}
	principal, err := money.Parse(req.Amount, money.Scale(s.catalog.Currency))
	if err != nil {
		return nil, err
	}
	if err := product.CheckBounds(principal, req.TermMonths); err != nil {
		return nil, err
	}

	snap, err := s.scorer.Score(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to score borrower: %w", err)
	}
	rate := s.catalog.Pricing.Price(product.BaseInterestRate, snap.Score)
	sched, err := amortization.Amortize(principal, rate, req.TermMonths, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return &Quote{
		Product:      product.Code,
		Currency:     s.catalog.Currency,
		Principal:    principal,
		InterestRate: rate,
		CreditScore:  snap.Score,
		Schedule:     sched,
	}, nil
}

// Stats summarizes the loan book
func (s *Service) Stats(ctx context.Context) (*model.PortfolioStats, error) {
	loans, err := s.store.Loans(ctx, store.LoanFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	stats := &model.PortfolioStats{Counts: make(map[model.LoanStatus]int)}
	scoreSum := 0
	for i := range loans {
		l := &loans[i]
		stats.Counts[l.Status]++
		scoreSum += l.CreditScoreAtApplication
		if l.DisbursementTxID != nil {
			stats.Disbursed += l.Principal
		}
		if l.Status == model.LoanStatusActive {
			stats.Outstanding += l.OutstandingPrincipal
		}
		stats.InterestEarned += l.PaidInterest
	}
	stats.TotalLoans = len(loans)
	if len(loans) > 0 {
		stats.AverageScore = scoreSum / len(loans)
	}
	return stats, nil
}
