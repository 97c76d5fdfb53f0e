// Package investments sells catalog investment products to members.
//
// A purchase debits the cost from the member's account as an
// investment_purchase posting and records the holding at cost. Staff mark
// holdings to a new value; a sale credits the marked value, or a staff
// price, back as an investment_sale posting.
package investments

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/ledger"
	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/notify"
	"github.com/simonkvalheim/fjord-microfinance/internal/policy"
	"github.com/simonkvalheim/fjord-microfinance/internal/store"
)

// Service runs the investment lifecycle
type Service struct {
	ledger  *ledger.Ledger
	store   store.Reader
	catalog *policy.Catalog
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an investment service
func NewService(l *ledger.Ledger, r store.Reader, catalog *policy.Catalog, opts ...Option) *Service {
	s := &Service{ledger: l, store: r, catalog: catalog, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Products lists the catalog's investment products by code
func (s *Service) Products() []policy.InvestmentProduct {
	out := make([]policy.InvestmentProduct, 0, len(s.catalog.InvestmentProducts))
	for _, p := range s.catalog.InvestmentProducts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Purchase debits the cost from the owner's account and records the
// holding. The debit counts against the account's period limits.
func (s *Service) Purchase(ctx context.Context, ownerID uuid.UUID, req model.PurchaseInvestmentRequest) (*model.Investment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	product, err := s.catalog.InvestmentProduct(req.Product)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.OwnerID != ownerID {
		return nil, model.ErrAccountNotFound
	}
	if acct.Currency != s.catalog.Currency {
		return nil, fmt.Errorf("%w: investments settle in %s", model.ErrCurrencyMismatch, s.catalog.Currency)
	}
	amount, err := money.Parse(req.Amount, acct.Scale())
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if amount < product.MinInvestment {
		return nil, fmt.Errorf("%w: %s requires at least %s", model.ErrInvalidAmountRange,
			product.Name, product.MinInvestment.Format(acct.Scale()))
	}

	now := s.now().UTC()
	inv := &model.Investment{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		AccountID:    acct.ID,
		Product:      product.Code,
		Type:         product.Type,
		Currency:     acct.Currency,
		Amount:       amount,
		CurrentValue: amount,
		RiskProfile:  product.RiskProfile,
		Status:       model.InvestmentStatusActive,
		PurchasedAt:  now,
		UpdatedAt:    now,
	}

	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{inv.ID, acct.ID}, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Account(ctx, acct.ID)
		if err != nil {
			return err
		}
		debit := ledger.Debit(a.ID, model.TransactionTypeInvestmentPurchase, amount).
			WithKey(postingKey(inv.ID, "purchase")).
			WithReference(product.Name).
			WithMetadata(map[string]any{"investment_id": inv.ID.String(), "product": product.Code})
		debit.Limits = ledger.AccountLimits(a, now)
		posted, err = s.ledger.ApplyTx(ctx, tx, ledger.Batch{ledger.PostOp(debit)})
		if err != nil {
			return err
		}
		inv.PurchaseTxID = posted[0].ID
		return tx.PutInvestment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	s.transitioned(ctx, inv, "purchase", notify.EventInvestmentBought, map[string]any{
		"product": inv.Product,
		"amount":  inv.Amount.Format(acct.Scale()),
	})
	return inv, nil
}

// Sell closes an active holding and credits the proceeds to its account.
// Proceeds are the current value unless price is given. A holding sells
// once.
func (s *Service) Sell(ctx context.Context, id uuid.UUID, price *money.Amount) (*model.Investment, error) {
	if price != nil && *price < 0 {
		return nil, model.ErrInvalidAmount
	}
	current, err := s.store.GetInvestment(ctx, id)
	if err != nil {
		return nil, err
	}

	var sold *model.Investment
	var posted []model.Transaction
	err = s.ledger.Atomic(ctx, []uuid.UUID{id, current.AccountID}, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.Investment(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != model.InvestmentStatusActive {
			return fmt.Errorf("%w: investment %s is %s", model.ErrInvalidStateTransition, id, inv.Status)
		}

		proceeds := inv.CurrentValue
		if price != nil {
			proceeds = *price
		}
		if proceeds > 0 {
			credit := ledger.Credit(inv.AccountID, model.TransactionTypeInvestmentSale, proceeds).
				WithKey(postingKey(id, "sale")).
				WithReference("investment sale").
				WithMetadata(map[string]any{"investment_id": id.String(), "product": inv.Product})
			posted, err = s.ledger.ApplyTx(ctx, tx, ledger.Batch{ledger.PostOp(credit)})
			if err != nil {
				return err
			}
			inv.SaleTxID = &posted[0].ID
		}

		now := s.now().UTC()
		inv.Status = model.InvestmentStatusSold
		inv.SaleProceeds = proceeds
		inv.CurrentValue = proceeds
		inv.SoldAt = &now
		inv.UpdatedAt = now
		sold = inv
		return tx.PutInvestment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Published(ctx, posted...)
	scale := money.Scale(sold.Currency)
	s.transitioned(ctx, sold, "sale", notify.EventInvestmentSold, map[string]any{
		"proceeds":    sold.SaleProceeds.Format(scale),
		"profit_loss": sold.ProfitLoss().Format(scale),
	})
	return sold, nil
}

// Revalue marks an active holding to value. No money moves.
func (s *Service) Revalue(ctx context.Context, id uuid.UUID, value money.Amount) (*model.Investment, error) {
	if value < 0 {
		return nil, model.ErrInvalidAmount
	}

	var marked *model.Investment
	err := s.ledger.Atomic(ctx, []uuid.UUID{id}, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.Investment(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != model.InvestmentStatusActive {
			return fmt.Errorf("%w: investment %s is %s", model.ErrInvalidStateTransition, id, inv.Status)
		}
		inv.CurrentValue = value
		inv.UpdatedAt = s.now().UTC()
		marked = inv
		return tx.PutInvestment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, marked, "revalue", notify.EventInvestmentMarked, map[string]any{
		"current_value": marked.CurrentValue.Format(money.Scale(marked.Currency)),
	})
	return marked, nil
}

// Get returns a holding
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	return s.store.GetInvestment(ctx, id)
}

// ByOwner lists an owner's holdings, oldest first
func (s *Service) ByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Investment, error) {
	return s.store.InvestmentsByOwner(ctx, ownerID)
}

// Portfolio summarizes an owner's holdings
func (s *Service) Portfolio(ctx context.Context, ownerID uuid.UUID) (*model.InvestmentPortfolio, error) {
	holdings, err := s.store.InvestmentsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}

	p := &model.InvestmentPortfolio{
		TotalInvestments: len(holdings),
		ByType:           make(map[model.InvestmentType]model.InvestmentTotals),
		Holdings:         holdings,
	}
	for i := range holdings {
		inv := &holdings[i]
		if inv.Status == model.InvestmentStatusSold {
			p.Realized += inv.ProfitLoss()
			continue
		}
		p.ActiveInvestments++
		p.Invested += inv.Amount
		p.CurrentValue += inv.CurrentValue
		t := p.ByType[inv.Type]
		t.Count++
		t.Invested += inv.Amount
		t.CurrentValue += inv.CurrentValue
		p.ByType[inv.Type] = t
	}
	return p, nil
}

// Currency is the catalog currency investments settle in
func (s *Service) Currency() string {
	return s.catalog.Currency
}

func (s *Service) transitioned(ctx context.Context, inv *model.Investment, action, event string, data map[string]any) {
	metrics.InvestmentTransitions.WithLabelValues(string(inv.Type), action).Inc()
	s.log.Info("investment transitioned",
		zap.String("investment_id", inv.ID.String()),
		zap.String("account_id", inv.AccountID.String()),
		zap.String("action", action),
		zap.String("status", string(inv.Status)),
	)
	data["investment_id"] = inv.ID.String()
	s.ledger.Notify(ctx, notify.NewEvent(event, inv.OwnerID, data).ForAccount(inv.AccountID))
}

func postingKey(id uuid.UUID, leg string) string {
	return fmt.Sprintf("investment:%s:%s", id, leg)
}
