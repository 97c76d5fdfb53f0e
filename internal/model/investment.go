package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// InvestmentType is the asset class of an investment product
type InvestmentType string

const (
	InvestmentTypeBonds       InvestmentType = "bonds"
	InvestmentTypeStocks      InvestmentType = "stocks"
	InvestmentTypeMutualFunds InvestmentType = "mutual_funds"
)

// Valid reports whether t is a known investment type
func (t InvestmentType) Valid() bool {
	switch t {
	case InvestmentTypeBonds, InvestmentTypeStocks, InvestmentTypeMutualFunds:
		return true
	}
	return false
}

// InvestmentStatus represents the state of a holding
type InvestmentStatus string

const (
	InvestmentStatusActive InvestmentStatus = "active"
	InvestmentStatusSold   InvestmentStatus = "sold"
)

// Investment is a holding bought from an account. Amount is the cost
// basis; CurrentValue is the latest mark, which staff revalue.
type Investment struct {
	ID           uuid.UUID        `json:"id"`
	OwnerID      uuid.UUID        `json:"owner_id"`
	AccountID    uuid.UUID        `json:"account_id"`
	Product      string           `json:"product"`
	Type         InvestmentType   `json:"type"`
	Currency     string           `json:"currency"`
	Amount       money.Amount     `json:"amount"`
	CurrentValue money.Amount     `json:"current_value"`
	RiskProfile  string           `json:"risk_profile"`
	Status       InvestmentStatus `json:"status"`
	SaleProceeds money.Amount     `json:"sale_proceeds"`
	PurchaseTxID uuid.UUID        `json:"purchase_tx_id"`
	SaleTxID     *uuid.UUID       `json:"sale_tx_id,omitempty"`
	PurchasedAt  time.Time        `json:"purchased_at"`
	SoldAt       *time.Time       `json:"sold_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Value is the sale proceeds once sold, the current mark otherwise
func (i *Investment) Value() money.Amount {
	if i.Status == InvestmentStatusSold {
		return i.SaleProceeds
	}
	return i.CurrentValue
}

// ProfitLoss is Value less the cost basis
func (i *Investment) ProfitLoss() money.Amount {
	return i.Value() - i.Amount
}

// ReturnPercent is ProfitLoss as a percentage of the cost basis, two places
func (i *Investment) ReturnPercent() decimal.Decimal {
	return returnPercent(i.ProfitLoss(), i.Amount)
}

func returnPercent(pl, basis money.Amount) decimal.Decimal {
	if basis == 0 {
		return decimal.Zero
	}
	return pl.Decimal().Mul(decimal.NewFromInt(100)).Div(basis.Decimal()).Round(2)
}

// PurchaseInvestmentRequest is the payload for buying an investment
type PurchaseInvestmentRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Product   string    `json:"product"`
	Amount    string    `json:"amount"`
}

// Validate checks the purchase request
func (r PurchaseInvestmentRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.Product == "" {
		return ErrUnknownProduct
	}
	if r.Amount == "" {
		return ErrInvalidAmount
	}
	return nil
}

// SellInvestmentRequest is the payload for selling a holding. Price
// overrides the current mark and is staff only.
type SellInvestmentRequest struct {
	Price string `json:"price,omitempty"`
}

// RevalueInvestmentRequest marks a holding to a new value
type RevalueInvestmentRequest struct {
	Value string `json:"value"`
}

// InvestmentTotals aggregates holdings of one type
type InvestmentTotals struct {
	Count        int          `json:"count"`
	Invested     money.Amount `json:"invested"`
	CurrentValue money.Amount `json:"current_value"`
}

// InvestmentPortfolio summarizes an owner's holdings. Invested and
// CurrentValue cover active holdings; Realized is the profit or loss
// booked by sales.
type InvestmentPortfolio struct {
	TotalInvestments  int                                 `json:"total_investments"`
	ActiveInvestments int                                 `json:"active_investments"`
	Invested          money.Amount                        `json:"invested"`
	CurrentValue      money.Amount                        `json:"current_value"`
	Realized          money.Amount                        `json:"realized_profit_loss"`
	ByType            map[InvestmentType]InvestmentTotals `json:"by_type"`
	Holdings          []Investment                        `json:"holdings"`
}

// Unrealized is the profit or loss on active holdings
func (p *InvestmentPortfolio) Unrealized() money.Amount {
	return p.CurrentValue - p.Invested
}

// ReturnPercent is the unrealized return on active holdings, two places
func (p *InvestmentPortfolio) ReturnPercent() decimal.Decimal {
	return returnPercent(p.Unrealized(), p.Invested)
}
