package scoring

import "github.com/shopspring/decimal"

// Tier adjusts the base rate for scores strictly below Below or strictly
// above Above. Exactly one bound is set.
type Tier struct {
	Below      *int            `mapstructure:"below"`
	Above      *int            `mapstructure:"above"`
	Adjustment decimal.Decimal `mapstructure:"adjustment"`
}

// Matches reports whether score falls in the tier
func (t Tier) Matches(score int) bool {
	switch {
	case t.Below != nil:
		return score < *t.Below
	case t.Above != nil:
		return score > *t.Above
	}
	return false
}

// PricingTable is an ordered list of tiers; the first match wins
type PricingTable []Tier

// Adjustment returns the percentage-point change for score
func (p PricingTable) Adjustment(score int) decimal.Decimal {
	for _, t := range p {
		if t.Matches(score) {
			return t.Adjustment
		}
	}
	return decimal.Zero
}

// Price applies the tier adjustment to base. Rates never go negative.
func (p PricingTable) Price(base decimal.Decimal, score int) decimal.Decimal {
	rate := base.Add(p.Adjustment(score))
	if rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

func intPtr(v int) *int { return &v }

// DefaultPricing is the tier table used when no policy file overrides it
func DefaultPricing() PricingTable {
	return PricingTable{
		{Below: intPtr(500), Adjustment: decimal.NewFromInt(5)},
		{Below: intPtr(650), Adjustment: decimal.NewFromInt(2)},
		{Above: intPtr(750), Adjustment: decimal.NewFromInt(-1)},
	}
}
