// Package policy holds the product catalog: loan and account products,
// pricing tiers, fee rates, deposit terms and scoring thresholds.
//
// The catalog is data, loaded once from YAML and validated at load time.
// Services receive it by injection and never hard-code product values.
package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
	"github.com/simonkvalheim/fjord-microfinance/internal/scoring"
)

//go:embed default.yaml
var defaultYAML []byte

var hundred = decimal.NewFromInt(100)

// LoanProduct bounds and prices one kind of loan
type LoanProduct struct {
	Code               string          `mapstructure:"-"`
	Name               string          `mapstructure:"name"`
	MinAmount          money.Amount    `mapstructure:"min_amount"`
	MaxAmount          money.Amount    `mapstructure:"max_amount"`
	MinTerm            int             `mapstructure:"min_term"`
	MaxTerm            int             `mapstructure:"max_term"`
	BaseInterestRate   decimal.Decimal `mapstructure:"base_interest_rate"`
	RequiresCollateral bool            `mapstructure:"requires_collateral"`
	RequiresGuarantor  bool            `mapstructure:"requires_guarantor"`
}

// CheckBounds validates a requested principal and term
func (p LoanProduct) CheckBounds(principal money.Amount, termMonths int) error {
	if principal < p.MinAmount || principal > p.MaxAmount {
		return fmt.Errorf("%w: amount must be between %d and %d", model.ErrInvalidAmountRange, p.MinAmount, p.MaxAmount)
	}
	if termMonths < p.MinTerm || termMonths > p.MaxTerm {
		return fmt.Errorf("%w: term must be between %d and %d months", model.ErrInvalidAmountRange, p.MinTerm, p.MaxTerm)
	}
	return nil
}

// AccountProduct configures newly opened accounts
type AccountProduct struct {
	Code             string        `mapstructure:"-"`
	Name             string        `mapstructure:"name"`
	MinimumBalance   money.Amount  `mapstructure:"minimum_balance"`
	RequiresApproval bool          `mapstructure:"requires_approval"`
	DailyLimit       *money.Amount `mapstructure:"daily_limit"`
	MonthlyLimit     *money.Amount `mapstructure:"monthly_limit"`
}

// InitialStatus is pending for products that need approval
func (p AccountProduct) InitialStatus() model.AccountStatus {
	if p.RequiresApproval {
		return model.AccountStatusPending
	}
	return model.AccountStatusActive
}

// Fees are percentage rates
type Fees struct {
	LateFeeRate                decimal.Decimal `mapstructure:"late_fee_rate"`
	EarlyWithdrawalPenaltyRate decimal.Decimal `mapstructure:"early_withdrawal_penalty_rate"`
}

// DepositTerms bound fixed deposits
type DepositTerms struct {
	MinTerm     int             `mapstructure:"min_term"`
	MaxTerm     int             `mapstructure:"max_term"`
	DefaultRate decimal.Decimal `mapstructure:"default_rate"`
}

// InvestmentProduct is a holding members can buy from an account
type InvestmentProduct struct {
	Code           string               `mapstructure:"-"`
	Name           string               `mapstructure:"name"`
	Type           model.InvestmentType `mapstructure:"type"`
	Issuer         string               `mapstructure:"issuer"`
	MinInvestment  money.Amount         `mapstructure:"min_investment"`
	RiskProfile    string               `mapstructure:"risk_profile"`
	ExpectedReturn decimal.Decimal      `mapstructure:"expected_return"`
	Description    string               `mapstructure:"description"`
}

// Catalog is the full policy
type Catalog struct {
	Currency           string                       `mapstructure:"currency"`
	AccountProducts    map[string]AccountProduct    `mapstructure:"account_products"`
	LoanProducts       map[string]LoanProduct       `mapstructure:"loan_products"`
	InvestmentProducts map[string]InvestmentProduct `mapstructure:"investment_products"`
	Pricing            scoring.PricingTable         `mapstructure:"pricing"`
	Fees               Fees                         `mapstructure:"fees"`
	Deposits           DepositTerms                 `mapstructure:"deposits"`
	Scoring            scoring.Params               `mapstructure:"scoring"`
}

// LoanProduct looks up a loan product by code
func (c *Catalog) LoanProduct(code string) (LoanProduct, error) {
	p, ok := c.LoanProducts[strings.ToLower(code)]
	if !ok {
		return LoanProduct{}, fmt.Errorf("%w: loan product %q", model.ErrUnknownProduct, code)
	}
	return p, nil
}

// AccountProduct looks up an account product by code
func (c *Catalog) AccountProduct(code string) (AccountProduct, error) {
	p, ok := c.AccountProducts[strings.ToLower(code)]
	if !ok {
		return AccountProduct{}, fmt.Errorf("%w: account product %q", model.ErrUnknownProduct, code)
	}
	return p, nil
}

// InvestmentProduct looks up an investment product by code
func (c *Catalog) InvestmentProduct(code string) (InvestmentProduct, error) {
	p, ok := c.InvestmentProducts[strings.ToLower(code)]
	if !ok {
		return InvestmentProduct{}, fmt.Errorf("%w: investment product %q", model.ErrUnknownProduct, code)
	}
	return p, nil
}

// Load reads the catalog from path, or the built-in default when path is empty
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
			return nil, fmt.Errorf("failed to read default policy: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
	}

	var c Catalog
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(decimalHook))
	if err := v.Unmarshal(&c, hook); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	for code, p := range c.LoanProducts {
		p.Code = code
		c.LoanProducts[code] = p
	}
	for code, p := range c.AccountProducts {
		p.Code = code
		c.AccountProducts[code] = p
	}
	for code, p := range c.InvestmentProducts {
		p.Code = code
		c.InvestmentProducts[code] = p
	}
	if c.Currency == "" {
		c.Currency = "KES"
	}
	c.Currency = strings.ToUpper(c.Currency)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks internal consistency of the catalog
func (c *Catalog) Validate() error {
	var errs []error

	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("currency %q is not a 3-letter code", c.Currency))
	}
	if len(c.LoanProducts) == 0 {
		errs = append(errs, errors.New("no loan products configured"))
	}
	for code, p := range c.LoanProducts {
		if p.MinAmount <= 0 || p.MaxAmount < p.MinAmount {
			errs = append(errs, fmt.Errorf("loan product %s: invalid amount bounds %d..%d", code, p.MinAmount, p.MaxAmount))
		}
		if p.MinTerm <= 0 || p.MaxTerm < p.MinTerm {
			errs = append(errs, fmt.Errorf("loan product %s: invalid term bounds %d..%d", code, p.MinTerm, p.MaxTerm))
		}
		if p.BaseInterestRate.IsNegative() {
			errs = append(errs, fmt.Errorf("loan product %s: negative base rate", code))
		}
	}
	for code, p := range c.AccountProducts {
		if p.MinimumBalance < 0 {
			errs = append(errs, fmt.Errorf("account product %s: negative minimum balance", code))
		}
		if (p.DailyLimit != nil && *p.DailyLimit <= 0) || (p.MonthlyLimit != nil && *p.MonthlyLimit <= 0) {
			errs = append(errs, fmt.Errorf("account product %s: limits must be positive", code))
		}
	}
	for code, p := range c.InvestmentProducts {
		if !p.Type.Valid() {
			errs = append(errs, fmt.Errorf("investment product %s: unknown type %q", code, p.Type))
		}
		if p.MinInvestment <= 0 {
			errs = append(errs, fmt.Errorf("investment product %s: minimum investment must be positive", code))
		}
	}
	for i, t := range c.Pricing {
		if (t.Below == nil) == (t.Above == nil) {
			errs = append(errs, fmt.Errorf("pricing tier %d: exactly one of below/above is required", i))
		}
	}
	if !percent(c.Fees.LateFeeRate) || !percent(c.Fees.EarlyWithdrawalPenaltyRate) {
		errs = append(errs, errors.New("fee rates must be between 0 and 100"))
	}
	if c.Deposits.MinTerm <= 0 || c.Deposits.MaxTerm < c.Deposits.MinTerm {
		errs = append(errs, fmt.Errorf("invalid deposit term bounds %d..%d", c.Deposits.MinTerm, c.Deposits.MaxTerm))
	}
	if c.Deposits.DefaultRate.IsNegative() {
		errs = append(errs, errors.New("negative default deposit rate"))
	}
	if c.Scoring.LowSavingsThreshold > c.Scoring.HighSavingsThreshold {
		errs = append(errs, errors.New("low savings threshold exceeds high threshold"))
	}
	if c.Scoring.HistoryWindow <= 0 {
		errs = append(errs, errors.New("scoring history window must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

func percent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes YAML strings and numbers into decimal.Decimal
func decimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromInt(int64(v)), nil
	}
	return data, nil
}
