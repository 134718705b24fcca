package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Shock type constants
const (
	ShockTypePercentage = "PERCENTAGE"
	ShockTypeAbsolute   = "ABSOLUTE"
)

// AllProducts matches any product in a shock definition
const AllProducts = "*"

// PriceShock moves one product's price (or every product's, with "*").
// Percentage shocks are fractions: -0.10 is a 10% fall.
type PriceShock struct {
	ProductCode string          `json:"product_code"`
	ShockType   string          `json:"shock_type"`
	Value       decimal.Decimal `json:"value"`
}

// Apply returns the shocked price
func (s PriceShock) Apply(price decimal.Decimal) decimal.Decimal {
	if s.ShockType == ShockTypeAbsolute {
		return price.Add(s.Value)
	}
	return price.Mul(decimal.NewFromInt(1).Add(s.Value))
}

// StressScenario is a named set of price shocks
type StressScenario struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Shocks      []PriceShock `json:"shocks"`
	Enabled     bool         `json:"enabled"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks a scenario before it is stored
func (s *StressScenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	if len(s.Shocks) == 0 {
		return errors.New("at least one shock is required")
	}
	seen := make(map[string]bool, len(s.Shocks))
	for _, sh := range s.Shocks {
		if sh.ProductCode == "" {
			return errors.New("shock product_code is required")
		}
		if seen[sh.ProductCode] {
			return fmt.Errorf("duplicate shock for %s", sh.ProductCode)
		}
		seen[sh.ProductCode] = true
		switch sh.ShockType {
		case ShockTypePercentage:
			if sh.Value.LessThanOrEqual(decimal.NewFromInt(-1)) {
				return fmt.Errorf("percentage shock for %s must be greater than -1", sh.ProductCode)
			}
		case ShockTypeAbsolute:
		default:
			return fmt.Errorf("invalid shock type: %s", sh.ShockType)
		}
	}
	return nil
}

// ShockFor returns the shock for a product, preferring an exact match over "*"
func (s *StressScenario) ShockFor(product string) (PriceShock, bool) {
	var fallback *PriceShock
	for i := range s.Shocks {
		switch s.Shocks[i].ProductCode {
		case product:
			return s.Shocks[i], true
		case AllProducts:
			fallback = &s.Shocks[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return PriceShock{}, false
}

// StressImpact is the revaluation of one product and month under a scenario
type StressImpact struct {
	ProductCode   string          `json:"product_code"`
	ContractMonth ContractMonth   `json:"contract_month"`
	NetQuantity   decimal.Decimal `json:"net_quantity"`
	BasePrice     decimal.Decimal `json:"base_price"`
	ShockedPrice  decimal.Decimal `json:"shocked_price"`
	PnlImpact     decimal.Decimal `json:"pnl_impact"`
}

// StressResult is the outcome of one scenario
type StressResult struct {
	ScenarioName     string          `json:"scenario_name"`
	Description      string          `json:"description,omitempty"`
	BaseValue        decimal.Decimal `json:"base_value"`
	StressedValue    decimal.Decimal `json:"stressed_value"`
	PnlImpact        decimal.Decimal `json:"pnl_impact"`
	PercentageChange Measure         `json:"percentage_change"`
	Impacts          []StressImpact  `json:"impacts"`
}

// DefaultStressScenarios is the seed catalogue
func DefaultStressScenarios() []StressScenario {
	pct := func(product string, v float64) PriceShock {
		return PriceShock{ProductCode: product, ShockType: ShockTypePercentage, Value: decimal.NewFromFloat(v)}
	}
	abs := func(product string, v float64) PriceShock {
		return PriceShock{ProductCode: product, ShockType: ShockTypeAbsolute, Value: decimal.NewFromFloat(v)}
	}
	return []StressScenario{
		{Name: "-10% Shock", Description: "All prices fall 10%", Shocks: []PriceShock{pct(AllProducts, -0.10)}, Enabled: true},
		{Name: "+10% Shock", Description: "All prices rise 10%", Shocks: []PriceShock{pct(AllProducts, 0.10)}, Enabled: true},
		{Name: "Historical Worst", Description: "Worst observed daily move, -15%", Shocks: []PriceShock{pct(AllProducts, -0.15)}, Enabled: true},
		{Name: "-10% Crude Shock", Description: "Crude benchmarks fall 10%", Shocks: []PriceShock{pct("BRENT", -0.10), pct("WTI", -0.10)}, Enabled: true},
		{Name: "Sulfur Spread Widening", Description: "HSFO weakens and VLSFO strengthens by 15 USD/MT", Shocks: []PriceShock{abs("380CST", -15), abs("MF05", 15)}, Enabled: true},
	}
}
