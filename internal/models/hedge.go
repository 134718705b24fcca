package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hedge classification constants
const (
	HedgeStatusFullyHedged     = "FULLY_HEDGED"
	HedgeStatusPartiallyHedged = "PARTIALLY_HEDGED"
	HedgeStatusUnhedged        = "UNHEDGED"
)

// Link method constants
const (
	LinkMethodDesignated = "DESIGNATED"
	LinkMethodMatched    = "MATCHED"
)

// Risk level constants
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// HedgeLeg is the share of one paper position allocated to a physical position
type HedgeLeg struct {
	PaperContractID string          `json:"paper_contract_id"`
	ContractMonth   ContractMonth   `json:"contract_month"`
	LinkedQuantity  decimal.Decimal `json:"linked_quantity"`
	LinkMethod      string          `json:"link_method"`
	DesignationDate *time.Time      `json:"designation_date,omitempty"`
}

// HedgeLink relates one physical position to the paper positions hedging it
type HedgeLink struct {
	PhysicalContractID string          `json:"physical_contract_id"`
	ProductCode        string          `json:"product_code"`
	ContractMonth      ContractMonth   `json:"contract_month"`
	PhysicalQuantity   decimal.Decimal `json:"physical_quantity"`
	LinkedQuantity     decimal.Decimal `json:"linked_quantity"`
	HedgeRatio         decimal.Decimal `json:"hedge_ratio"`
	Legs               []HedgeLeg      `json:"legs"`
	Effectiveness      Measure         `json:"effectiveness"`
	Correlation        Measure         `json:"correlation"`
	// EffectivenessFlagged is set when a known effectiveness falls outside the
	// accounting band. The link is kept either way.
	EffectivenessFlagged bool   `json:"effectiveness_flagged"`
	OverHedged           bool   `json:"over_hedged"`
	Status               string `json:"status"`
}

// IsFullyHedged reports a hedge ratio of at least one
func (h *HedgeLink) IsFullyHedged() bool {
	return h.HedgeRatio.GreaterThanOrEqual(decimal.NewFromInt(1))
}

// IsPartiallyHedged reports a hedge ratio strictly between zero and one
func (h *HedgeLink) IsPartiallyHedged() bool {
	return h.HedgeRatio.IsPositive() && h.HedgeRatio.LessThan(decimal.NewFromInt(1))
}

// IsUnhedged reports a zero hedge ratio
func (h *HedgeLink) IsUnhedged() bool {
	return !h.HedgeRatio.IsPositive()
}

// UnhedgedQuantity is the physical quantity not covered by any paper
func (h *HedgeLink) UnhedgedQuantity() decimal.Decimal {
	rest := h.PhysicalQuantity.Abs().Sub(h.LinkedQuantity)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// UnhedgedPosition is a row of the unhedged exposure report
type UnhedgedPosition struct {
	ContractID       string          `json:"contract_id"`
	ProductCode      string          `json:"product_code"`
	ContractMonth    ContractMonth   `json:"contract_month"`
	HedgeStatus      string          `json:"hedge_status"`
	UnhedgedQuantity decimal.Decimal `json:"unhedged_quantity"`
	Exposure         Measure         `json:"exposure"`
	RiskLevel        string          `json:"risk_level"`
}
