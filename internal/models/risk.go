package models

import (
	"github.com/shopspring/decimal"
)

// VaR method constants
const (
	VaRMethodHistorical = "HISTORICAL"
	VaRMethodGARCH      = "GARCH"
	VaRMethodMonteCarlo = "MONTE_CARLO"
)

// VaRMethods lists the methods in reporting order
var VaRMethods = []string{VaRMethodHistorical, VaRMethodGARCH, VaRMethodMonteCarlo}

// VaRResult is a one-day loss estimate for one method and confidence level
type VaRResult struct {
	Method            string          `json:"method"`
	Confidence        float64         `json:"confidence"`
	VaR               decimal.Decimal `json:"var"`
	ExpectedShortfall decimal.Decimal `json:"expected_shortfall"`
	Observations      int             `json:"observations"`
	Degraded          bool            `json:"degraded"`
	DegradedReason    string          `json:"degraded_reason,omitempty"`
}

// FindVaR returns the result for a method and confidence
func FindVaR(results []VaRResult, method string, confidence float64) (VaRResult, bool) {
	for _, r := range results {
		if r.Method == method && r.Confidence == confidence {
			return r, true
		}
	}
	return VaRResult{}, false
}

// ProductRisk holds standalone VaR for one product across all its months
type ProductRisk struct {
	ProductCode string          `json:"product_code"`
	NetExposure decimal.Decimal `json:"net_exposure"`
	Results     []VaRResult     `json:"results"`
}

// AggregationBenefit compares standalone VaRs with the VaR of their combination
type AggregationBenefit struct {
	Method             string          `json:"method"`
	Confidence         float64         `json:"confidence"`
	SumOfVaR           decimal.Decimal `json:"sum_of_var"`
	CombinedVaR        decimal.Decimal `json:"combined_var"`
	CorrelationBenefit decimal.Decimal `json:"correlation_benefit"`
}

// PortfolioRisk is VaR of the whole valued book
type PortfolioRisk struct {
	NetExposure   decimal.Decimal      `json:"net_exposure"`
	GrossExposure decimal.Decimal      `json:"gross_exposure"`
	Results       []VaRResult          `json:"results"`
	Benefits      []AggregationBenefit `json:"benefits"`
}

// TradeGroupRisk is VaR of a strategy group measured on its net exposure
type TradeGroupRisk struct {
	TradeGroupID     string                     `json:"trade_group_id"`
	ContractIDs      []string                   `json:"contract_ids"`
	NetExposure      map[string]decimal.Decimal `json:"net_exposure"`
	GrossLegExposure decimal.Decimal            `json:"gross_leg_exposure"`
	TotalNetExposure decimal.Decimal            `json:"total_net_exposure"`
	Results          []VaRResult                `json:"results"`
	GrossLegVaR      []VaRResult                `json:"gross_leg_var"`
}

// Issue severity constants
const (
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// Calculation stage constants
const (
	StageAggregation = "AGGREGATION"
	StageHedging     = "HEDGING"
	StageValuation   = "VALUATION"
	StageVaR         = "VAR"
	StageStress      = "STRESS"
	StageLimits      = "LIMITS"
	StageBacktest    = "BACKTEST"
)

// CalculationIssue records a skipped, degraded or failed sub-calculation
type CalculationIssue struct {
	Stage    string `json:"stage"`
	Entity   string `json:"entity"`
	Method   string `json:"method,omitempty"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}
