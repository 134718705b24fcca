package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskReport is the canonical result of one risk run. Narrower views are
// produced by the projection methods below.
type RiskReport struct {
	RunID            string               `json:"run_id"`
	AsOfDate         time.Time            `json:"as_of_date"`
	GeneratedAt      time.Time            `json:"generated_at"`
	Positions        []NetPosition        `json:"positions"`
	Hedges           []HedgeLink          `json:"hedges"`
	Unhedged         []UnhedgedPosition   `json:"unhedged"`
	Exposure         ExposureReport       `json:"exposure"`
	Products         []ProductRisk        `json:"products"`
	Portfolio        PortfolioRisk        `json:"portfolio"`
	TradeGroups      []TradeGroupRisk     `json:"trade_groups"`
	GroupAggregation []AggregationBenefit `json:"group_aggregation"`
	Stress           []StressResult       `json:"stress"`
	Limits           []LimitUtilization   `json:"limits"`
	NewBreaches      []LimitBreach        `json:"new_breaches"`
	Issues           []CalculationIssue   `json:"issues"`
}

// PortfolioSummary is the dashboard view of a run
type PortfolioSummary struct {
	RunID                string               `json:"run_id"`
	AsOfDate             time.Time            `json:"as_of_date"`
	GrossExposure        decimal.Decimal      `json:"gross_exposure"`
	NetExposure          decimal.Decimal      `json:"net_exposure"`
	DiversificationRatio Measure              `json:"diversification_ratio"`
	VaR                  []VaRResult          `json:"var"`
	Benefits             []AggregationBenefit `json:"benefits"`
	Degraded             bool                 `json:"degraded"`
	IssueCount           int                  `json:"issue_count"`
	BreachCount          int                  `json:"breach_count"`
}

// Summary projects the portfolio-level figures
func (r *RiskReport) Summary() PortfolioSummary {
	degraded := len(r.Issues) > 0
	for _, v := range r.Portfolio.Results {
		if v.Degraded {
			degraded = true
		}
	}
	breaches := 0
	for _, l := range r.Limits {
		if l.Status == LimitStatusBreach {
			breaches++
		}
	}
	return PortfolioSummary{
		RunID:                r.RunID,
		AsOfDate:             r.AsOfDate,
		GrossExposure:        r.Exposure.GrossExposure,
		NetExposure:          r.Exposure.NetExposure,
		DiversificationRatio: r.Exposure.DiversificationRatio,
		VaR:                  r.Portfolio.Results,
		Benefits:             r.Portfolio.Benefits,
		Degraded:             degraded,
		IssueCount:           len(r.Issues),
		BreachCount:          breaches,
	}
}

// TradeGroupBreakdown is the per-group view of a run
type TradeGroupBreakdown struct {
	RunID       string               `json:"run_id"`
	AsOfDate    time.Time            `json:"as_of_date"`
	Groups      []TradeGroupRisk     `json:"groups"`
	Aggregation []AggregationBenefit `json:"aggregation"`
}

// TradeGroupBreakdown projects the trade group figures
func (r *RiskReport) TradeGroupBreakdown() TradeGroupBreakdown {
	return TradeGroupBreakdown{
		RunID:       r.RunID,
		AsOfDate:    r.AsOfDate,
		Groups:      r.TradeGroups,
		Aggregation: r.GroupAggregation,
	}
}

// HedgeReport is the hedge effectiveness and unhedged exposure view
type HedgeReport struct {
	RunID          string             `json:"run_id"`
	AsOfDate       time.Time          `json:"as_of_date"`
	Links          []HedgeLink        `json:"links"`
	Unhedged       []UnhedgedPosition `json:"unhedged"`
	FlaggedCount   int                `json:"flagged_count"`
	OverHedgeCount int                `json:"over_hedge_count"`
}

// HedgeReport projects the hedge figures
func (r *RiskReport) HedgeReport() HedgeReport {
	out := HedgeReport{RunID: r.RunID, AsOfDate: r.AsOfDate, Links: r.Hedges, Unhedged: r.Unhedged}
	for _, h := range r.Hedges {
		if h.EffectivenessFlagged {
			out.FlaggedCount++
		}
		if h.OverHedged {
			out.OverHedgeCount++
		}
	}
	return out
}

// RiskSnapshot is a stored VaR estimate used later for backtesting
type RiskSnapshot struct {
	ID                int             `json:"id"`
	AsOfDate          time.Time       `json:"as_of_date"`
	Scope             string          `json:"scope"`
	Method            string          `json:"method"`
	Confidence        float64         `json:"confidence"`
	VaR               decimal.Decimal `json:"var"`
	ExpectedShortfall decimal.Decimal `json:"expected_shortfall"`
	NetExposure       decimal.Decimal `json:"net_exposure"`
	// Exposures is the net exposure per product the estimate was made on
	Exposures   map[string]decimal.Decimal `json:"exposures"`
	Degraded    bool                       `json:"degraded"`
	RunID       string                     `json:"run_id"`
	RealizedPnL *decimal.Decimal           `json:"realized_pnl,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// ComputeRealizedPnL values the snapshot's exposures with one day of product returns.
// It reports false when a return is missing for any exposed product.
func (s *RiskSnapshot) ComputeRealizedPnL(returns map[string]float64) (decimal.Decimal, bool) {
	total := decimal.Zero
	for p, e := range s.Exposures {
		if e.IsZero() {
			continue
		}
		r, ok := returns[p]
		if !ok {
			return decimal.Zero, false
		}
		total = total.Add(e.Mul(decimal.NewFromFloat(r)))
	}
	return total.Round(2), true
}

// Snapshots projects the VaR estimates of a run for storage
func (r *RiskReport) Snapshots() []RiskSnapshot {
	var out []RiskSnapshot
	add := func(scope string, net decimal.Decimal, exposures map[string]decimal.Decimal, results []VaRResult) {
		for _, v := range results {
			out = append(out, RiskSnapshot{
				AsOfDate:          r.AsOfDate,
				Scope:             scope,
				Method:            v.Method,
				Confidence:        v.Confidence,
				VaR:               v.VaR,
				ExpectedShortfall: v.ExpectedShortfall,
				NetExposure:       net,
				Exposures:         exposures,
				Degraded:          v.Degraded,
				RunID:             r.RunID,
			})
		}
	}
	byProduct := r.Exposure.NetExposureByProduct()
	add(ScopePortfolio, r.Portfolio.NetExposure, byProduct, r.Portfolio.Results)
	for _, p := range r.Products {
		add(ProductScope(p.ProductCode), p.NetExposure, map[string]decimal.Decimal{p.ProductCode: p.NetExposure}, p.Results)
	}
	for _, g := range r.TradeGroups {
		add(GroupScope(g.TradeGroupID), g.TotalNetExposure, g.NetExposure, g.Results)
	}
	return out
}

// Risk event type constants
const (
	EventLimitBreached    = "LIMIT_BREACHED"
	EventBreachResolved   = "BREACH_RESOLVED"
	EventRiskRunCompleted = "RISK_RUN_COMPLETED"
)

// RiskEvent is published to downstream reporting consumers
type RiskEvent struct {
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Breach    *LimitBreach      `json:"breach,omitempty"`
	Summary   *PortfolioSummary `json:"summary,omitempty"`
}
