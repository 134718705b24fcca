// Package stress revalues the book under named price shock scenarios.
package stress

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Tester applies scenarios to valued exposure
type Tester struct {
	logger *zap.Logger
}

// NewTester creates a stress tester
func NewTester(logger *zap.Logger) *Tester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{logger: logger}
}

// Run applies every enabled scenario. Only valued positions take part;
// unpriced positions are already reported by the valuer.
func (t *Tester) Run(scenarios []models.StressScenario, exposure *models.ExposureReport) []models.StressResult {
	out := make([]models.StressResult, 0, len(scenarios))
	for i := range scenarios {
		s := &scenarios[i]
		if !s.Enabled {
			continue
		}
		out = append(out, Apply(s, exposure))
	}
	t.logger.Debug("stress scenarios applied", zap.Int("scenarios", len(out)))
	return out
}

// Apply revalues net exposure under one scenario:
// PnlImpact = sum(netQuantity * (shockedPrice - price)).
func Apply(s *models.StressScenario, exposure *models.ExposureReport) models.StressResult {
	res := models.StressResult{
		ScenarioName: s.Name,
		Description:  s.Description,
		BaseValue:    exposure.NetExposure,
		PnlImpact:    decimal.Zero,
	}
	for _, snap := range exposure.Snapshots {
		shock, ok := s.ShockFor(snap.ProductCode)
		if !ok {
			continue
		}
		shocked := shock.Apply(snap.MarketPrice)
		impact := snap.NetQuantity.Mul(shocked.Sub(snap.MarketPrice))
		res.Impacts = append(res.Impacts, models.StressImpact{
			ProductCode:   snap.ProductCode,
			ContractMonth: snap.ContractMonth,
			NetQuantity:   snap.NetQuantity,
			BasePrice:     snap.MarketPrice,
			ShockedPrice:  shocked,
			PnlImpact:     impact.Round(2),
		})
		res.PnlImpact = res.PnlImpact.Add(impact)
	}
	res.PnlImpact = res.PnlImpact.Round(2)
	res.StressedValue = res.BaseValue.Add(res.PnlImpact)

	if base := res.BaseValue.Abs(); base.IsPositive() {
		res.PercentageChange = models.Known(res.PnlImpact.Div(base).Mul(hundred).Round(4))
	} else {
		res.PercentageChange = models.Unknown("net exposure is zero")
	}
	return res
}

// WorstLoss returns the largest loss across results, zero when every scenario gains
func WorstLoss(results []models.StressResult) decimal.Decimal {
	worst := decimal.Zero
	for _, r := range results {
		if loss := r.PnlImpact.Neg(); loss.GreaterThan(worst) {
			worst = loss
		}
	}
	return worst
}
