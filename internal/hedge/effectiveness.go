package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

var errNoVariance = errors.New("hedge price series has no variance")

// InsufficientObservationsError reports a window too short for a point estimate
type InsufficientObservationsError struct {
	Have, Need int
}

func (e *InsufficientObservationsError) Error() string {
	return fmt.Sprintf("%d aligned price observations, %d required", e.Have, e.Need)
}

// Effectiveness regresses physical price changes on hedge price changes over
// the trailing window of common dates. It returns the minimum-variance slope
// (the effectiveness score), the Pearson correlation and the observation count.
func Effectiveness(physical, hedge []models.MarketPrice, window, minObs int) (score, correlation float64, n int, err error) {
	hedgeByDate := make(map[time.Time]float64, len(hedge))
	for _, p := range hedge {
		hedgeByDate[p.PriceDate.UTC().Truncate(24*time.Hour)] = p.Price.InexactFloat64()
	}

	type pair struct {
		date        time.Time
		phys, hedge float64
	}
	var common []pair
	for _, p := range physical {
		day := p.PriceDate.UTC().Truncate(24 * time.Hour)
		if h, ok := hedgeByDate[day]; ok {
			common = append(common, pair{date: day, phys: p.Price.InexactFloat64(), hedge: h})
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].date.Before(common[j].date) })
	if len(common) > window+1 {
		common = common[len(common)-window-1:]
	}

	var dp, dh []float64
	for i := 1; i < len(common); i++ {
		dp = append(dp, common[i].phys-common[i-1].phys)
		dh = append(dh, common[i].hedge-common[i-1].hedge)
	}
	n = len(dp)
	if n < minObs {
		return 0, 0, n, &InsufficientObservationsError{Have: n, Need: minObs}
	}

	varH := stat.Variance(dh, nil)
	if varH == 0 || math.IsNaN(varH) {
		return 0, 0, n, errNoVariance
	}
	correlation = stat.Correlation(dp, dh, nil)
	score = stat.Covariance(dp, dh, nil) / varH
	if math.IsNaN(correlation) {
		correlation = 0
	}
	return score, correlation, n, nil
}

type seriesKey struct {
	product   string
	month     models.ContractMonth
	priceType string
}

type seriesResult struct {
	prices []models.MarketPrice
	err    error
}

// seriesCache memoizes price series for one Link call
type seriesCache struct {
	source PriceHistory
	cache  map[seriesKey]seriesResult
}

func newSeriesCache(source PriceHistory) *seriesCache {
	return &seriesCache{source: source, cache: make(map[seriesKey]seriesResult)}
}

func (c *seriesCache) get(ctx context.Context, key seriesKey, from, to time.Time) ([]models.MarketPrice, error) {
	if r, ok := c.cache[key]; ok {
		return r.prices, r.err
	}
	prices, err := c.source.GetPriceHistory(ctx, key.product, key.month, key.priceType, from, to)
	c.cache[key] = seriesResult{prices: prices, err: err}
	return prices, err
}

// assess fills the effectiveness fields of a link. Legs are tested against
// the futures series of their own month and combined weighted by linked quantity.
func (l *Linker) assess(ctx context.Context, link *models.HedgeLink, series *seriesCache, asOf time.Time) {
	if len(link.Legs) == 0 {
		link.Effectiveness = models.Unknown("no hedge legs")
		link.Correlation = models.Unknown("no hedge legs")
		return
	}
	if l.prices == nil {
		link.Effectiveness = models.Unknown("no price history source")
		link.Correlation = models.Unknown("no price history source")
		return
	}

	// Calendar span comfortably covering the trading-day window.
	from := asOf.AddDate(0, 0, -(l.cfg.WindowDays*7/5 + 14))
	phys, err := series.get(ctx, seriesKey{link.ProductCode, "", models.PriceTypeSpot}, from, asOf)
	if err != nil {
		l.logger.Warn("physical price history unavailable",
			zap.String("contract_id", link.PhysicalContractID), zap.Error(err))
		link.Effectiveness = models.Unknown("physical price history unavailable: " + err.Error())
		link.Correlation = link.Effectiveness
		return
	}

	weights := make(map[models.ContractMonth]float64)
	for _, leg := range link.Legs {
		weights[leg.ContractMonth] += leg.LinkedQuantity.InexactFloat64()
	}
	months := make([]models.ContractMonth, 0, len(weights))
	for m := range weights {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })

	var scoreSum, corrSum, weightSum float64
	reason := ""
	for _, m := range months {
		hedgePrices, err := series.get(ctx, seriesKey{link.ProductCode, m, models.PriceTypeFutures}, from, asOf)
		if err != nil {
			reason = "hedge price history unavailable: " + err.Error()
			continue
		}
		score, corr, _, err := Effectiveness(phys, hedgePrices, l.cfg.WindowDays, l.cfg.MinObservations)
		if err != nil {
			reason = err.Error()
			continue
		}
		w := weights[m]
		scoreSum += score * w
		corrSum += corr * w
		weightSum += w
	}

	if weightSum == 0 {
		link.Effectiveness = models.Unknown(reason)
		link.Correlation = models.Unknown(reason)
		return
	}
	link.Effectiveness = models.KnownFloat(scoreSum/weightSum, 4)
	link.Correlation = models.KnownFloat(corrSum/weightSum, 4)

	v, _ := link.Effectiveness.Get()
	if v.LessThan(l.cfg.EffectivenessLow) || v.GreaterThan(l.cfg.EffectivenessHigh) {
		link.EffectivenessFlagged = true
		l.logger.Info("hedge effectiveness outside accounting band",
			zap.String("contract_id", link.PhysicalContractID),
			zap.String("effectiveness", v.String()))
	}
}

// Pricer returns the mark used for unhedged exposure
type Pricer interface {
	PriceFor(product string, month models.ContractMonth) (decimal.Decimal, bool)
}

// Thresholds are the fallback exposure bands for products missing from the catalogue
type Thresholds struct {
	Medium decimal.Decimal
	High   decimal.Decimal
}

// UnhedgedReport lists every physical position with uncovered quantity.
// Positions without a price are tagged High since their exposure cannot be bounded.
func UnhedgedReport(links []models.HedgeLink, pricer Pricer, catalog *models.ProductCatalog, fallback Thresholds) []models.UnhedgedPosition {
	var out []models.UnhedgedPosition
	for _, link := range links {
		qty := link.UnhedgedQuantity()
		if !qty.IsPositive() {
			continue
		}
		row := models.UnhedgedPosition{
			ContractID:       link.PhysicalContractID,
			ProductCode:      link.ProductCode,
			ContractMonth:    link.ContractMonth,
			HedgeStatus:      link.Status,
			UnhedgedQuantity: qty,
			RiskLevel:        models.RiskLevelHigh,
		}
		price, ok := decimal.Zero, false
		if pricer != nil {
			price, ok = pricer.PriceFor(link.ProductCode, link.ContractMonth)
		}
		if !ok {
			row.Exposure = models.Unknown("no market price")
			out = append(out, row)
			continue
		}
		exposure := qty.Mul(price).Abs()
		row.Exposure = models.Known(exposure.Round(2))

		th := fallback
		if p, found := catalog.Lookup(link.ProductCode); found && p.UnhedgedHighThreshold.IsPositive() {
			th = Thresholds{Medium: p.UnhedgedMediumThreshold, High: p.UnhedgedHighThreshold}
		}
		row.RiskLevel = RiskLevel(exposure, th)
		out = append(out, row)
	}
	return out
}

// RiskLevel tags an exposure magnitude
func RiskLevel(exposure decimal.Decimal, th Thresholds) string {
	switch {
	case exposure.GreaterThanOrEqual(th.High):
		return models.RiskLevelHigh
	case exposure.GreaterThanOrEqual(th.Medium):
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
