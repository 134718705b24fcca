package hedge

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var asOf = time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)

// mockPrices serves fixed series keyed by product, month and price type
type mockPrices struct {
	series map[seriesKey][]models.MarketPrice
	calls  int
}

func (m *mockPrices) GetPriceHistory(_ context.Context, product string, month models.ContractMonth, priceType string, _, _ time.Time) ([]models.MarketPrice, error) {
	m.calls++
	return m.series[seriesKey{product, month, priceType}], nil
}

// correlatedSeries builds n business-day spot prices and a futures series
// equal to scale*spot+basis.
func correlatedSeries(product string, month models.ContractMonth, n int, scale float64) (spot, fut []models.MarketPrice) {
	rng := rand.New(rand.NewPCG(1, 2))
	price := 80.0
	day := asOf.AddDate(0, 0, -n*7/5)
	for len(spot) < n {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		price += rng.NormFloat64()
		spot = append(spot, models.MarketPrice{ProductCode: product, PriceType: models.PriceTypeSpot, PriceDate: day, Price: d(price)})
		fut = append(fut, models.MarketPrice{ProductCode: product, ContractMonth: month, PriceType: models.PriceTypeFutures, PriceDate: day, Price: d(scale*price + 1.5)})
	}
	return spot, fut
}

func physicalPos(id, product, month string, qty float64, traded time.Time) models.Position {
	src := models.SourcePhysicalPurchase
	if qty < 0 {
		src = models.SourcePhysicalSale
	}
	return models.Position{ContractID: id, ProductCode: product, ContractMonth: models.ContractMonth(month), SourceType: src, Quantity: d(qty), TradeDate: traded}
}

func paperPos(id, product, month string, qty float64, designated time.Time) models.Position {
	return models.Position{
		ContractID:      id,
		ProductCode:     product,
		ContractMonth:   models.ContractMonth(month),
		SourceType:      models.SourcePaper,
		Quantity:        d(qty),
		IsHedge:         true,
		DesignationDate: &designated,
		TradeDate:       designated,
	}
}

func TestLink_PartialHedgeAcrossTwoLegs(t *testing.T) {
	spot, fut := correlatedSeries("WTI", "2512", 120, 1)
	prices := &mockPrices{series: map[seriesKey][]models.MarketPrice{
		{"WTI", "", models.PriceTypeSpot}:        spot,
		{"WTI", "2512", models.PriceTypeFutures}: fut,
	}}
	linker := NewLinker(DefaultConfig(), prices, nil)

	links := linker.Link(context.Background(), []models.Position{
		physicalPos("PH1", "WTI", "2512", 1000, asOf.AddDate(0, -1, 0)),
		paperPos("F1", "WTI", "2512", -400, asOf.AddDate(0, 0, -20)),
		paperPos("F2", "WTI", "2512", -300, asOf.AddDate(0, 0, -10)),
	}, asOf)

	require.Len(t, links, 1)
	link := links[0]
	assert.True(t, d(0.7).Equal(link.HedgeRatio), "ratio=%s", link.HedgeRatio)
	assert.Equal(t, models.HedgeStatusPartiallyHedged, link.Status)
	assert.True(t, link.IsPartiallyHedged())
	assert.False(t, link.OverHedged)
	require.Len(t, link.Legs, 2)
	assert.Equal(t, "F1", link.Legs[0].PaperContractID)
	assert.Equal(t, models.LinkMethodMatched, link.Legs[0].LinkMethod)

	eff, ok := link.Effectiveness.Get()
	require.True(t, ok, link.Effectiveness.Reason())
	assert.InDelta(t, 1.0, eff.InexactFloat64(), 1e-3)
	assert.False(t, link.EffectivenessFlagged)
	corr, _ := link.Correlation.Get()
	assert.InDelta(t, 1.0, corr.InexactFloat64(), 1e-3)
}

func TestLink_OldestHedgeConsumedFirst(t *testing.T) {
	linker := NewLinker(DefaultConfig(), nil, nil)
	links := linker.Link(context.Background(), []models.Position{
		physicalPos("PH-OLD", "BRENT", "2511", 600, asOf.AddDate(0, -2, 0)),
		physicalPos("PH-NEW", "BRENT", "2511", 600, asOf.AddDate(0, -1, 0)),
		paperPos("F-NEW", "BRENT", "2511", -500, asOf.AddDate(0, 0, -1)),
		paperPos("F-OLD", "BRENT", "2511", -500, asOf.AddDate(0, 0, -30)),
	}, asOf)

	require.Len(t, links, 2)
	first, second := links[0], links[1]
	assert.Equal(t, "PH-OLD", first.PhysicalContractID)
	require.Len(t, first.Legs, 2)
	assert.Equal(t, "F-OLD", first.Legs[0].PaperContractID)
	assert.True(t, d(500).Equal(first.Legs[0].LinkedQuantity))
	assert.True(t, d(100).Equal(first.Legs[1].LinkedQuantity))
	assert.Equal(t, models.HedgeStatusFullyHedged, first.Status)

	require.Len(t, second.Legs, 1)
	assert.Equal(t, "F-NEW", second.Legs[0].PaperContractID)
	assert.True(t, d(400).Equal(second.LinkedQuantity))
	assert.False(t, second.Effectiveness.IsKnown())
}

func TestLink_DesignatedOverHedgePreserved(t *testing.T) {
	f := paperPos("F1", "MF05", "2601", -800, asOf.AddDate(0, 0, -5))
	f.DesignationRef = "PH1"
	links := NewLinker(DefaultConfig(), nil, nil).Link(context.Background(), []models.Position{
		physicalPos("PH1", "MF05", "2601", 500, asOf.AddDate(0, 0, -6)),
		f,
	}, asOf)

	require.Len(t, links, 1)
	assert.True(t, d(1.6).Equal(links[0].HedgeRatio))
	assert.True(t, links[0].OverHedged)
	assert.True(t, links[0].IsFullyHedged())
	assert.Equal(t, models.LinkMethodDesignated, links[0].Legs[0].LinkMethod)
}

func TestLink_IgnoresSameSignAndSpeculativePaper(t *testing.T) {
	speculative := paperPos("F2", "JET", "2512", 100, asOf)
	speculative.IsHedge = false
	links := NewLinker(DefaultConfig(), nil, nil).Link(context.Background(), []models.Position{
		physicalPos("PH1", "JET", "2512", -1000, asOf.AddDate(0, 0, -3)),
		paperPos("F1", "JET", "2512", -100, asOf),
		speculative,
		paperPos("F3", "JET", "2601", 100, asOf),
	}, asOf)

	require.Len(t, links, 1)
	assert.True(t, links[0].IsUnhedged())
	assert.Equal(t, models.HedgeStatusUnhedged, links[0].Status)
	assert.Empty(t, links[0].Legs)
	assert.Equal(t, "no hedge legs", links[0].Effectiveness.Reason())
}

func TestLink_FlagsEffectivenessOutsideBand(t *testing.T) {
	spot, fut := correlatedSeries("BRENT", "2512", 120, 2)
	prices := &mockPrices{series: map[seriesKey][]models.MarketPrice{
		{"BRENT", "", models.PriceTypeSpot}:        spot,
		{"BRENT", "2512", models.PriceTypeFutures}: fut,
	}}
	links := NewLinker(DefaultConfig(), prices, nil).Link(context.Background(), []models.Position{
		physicalPos("PH1", "BRENT", "2512", 1000, asOf.AddDate(0, 0, -3)),
		paperPos("F1", "BRENT", "2512", -1000, asOf.AddDate(0, 0, -2)),
	}, asOf)

	require.Len(t, links, 1)
	eff, ok := links[0].Effectiveness.Get()
	require.True(t, ok)
	assert.InDelta(t, 0.5, eff.InexactFloat64(), 1e-3)
	assert.True(t, links[0].EffectivenessFlagged)
	assert.Equal(t, models.HedgeStatusFullyHedged, links[0].Status, "flagged hedges are not rejected")
}

func TestLink_ShortHistoryIsUnknown(t *testing.T) {
	spot, fut := correlatedSeries("WTI", "2512", 15, 1)
	prices := &mockPrices{series: map[seriesKey][]models.MarketPrice{
		{"WTI", "", models.PriceTypeSpot}:        spot,
		{"WTI", "2512", models.PriceTypeFutures}: fut,
	}}
	links := NewLinker(DefaultConfig(), prices, nil).Link(context.Background(), []models.Position{
		physicalPos("PH1", "WTI", "2512", 1000, asOf),
		paperPos("F1", "WTI", "2512", -500, asOf),
	}, asOf)

	require.Len(t, links, 1)
	assert.False(t, links[0].Effectiveness.IsKnown())
	assert.Contains(t, links[0].Effectiveness.Reason(), "20 required")
}

func TestEffectiveness_UsesTrailingWindow(t *testing.T) {
	spot, fut := correlatedSeries("WTI", "2512", 200, 1)
	_, _, n, err := Effectiveness(spot, fut, 90, 20)
	require.NoError(t, err)
	assert.Equal(t, 90, n)
}

func TestClassify_ExclusiveAndExhaustive(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 500; i++ {
		ratio := decimal.NewFromFloat(rng.Float64() * 2).Round(3)
		if i%50 == 0 {
			ratio = decimal.Zero
		}
		link := models.HedgeLink{HedgeRatio: ratio}
		count := 0
		for _, b := range []bool{link.IsFullyHedged(), link.IsPartiallyHedged(), link.IsUnhedged()} {
			if b {
				count++
			}
		}
		assert.Equal(t, 1, count, "ratio %s", ratio)
		assert.False(t, ratio.IsNegative())
	}
}

type fixedPricer map[string]decimal.Decimal

func (p fixedPricer) PriceFor(product string, _ models.ContractMonth) (decimal.Decimal, bool) {
	v, ok := p[product]
	return v, ok
}

func TestUnhedgedReport(t *testing.T) {
	catalog := models.NewProductCatalog(models.DefaultProducts())
	links := []models.HedgeLink{
		{PhysicalContractID: "A", ProductCode: "BRENT", PhysicalQuantity: d(1000), LinkedQuantity: d(0), HedgeRatio: d(0), Status: models.HedgeStatusUnhedged},
		{PhysicalContractID: "B", ProductCode: "BRENT", PhysicalQuantity: d(100000), LinkedQuantity: d(30000), HedgeRatio: d(0.3), Status: models.HedgeStatusPartiallyHedged},
		{PhysicalContractID: "C", ProductCode: "WTI", PhysicalQuantity: d(-50000), LinkedQuantity: d(0), HedgeRatio: d(0), Status: models.HedgeStatusUnhedged},
		{PhysicalContractID: "D", ProductCode: "GASOIL", PhysicalQuantity: d(500), LinkedQuantity: d(500), HedgeRatio: d(1), Status: models.HedgeStatusFullyHedged},
		{PhysicalContractID: "E", ProductCode: "JET", PhysicalQuantity: d(500), LinkedQuantity: d(0), HedgeRatio: d(0), Status: models.HedgeStatusUnhedged},
	}
	report := UnhedgedReport(links, fixedPricer{"BRENT": d(85), "WTI": d(80)}, catalog, Thresholds{Medium: d(1e6), High: d(5e6)})

	require.Len(t, report, 4)
	assert.Equal(t, "A", report[0].ContractID)
	assert.Equal(t, models.RiskLevelLow, report[0].RiskLevel)

	assert.Equal(t, models.RiskLevelHigh, report[1].RiskLevel, "70,000 bbl x 85 = 5.95m")
	exposure, _ := report[1].Exposure.Get()
	assert.True(t, d(5950000).Equal(exposure))

	assert.Equal(t, models.RiskLevelMedium, report[2].RiskLevel, "50,000 bbl x 80 = 4m")

	assert.Equal(t, "E", report[3].ContractID)
	assert.False(t, report[3].Exposure.IsKnown())
	assert.Equal(t, models.RiskLevelHigh, report[3].RiskLevel)
}
