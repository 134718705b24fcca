package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

var asOf = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

type fakeContracts struct {
	contracts []models.Contract
	err       error
}

func (f *fakeContracts) GetContracts(_ context.Context, _ bool) ([]models.Contract, error) {
	return f.contracts, f.err
}

type priceKey struct {
	product   string
	month     models.ContractMonth
	priceType string
}

// fakePrices serves ascending series. Futures lookups for a month without
// their own series fall back to the product's spot series.
type fakePrices struct {
	series map[priceKey][]models.MarketPrice
}

func (f *fakePrices) lookup(product string, month models.ContractMonth, priceType string) []models.MarketPrice {
	if s, ok := f.series[priceKey{product, month, priceType}]; ok {
		return s
	}
	if priceType == models.PriceTypeFutures {
		return f.series[priceKey{product, "", models.PriceTypeSpot}]
	}
	return nil
}

func (f *fakePrices) GetLatestPrice(_ context.Context, product string, month models.ContractMonth, priceType string, at time.Time) (*models.MarketPrice, error) {
	s := f.lookup(product, month, priceType)
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].PriceDate.After(at) {
			p := s[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%s %s %s: %w", product, month, priceType, riskerr.ErrNotFound)
}

func (f *fakePrices) GetPriceHistory(_ context.Context, product string, month models.ContractMonth, priceType string, from, to time.Time) ([]models.MarketPrice, error) {
	var out []models.MarketPrice
	for _, p := range f.lookup(product, month, priceType) {
		if !p.PriceDate.Before(from) && !p.PriceDate.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// spotSeries is a business-day random walk ending on asOf. Every series
// shares a common factor so products are positively correlated.
func spotSeries(product string, start float64, n int, seed uint64) []models.MarketPrice {
	common := rand.New(rand.NewPCG(7, 7))
	rng := rand.New(rand.NewPCG(seed, 99))
	var days []time.Time
	for day := asOf; len(days) < n; day = day.AddDate(0, 0, -1) {
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]models.MarketPrice, n)
	price := start
	for i, day := range days {
		price *= 1 + 0.015*(0.8*common.NormFloat64()+0.6*rng.NormFloat64())
		out[i] = models.MarketPrice{ProductCode: product, PriceType: models.PriceTypeSpot, PriceDate: day, Price: decimal.NewFromFloat(price).Round(2)}
	}
	return out
}

func newFakePrices(products ...string) *fakePrices {
	f := &fakePrices{series: map[priceKey][]models.MarketPrice{}}
	for i, p := range products {
		f.series[priceKey{p, "", models.PriceTypeSpot}] = spotSeries(p, 70+float64(i)*5, 400, uint64(i+1))
	}
	return f
}

type fakeLimits struct{ limits []models.RiskLimit }

func (f *fakeLimits) GetRiskLimits(_ context.Context, _ bool) ([]models.RiskLimit, error) {
	return f.limits, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.RiskEvent
}

func (f *fakePublisher) PublishRiskEvent(_ context.Context, e *models.RiskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeSnapshots struct {
	stored   []models.RiskSnapshot
	realized map[int]decimal.Decimal
}

func (f *fakeSnapshots) SaveRiskSnapshots(_ context.Context, snaps []models.RiskSnapshot) error {
	for _, s := range snaps {
		s.ID = len(f.stored) + 1
		f.stored = append(f.stored, s)
	}
	return nil
}

func (f *fakeSnapshots) GetRiskSnapshots(_ context.Context, scope string, from, to time.Time) ([]models.RiskSnapshot, error) {
	var out []models.RiskSnapshot
	for _, s := range f.stored {
		if (scope == "" || s.Scope == scope) && !s.AsOfDate.Before(from) && !s.AsOfDate.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSnapshots) SetRealizedPnL(_ context.Context, id int, pnl decimal.Decimal) error {
	if f.realized == nil {
		f.realized = map[int]decimal.Decimal{}
	}
	f.realized[id] = pnl
	for i := range f.stored {
		if f.stored[i].ID == id {
			v := pnl
			f.stored[i].RealizedPnL = &v
		}
	}
	return nil
}

type fakeCache struct {
	reports map[string]*models.RiskReport
	sets    int
}

func (f *fakeCache) GetReport(_ context.Context, at time.Time) (*models.RiskReport, error) {
	if r, ok := f.reports[at.Format("2006-01-02")]; ok {
		return r, nil
	}
	return nil, riskerr.ErrNotFound
}

func (f *fakeCache) SetReport(_ context.Context, r *models.RiskReport) error {
	if f.reports == nil {
		f.reports = map[string]*models.RiskReport{}
	}
	f.reports[r.AsOfDate.Format("2006-01-02")] = r
	f.sets++
	return nil
}
