// Package hedge links paper positions to the physical positions they hedge.
package hedge

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// PriceHistory supplies the dated price series used for effectiveness testing
type PriceHistory interface {
	GetPriceHistory(ctx context.Context, product string, month models.ContractMonth, priceType string, from, to time.Time) ([]models.MarketPrice, error)
}

// Config controls allocation and effectiveness testing
type Config struct {
	WindowDays        int
	MinObservations   int
	EffectivenessLow  decimal.Decimal
	EffectivenessHigh decimal.Decimal
}

// DefaultConfig is a 90 day window, 20 observation minimum and the 80-125% band
func DefaultConfig() Config {
	return Config{
		WindowDays:        90,
		MinObservations:   20,
		EffectivenessLow:  decimal.NewFromFloat(0.80),
		EffectivenessHigh: decimal.NewFromFloat(1.25),
	}
}

// Linker allocates paper to physical positions
type Linker struct {
	cfg    Config
	prices PriceHistory
	logger *zap.Logger
}

// NewLinker creates a linker. prices may be nil, in which case every
// effectiveness is reported unknown.
func NewLinker(cfg Config, prices PriceHistory, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{cfg: cfg, prices: prices, logger: logger}
}

type paperLeg struct {
	pos       models.Position
	remaining decimal.Decimal
}

func (p *paperLeg) date() time.Time {
	if p.pos.DesignationDate != nil {
		return *p.pos.DesignationDate
	}
	return p.pos.TradeDate
}

// Link returns one HedgeLink per physical position with open quantity.
//
// Paper explicitly designated to a physical contract is linked in full, so an
// over-designation shows up as a ratio above one. Remaining physical exposure is
// then covered by undesignated hedge paper of the same product and month with
// the opposite sign, oldest designation first, each leg capped at
// min(remaining physical, remaining paper).
func (l *Linker) Link(ctx context.Context, positions []models.Position, asOf time.Time) []models.HedgeLink {
	var physical []models.Position
	var paper []*paperLeg
	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		if p.SourceType == models.SourcePaper {
			paper = append(paper, &paperLeg{pos: p, remaining: p.Quantity.Abs()})
		} else {
			physical = append(physical, p)
		}
	}

	sort.SliceStable(physical, func(i, j int) bool {
		if !physical[i].TradeDate.Equal(physical[j].TradeDate) {
			return physical[i].TradeDate.Before(physical[j].TradeDate)
		}
		return physical[i].ContractID < physical[j].ContractID
	})
	sort.SliceStable(paper, func(i, j int) bool {
		di, dj := paper[i].date(), paper[j].date()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return paper[i].pos.ContractID < paper[j].pos.ContractID
	})

	series := newSeriesCache(l.prices)
	links := make([]models.HedgeLink, 0, len(physical))
	for _, ph := range physical {
		link := l.allocate(ph, paper)
		l.assess(ctx, &link, series, asOf)
		links = append(links, link)
	}
	return links
}

func (l *Linker) allocate(ph models.Position, paper []*paperLeg) models.HedgeLink {
	physQty := ph.Quantity.Abs()
	link := models.HedgeLink{
		PhysicalContractID: ph.ContractID,
		ProductCode:        ph.ProductCode,
		ContractMonth:      ph.ContractMonth,
		PhysicalQuantity:   ph.Quantity,
		LinkedQuantity:     decimal.Zero,
	}

	for _, leg := range paper {
		if leg.pos.DesignationRef != ph.ContractID || !leg.remaining.IsPositive() {
			continue
		}
		link.Legs = append(link.Legs, newLeg(leg, leg.remaining, models.LinkMethodDesignated))
		link.LinkedQuantity = link.LinkedQuantity.Add(leg.remaining)
		leg.remaining = decimal.Zero
	}

	for _, leg := range paper {
		remaining := physQty.Sub(link.LinkedQuantity)
		if !remaining.IsPositive() {
			break
		}
		if !l.matches(ph, leg) {
			continue
		}
		qty := decimal.Min(remaining, leg.remaining)
		link.Legs = append(link.Legs, newLeg(leg, qty, models.LinkMethodMatched))
		link.LinkedQuantity = link.LinkedQuantity.Add(qty)
		leg.remaining = leg.remaining.Sub(qty)
	}

	link.HedgeRatio = decimal.Zero
	if physQty.IsPositive() {
		link.HedgeRatio = link.LinkedQuantity.Div(physQty)
	}
	link.OverHedged = link.HedgeRatio.GreaterThan(decimal.NewFromInt(1))
	link.Status = Classify(link.HedgeRatio)
	return link
}

// matches is the heuristic for undesignated hedge paper
func (l *Linker) matches(ph models.Position, leg *paperLeg) bool {
	return leg.pos.IsHedge &&
		leg.pos.DesignationRef == "" &&
		leg.remaining.IsPositive() &&
		leg.pos.ProductCode == ph.ProductCode &&
		leg.pos.ContractMonth == ph.ContractMonth &&
		leg.pos.Quantity.Sign() == -ph.Quantity.Sign()
}

func newLeg(leg *paperLeg, qty decimal.Decimal, method string) models.HedgeLeg {
	return models.HedgeLeg{
		PaperContractID: leg.pos.ContractID,
		ContractMonth:   leg.pos.ContractMonth,
		LinkedQuantity:  qty,
		LinkMethod:      method,
		DesignationDate: leg.pos.DesignationDate,
	}
}

// Classify maps a hedge ratio onto exactly one hedge status
func Classify(ratio decimal.Decimal) string {
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return models.HedgeStatusFullyHedged
	case ratio.IsPositive():
		return models.HedgeStatusPartiallyHedged
	default:
		return models.HedgeStatusUnhedged
	}
}
