// Package position turns upstream contracts into open positions and nets them
// per product and contract month.
package position

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// GroupKey identifies a product and contract month
type GroupKey struct {
	ProductCode   string
	ContractMonth models.ContractMonth
}

func (k GroupKey) String() string {
	return k.ProductCode + "/" + string(k.ContractMonth)
}

// GroupFailure is a product/month whose aggregation was halted
type GroupFailure struct {
	Key GroupKey
	Err error
}

// Result is the outcome of one aggregation pass
type Result struct {
	// Positions are the open per-contract positions of every group that aggregated cleanly
	Positions    []models.Position
	NetPositions []models.NetPosition
	Failures     []GroupFailure
}

// Aggregator nets contracts into positions
type Aggregator struct {
	catalog *models.ProductCatalog
	logger  *zap.Logger
}

// NewAggregator creates an aggregator using the product catalogue for lot conversion
func NewAggregator(catalog *models.ProductCatalog, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{catalog: catalog, logger: logger}
}

type group struct {
	net       models.NetPosition
	positions []models.Position
	err       error
}

// Aggregate groups active contracts by product and month. A group whose data is
// inconsistent is dropped from the result and reported in Failures; the other
// groups are unaffected.
func (a *Aggregator) Aggregate(contracts []models.Contract) *Result {
	groups := make(map[GroupKey]*group)

	for i := range contracts {
		c := &contracts[i]
		if !c.IsActive() {
			continue
		}
		key := GroupKey{ProductCode: c.ProductCode, ContractMonth: c.ContractMonth}
		g, ok := groups[key]
		if !ok {
			g = &group{net: models.NetPosition{
				ProductCode:   c.ProductCode,
				ContractMonth: c.ContractMonth,
			}}
			groups[key] = g
		}
		if g.err != nil {
			continue
		}
		pos, err := a.openPosition(c)
		if err != nil {
			g.err = err
			continue
		}
		g.positions = append(g.positions, pos)
		addContract(&g.net, c, a.toUnits(c, c.Quantity.Abs()), a.toUnits(c, c.SettledQuantity.Abs()))
	}

	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductCode != keys[j].ProductCode {
			return keys[i].ProductCode < keys[j].ProductCode
		}
		return keys[i].ContractMonth < keys[j].ContractMonth
	})

	res := &Result{}
	for _, k := range keys {
		g := groups[k]
		if g.err != nil {
			a.logger.Error("aggregation halted for product group",
				zap.String("group", k.String()), zap.Error(g.err))
			res.Failures = append(res.Failures, GroupFailure{Key: k, Err: g.err})
			continue
		}
		finalize(&g.net)
		res.NetPositions = append(res.NetPositions, g.net)
		res.Positions = append(res.Positions, g.positions...)
	}
	return res
}

// openPosition validates a contract and returns its unsettled, signed quantity in product units
func (a *Aggregator) openPosition(c *models.Contract) (models.Position, error) {
	if c.Unit == models.UnitLot {
		if _, ok := a.catalog.Lookup(c.ProductCode); !ok {
			return models.Position{}, fmt.Errorf("contract %s: no lot size for product %s", c.ID, c.ProductCode)
		}
	}
	contracted := c.Quantity.Abs()
	settled := c.SettledQuantity.Abs()
	if settled.GreaterThan(contracted) {
		return models.Position{}, &riskerr.DataInconsistencyError{
			ContractID:    c.ID,
			Product:       c.ProductCode,
			ContractMonth: string(c.ContractMonth),
			Settled:       settled,
			Contracted:    contracted,
		}
	}
	open := a.toUnits(c, contracted.Sub(settled))

	pos := models.Position{
		ContractID:      c.ID,
		ProductCode:     c.ProductCode,
		ContractMonth:   c.ContractMonth,
		IsHedge:         c.IsHedge,
		DesignationRef:  c.DesignationRef,
		DesignationDate: c.DesignationDate,
		TradeGroupID:    c.TradeGroupID,
		TradeDate:       c.TradeDate,
	}
	switch c.ContractType {
	case models.ContractTypePhysicalPurchase:
		pos.SourceType = models.SourcePhysicalPurchase
		pos.Quantity = open
	case models.ContractTypePhysicalSale:
		pos.SourceType = models.SourcePhysicalSale
		pos.Quantity = open.Neg()
	case models.ContractTypePaper:
		pos.SourceType = models.SourcePaper
		if c.Quantity.IsNegative() {
			open = open.Neg()
		}
		pos.Quantity = open
	default:
		return models.Position{}, fmt.Errorf("contract %s: unknown contract type %q", c.ID, c.ContractType)
	}
	return pos, nil
}

func (a *Aggregator) toUnits(c *models.Contract, q decimal.Decimal) decimal.Decimal {
	if c.Unit != models.UnitLot {
		return q
	}
	p, _ := a.catalog.Lookup(c.ProductCode)
	return q.Mul(p.LotSize)
}

func addContract(n *models.NetPosition, c *models.Contract, contracted, settled decimal.Decimal) {
	n.ContractCount++
	switch c.ContractType {
	case models.ContractTypePhysicalPurchase:
		n.PurchaseQuantity = n.PurchaseQuantity.Add(contracted)
		n.SettledPurchaseQuantity = n.SettledPurchaseQuantity.Add(settled)
	case models.ContractTypePhysicalSale:
		n.SalesQuantity = n.SalesQuantity.Add(contracted)
		n.SettledSalesQuantity = n.SettledSalesQuantity.Add(settled)
	case models.ContractTypePaper:
		open := contracted.Sub(settled)
		if c.Quantity.IsNegative() {
			n.PaperShort = n.PaperShort.Add(open)
		} else {
			n.PaperLong = n.PaperLong.Add(open)
		}
	}
}

// finalize derives the matched quantity and net figures from the summed legs
func finalize(n *models.NetPosition) {
	n.MatchedQuantity = decimal.Min(n.UnsettledPurchase(), n.UnsettledSales())
	n.PhysicalNetPosition = n.ResidualPurchase().Sub(n.ResidualSales())
	n.PaperNetPosition = n.PaperLong.Sub(n.PaperShort)
	n.TotalNetPosition = n.PhysicalNetPosition.Add(n.PaperNetPosition)
}

// Err joins the group failures into one error, or nil
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Key, f.Err))
	}
	return errors.Join(errs...)
}
