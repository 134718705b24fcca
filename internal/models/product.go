package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Unit constants
const (
	UnitMetricTon = "MT"
	UnitBarrel    = "BBL"
	UnitLot       = "LOT"
)

// Product describes a tradeable oil product
type Product struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Unit    string          `json:"unit"`
	LotSize decimal.Decimal `json:"lot_size"`
	// Exposure magnitudes (in price currency) at which an unhedged position
	// is tagged Medium and High risk.
	UnhedgedMediumThreshold decimal.Decimal `json:"unhedged_medium_threshold"`
	UnhedgedHighThreshold   decimal.Decimal `json:"unhedged_high_threshold"`
}

// ProductCatalog is an immutable lookup table of products keyed by code.
// It is built once and passed into the engine.
type ProductCatalog struct {
	products map[string]Product
}

// NewProductCatalog copies the given products into a catalog
func NewProductCatalog(products []Product) *ProductCatalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.Code] = p
	}
	return &ProductCatalog{products: m}
}

// Lookup returns the product for a code
func (c *ProductCatalog) Lookup(code string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.products[code]
	return p, ok
}

// Codes returns all product codes in sorted order
func (c *ProductCatalog) Codes() []string {
	if c == nil {
		return nil
	}
	codes := make([]string, 0, len(c.products))
	for code := range c.products {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Products returns all products sorted by code
func (c *ProductCatalog) Products() []Product {
	codes := c.Codes()
	out := make([]Product, 0, len(codes))
	for _, code := range codes {
		out = append(out, c.products[code])
	}
	return out
}

// DefaultProducts is the product set the desk trades when no catalogue is configured
func DefaultProducts() []Product {
	mk := func(code, name, unit string, lot, medium, high int64) Product {
		return Product{
			Code:                    code,
			Name:                    name,
			Unit:                    unit,
			LotSize:                 decimal.NewFromInt(lot),
			UnhedgedMediumThreshold: decimal.NewFromInt(medium),
			UnhedgedHighThreshold:   decimal.NewFromInt(high),
		}
	}
	return []Product{
		mk("BRENT", "ICE Brent Crude", UnitBarrel, 1000, 1_000_000, 5_000_000),
		mk("WTI", "NYMEX WTI Crude", UnitBarrel, 1000, 1_000_000, 5_000_000),
		mk("380CST", "HSFO 380cst", UnitMetricTon, 100, 1_000_000, 5_000_000),
		mk("MF05", "VLSFO 0.5%", UnitMetricTon, 100, 1_000_000, 5_000_000),
		mk("GASOIL", "ICE Low Sulphur Gasoil", UnitMetricTon, 100, 1_000_000, 5_000_000),
		mk("JET", "Jet Kerosene", UnitMetricTon, 100, 1_000_000, 5_000_000),
	}
}
