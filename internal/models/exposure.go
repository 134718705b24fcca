package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExposureSnapshot is the monetary exposure of one product and contract month
type ExposureSnapshot struct {
	ProductCode          string          `json:"product_code"`
	ContractMonth        ContractMonth   `json:"contract_month"`
	NetQuantity          decimal.Decimal `json:"net_quantity"`
	GrossQuantity        decimal.Decimal `json:"gross_quantity"`
	GrossExposure        decimal.Decimal `json:"gross_exposure"`
	NetExposure          decimal.Decimal `json:"net_exposure"`
	MarketPrice          decimal.Decimal `json:"market_price"`
	PriceType            string          `json:"price_type"`
	PriceDate            time.Time       `json:"price_date"`
	AsOfDate             time.Time       `json:"as_of_date"`
	DiversificationRatio Measure         `json:"diversification_ratio"`
}

// UnpricedPosition is a net position that could not be valued; it is still
// reported in quantity terms.
type UnpricedPosition struct {
	ProductCode   string          `json:"product_code"`
	ContractMonth ContractMonth   `json:"contract_month"`
	NetQuantity   decimal.Decimal `json:"net_quantity"`
	GrossQuantity decimal.Decimal `json:"gross_quantity"`
	Reason        string          `json:"reason"`
}

// ExposureReport is the valued book at an as-of date
type ExposureReport struct {
	AsOfDate             time.Time          `json:"as_of_date"`
	Snapshots            []ExposureSnapshot `json:"snapshots"`
	Unpriced             []UnpricedPosition `json:"unpriced"`
	GrossExposure        decimal.Decimal    `json:"gross_exposure"`
	NetExposure          decimal.Decimal    `json:"net_exposure"`
	DiversificationRatio Measure            `json:"diversification_ratio"`
}

// NetExposureByProduct sums valued net exposure per product code
func (r *ExposureReport) NetExposureByProduct() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range r.Snapshots {
		out[s.ProductCode] = out[s.ProductCode].Add(s.NetExposure)
	}
	return out
}

// PriceFor returns the mark used for a product and month
func (r *ExposureReport) PriceFor(product string, month ContractMonth) (decimal.Decimal, bool) {
	for _, s := range r.Snapshots {
		if s.ProductCode == product && s.ContractMonth == month {
			return s.MarketPrice, true
		}
	}
	return decimal.Zero, false
}
