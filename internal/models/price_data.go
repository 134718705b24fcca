package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price type constants
const (
	PriceTypeSpot    = "SPOT"
	PriceTypeFutures = "FUTURES"
)

// MarketPrice is one daily settlement price. Spot benchmark prices carry an
// empty contract month.
type MarketPrice struct {
	ID            int             `json:"id"`
	ProductCode   string          `json:"product_code"`
	ContractMonth ContractMonth   `json:"contract_month,omitempty"`
	PriceType     string          `json:"price_type"`
	PriceDate     time.Time       `json:"price_date"`
	Price         decimal.Decimal `json:"price"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventPricePublished is the only market data event type consumed
const EventPricePublished = "PRICE_PUBLISHED"

// PriceEvent is published by the market data ingestion pipeline
type PriceEvent struct {
	EventType string    `json:"event_type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		ProductCode   string `json:"product_code"`
		ContractMonth string `json:"contract_month"`
		PriceType     string `json:"price_type"`
		PriceDate     string `json:"price_date"`
		Price         string `json:"price"`
	} `json:"data"`
}

// ReturnSeries is a dated sequence of simple daily returns, oldest first
type ReturnSeries struct {
	Dates   []time.Time `json:"dates"`
	Returns []float64   `json:"returns"`
}

// Len is the number of observations
func (s ReturnSeries) Len() int { return len(s.Returns) }

// Tail returns the last n observations
func (s ReturnSeries) Tail(n int) ReturnSeries {
	if n <= 0 || n >= len(s.Returns) {
		return s
	}
	k := len(s.Returns) - n
	return ReturnSeries{Dates: s.Dates[k:], Returns: s.Returns[k:]}
}

// ReturnsFromPrices converts an ascending price series into simple returns.
// Non-positive prices break the chain and are skipped.
func ReturnsFromPrices(prices []MarketPrice) ReturnSeries {
	var out ReturnSeries
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1].Price
		if !prev.IsPositive() || !prices[i].Price.IsPositive() {
			continue
		}
		r := prices[i].Price.Div(prev).InexactFloat64() - 1
		out.Dates = append(out.Dates, prices[i].PriceDate)
		out.Returns = append(out.Returns, r)
	}
	return out
}
