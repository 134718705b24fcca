package models

import (
	"github.com/shopspring/decimal"
)

// NetPosition aggregates every position of one product and contract month
type NetPosition struct {
	ProductCode   string        `json:"product_code"`
	ContractMonth ContractMonth `json:"contract_month"`

	PurchaseQuantity        decimal.Decimal `json:"purchase_quantity"`
	SalesQuantity           decimal.Decimal `json:"sales_quantity"`
	SettledPurchaseQuantity decimal.Decimal `json:"settled_purchase_quantity"`
	SettledSalesQuantity    decimal.Decimal `json:"settled_sales_quantity"`

	PaperLong        decimal.Decimal `json:"paper_long"`
	PaperShort       decimal.Decimal `json:"paper_short"`
	PaperNetPosition decimal.Decimal `json:"paper_net_position"`

	MatchedQuantity     decimal.Decimal `json:"matched_quantity"`
	PhysicalNetPosition decimal.Decimal `json:"physical_net_position"`
	TotalNetPosition    decimal.Decimal `json:"total_net_position"`

	ContractCount int `json:"contract_count"`
}

// UnsettledPurchase is the purchase volume not yet delivered
func (n *NetPosition) UnsettledPurchase() decimal.Decimal {
	return n.PurchaseQuantity.Sub(n.SettledPurchaseQuantity)
}

// UnsettledSales is the sales volume not yet delivered
func (n *NetPosition) UnsettledSales() decimal.Decimal {
	return n.SalesQuantity.Sub(n.SettledSalesQuantity)
}

// ResidualPurchase is the unsettled purchase volume left after natural matching
func (n *NetPosition) ResidualPurchase() decimal.Decimal {
	return n.UnsettledPurchase().Sub(n.MatchedQuantity)
}

// ResidualSales is the unsettled sales volume left after natural matching
func (n *NetPosition) ResidualSales() decimal.Decimal {
	return n.UnsettledSales().Sub(n.MatchedQuantity)
}

// GrossQuantity is the sum of absolute leg quantities before any netting
func (n *NetPosition) GrossQuantity() decimal.Decimal {
	return n.UnsettledPurchase().Add(n.UnsettledSales()).Add(n.PaperLong).Add(n.PaperShort)
}

// IsLong reports a positive total net position
func (n *NetPosition) IsLong() bool {
	return n.TotalNetPosition.IsPositive()
}
