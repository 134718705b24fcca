package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Contract type constants
const (
	ContractTypePhysicalPurchase = "PHYSICAL_PURCHASE"
	ContractTypePhysicalSale     = "PHYSICAL_SALE"
	ContractTypePaper            = "PAPER"
)

// Contract status constants
const (
	ContractStatusActive    = "ACTIVE"
	ContractStatusCompleted = "COMPLETED"
	ContractStatusCancelled = "CANCELLED"
)

// ContractMonth is a delivery month in YYMM form, e.g. "2511" for November 2025
type ContractMonth string

// ParseContractMonth validates a YYMM string
func ParseContractMonth(s string) (ContractMonth, error) {
	if len(s) != 4 {
		return "", fmt.Errorf("invalid contract month %q: expected YYMM", s)
	}
	if _, err := strconv.Atoi(s[:2]); err != nil {
		return "", fmt.Errorf("invalid contract month %q: %w", s, err)
	}
	mm, err := strconv.Atoi(s[2:])
	if err != nil {
		return "", fmt.Errorf("invalid contract month %q: %w", s, err)
	}
	if mm < 1 || mm > 12 {
		return "", fmt.Errorf("invalid contract month %q: month out of range", s)
	}
	return ContractMonth(s), nil
}

// ContractMonthOf returns the contract month containing t
func ContractMonthOf(t time.Time) ContractMonth {
	return ContractMonth(t.Format("0601"))
}

// FirstDay returns the first calendar day of the month in UTC
func (m ContractMonth) FirstDay() time.Time {
	t, err := time.Parse("0601", string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Contract is an upstream physical or paper deal as seen by the risk engine
type Contract struct {
	ID             string        `json:"id"`
	ContractNumber string        `json:"contract_number"`
	ContractType   string        `json:"contract_type"`
	ProductCode    string        `json:"product_code"`
	ContractMonth  ContractMonth `json:"contract_month"`
	// Physical contracts carry the contracted magnitude; paper deals are
	// signed, positive long and negative short.
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	SettledQuantity decimal.Decimal `json:"settled_quantity"`
	Status          string          `json:"status"`
	IsHedge         bool            `json:"is_hedge"`
	DesignationRef  string          `json:"designation_ref,omitempty"`
	DesignationDate *time.Time      `json:"designation_date,omitempty"`
	TradeGroupID    string          `json:"trade_group_id,omitempty"`
	TradeDate       time.Time       `json:"trade_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsPhysical reports whether the contract is a physical purchase or sale
func (c *Contract) IsPhysical() bool {
	return c.ContractType == ContractTypePhysicalPurchase || c.ContractType == ContractTypePhysicalSale
}

// IsActive reports whether the contract still contributes to the book
func (c *Contract) IsActive() bool {
	return c.Status != ContractStatusCancelled
}

// Source type constants for positions
const (
	SourcePhysicalPurchase = "PhysicalPurchase"
	SourcePhysicalSale     = "PhysicalSale"
	SourcePaper            = "Paper"
)

// Position is the open (unsettled) quantity of one contract in product units,
// signed by direction. It is derived on every risk run and never persisted.
type Position struct {
	ContractID      string          `json:"contract_id"`
	ProductCode     string          `json:"product_code"`
	ContractMonth   ContractMonth   `json:"contract_month"`
	SourceType      string          `json:"source_type"`
	Quantity        decimal.Decimal `json:"quantity"`
	IsHedge         bool            `json:"is_hedge,omitempty"`
	DesignationRef  string          `json:"designation_ref,omitempty"`
	DesignationDate *time.Time      `json:"designation_date,omitempty"`
	TradeGroupID    string          `json:"trade_group_id,omitempty"`
	TradeDate       time.Time       `json:"trade_date"`
}

// Contract event type constants
const (
	EventContractUpserted  = "CONTRACT_UPSERTED"
	EventContractCancelled = "CONTRACT_CANCELLED"
)

// ContractEvent is published by the contract management system
type ContractEvent struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Data      ContractEventData `json:"data"`
}

// ContractEventData carries the contract fields as strings, the way upstream serializes them
type ContractEventData struct {
	ContractID      string  `json:"contract_id"`
	ContractNumber  string  `json:"contract_number"`
	ContractType    string  `json:"contract_type"`
	ProductCode     string  `json:"product_code"`
	ContractMonth   string  `json:"contract_month"`
	Quantity        string  `json:"quantity"`
	Unit            string  `json:"unit"`
	SettledQuantity string  `json:"settled_quantity"`
	Status          string  `json:"status"`
	IsHedge         bool    `json:"is_hedge"`
	DesignationRef  string  `json:"designation_ref"`
	DesignationDate *string `json:"designation_date"`
	TradeGroupID    string  `json:"trade_group_id"`
	TradeDate       string  `json:"trade_date"`
}
