package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestEstimate is the VaR that was in force for one method on one day
type BacktestEstimate struct {
	Method     string          `json:"method"`
	Confidence float64         `json:"confidence"`
	VaR        decimal.Decimal `json:"var"`
	Breach     bool            `json:"breach"`
}

// BacktestRecord is one replayed trading day
type BacktestRecord struct {
	Date      time.Time          `json:"date"`
	ActualPnL decimal.Decimal    `json:"actual_pnl"`
	Estimates []BacktestEstimate `json:"estimates"`
}

// ActualLoss is the negative P&L magnitude, zero on profitable days
func (r *BacktestRecord) ActualLoss() decimal.Decimal {
	if r.ActualPnL.IsNegative() {
		return r.ActualPnL.Neg()
	}
	return decimal.Zero
}

// KupiecResult is the proportion-of-failures likelihood ratio test
type KupiecResult struct {
	LRStatistic   float64 `json:"lr_statistic"`
	PValue        float64 `json:"p_value"`
	CriticalValue float64 `json:"critical_value"`
	Accepted      bool    `json:"accepted"`
}

// MethodBacktest aggregates breaches for one method and confidence
type MethodBacktest struct {
	Method           string       `json:"method"`
	Confidence       float64      `json:"confidence"`
	TotalDays        int          `json:"total_days"`
	Breaches         int          `json:"breaches"`
	BreachRate       float64      `json:"breach_rate"`
	ExpectedBreaches float64      `json:"expected_breaches"`
	Kupiec           KupiecResult `json:"kupiec"`
}

// BacktestReport is the accuracy report over a date range
type BacktestReport struct {
	Scope   string             `json:"scope"`
	From    time.Time          `json:"from"`
	To      time.Time          `json:"to"`
	Source  string             `json:"source"`
	Records []BacktestRecord   `json:"records"`
	Methods []MethodBacktest   `json:"methods"`
	Issues  []CalculationIssue `json:"issues,omitempty"`
}
