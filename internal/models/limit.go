package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Limit type constants
const (
	LimitTypeGrossExposure     = "GROSS_EXPOSURE"
	LimitTypeNetExposure       = "NET_EXPOSURE"
	LimitTypeVaR               = "VAR"
	LimitTypeExpectedShortfall = "EXPECTED_SHORTFALL"
	LimitTypeStressLoss        = "STRESS_LOSS"
)

// Limit scope kinds. Product and trade group scopes carry an identifier.
const (
	ScopePortfolio = "PORTFOLIO"
	ScopeProduct   = "PRODUCT"
	ScopeGroup     = "GROUP"

	scopeProductPrefix = ScopeProduct + ":"
	scopeGroupPrefix   = ScopeGroup + ":"
)

// ProductScope builds the scope key for a product
func ProductScope(code string) string { return scopeProductPrefix + code }

// GroupScope builds the scope key for a trade group
func GroupScope(id string) string { return scopeGroupPrefix + id }

// ParseScope splits a scope into kind and identifier
func ParseScope(scope string) (kind, id string) {
	switch {
	case scope == ScopePortfolio:
		return ScopePortfolio, ""
	case strings.HasPrefix(scope, scopeProductPrefix):
		return ScopeProduct, strings.TrimPrefix(scope, scopeProductPrefix)
	case strings.HasPrefix(scope, scopeGroupPrefix):
		return ScopeGroup, strings.TrimPrefix(scope, scopeGroupPrefix)
	}
	return "", scope
}

// Limit status constants
const (
	LimitStatusOK      = "OK"
	LimitStatusWarning = "WARNING"
	LimitStatusBreach  = "BREACH"
	LimitStatusUnknown = "UNKNOWN"
)

// Severity constants for breaches
const (
	BreachSeverityLow      = "LOW"
	BreachSeverityMedium   = "MEDIUM"
	BreachSeverityHigh     = "HIGH"
	BreachSeverityCritical = "CRITICAL"
)

// RiskLimit is an externally configured ceiling on exposure or VaR
type RiskLimit struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	LimitType  string          `json:"limit_type"`
	Scope      string          `json:"scope"`
	Method     string          `json:"method,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	MaxValue   decimal.Decimal `json:"max_value"`
	// WarningThreshold is a utilization fraction; zero means the configured default.
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
	Enabled          bool            `json:"enabled"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks a limit before it is stored
func (l *RiskLimit) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("name is required")
	}
	switch l.LimitType {
	case LimitTypeGrossExposure, LimitTypeNetExposure, LimitTypeVaR, LimitTypeExpectedShortfall, LimitTypeStressLoss:
	default:
		return fmt.Errorf("invalid limit type: %s", l.LimitType)
	}
	if kind, id := ParseScope(l.Scope); kind == "" || (kind != ScopePortfolio && id == "") {
		return fmt.Errorf("invalid scope: %s", l.Scope)
	}
	if !l.MaxValue.IsPositive() {
		return errors.New("max_value must be positive")
	}
	if l.WarningThreshold.IsNegative() || l.WarningThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("warning_threshold must be in [0, 1)")
	}
	if l.Method != "" {
		if l.LimitType != LimitTypeVaR && l.LimitType != LimitTypeExpectedShortfall {
			return errors.New("method applies to VAR and EXPECTED_SHORTFALL limits only")
		}
		valid := false
		for _, m := range VaRMethods {
			valid = valid || m == l.Method
		}
		if !valid {
			return fmt.Errorf("invalid method: %s", l.Method)
		}
	}
	if l.Confidence < 0 || l.Confidence >= 1 {
		return fmt.Errorf("invalid confidence: %v", l.Confidence)
	}
	return nil
}

// LimitUtilization is the evaluation of one limit against the current run
type LimitUtilization struct {
	Limit        RiskLimit `json:"limit"`
	CurrentValue Measure   `json:"current_value"`
	Utilization  Measure   `json:"utilization"`
	Status       string    `json:"status"`
	// Degraded is set when the current value comes from a fallback estimate
	Degraded bool `json:"degraded"`
}

// LimitBreach is an append-only record of a limit being exceeded. Only the
// resolution fields are ever written after creation.
type LimitBreach struct {
	ID           string          `json:"id"`
	LimitID      int             `json:"limit_id"`
	LimitType    string          `json:"limit_type"`
	Scope        string          `json:"scope"`
	RunID        string          `json:"run_id"`
	Severity     string          `json:"severity"`
	CurrentValue decimal.Decimal `json:"current_value"`
	LimitValue   decimal.Decimal `json:"limit_value"`
	ExcessAmount decimal.Decimal `json:"excess_amount"`
	Utilization  decimal.Decimal `json:"utilization"`
	Degraded     bool            `json:"degraded"`
	DetectedAt   time.Time       `json:"detected_at"`
	ResolvedBy   *string         `json:"resolved_by,omitempty"`
	Resolution   *string         `json:"resolution,omitempty"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// IsResolved reports whether the breach has been acknowledged
func (b *LimitBreach) IsResolved() bool {
	return b.ResolvedAt != nil
}
