// Package limits evaluates configured risk limits against a risk run and
// keeps the breach audit trail.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
	"github.com/trogers1052/oil-risk-service/internal/stress"
)

// Config holds the utilization thresholds. Utilization is a fraction of the limit.
type Config struct {
	WarningThreshold decimal.Decimal
	BreachThreshold  decimal.Decimal
	// Severity bands on utilization; below MediumAt a breach is LOW.
	MediumAt   decimal.Decimal
	HighAt     decimal.Decimal
	CriticalAt decimal.Decimal
}

// DefaultConfig warns at 80% and breaches above 100%
func DefaultConfig() Config {
	return Config{
		WarningThreshold: decimal.RequireFromString("0.80"),
		BreachThreshold:  decimal.NewFromInt(1),
		MediumAt:         decimal.RequireFromString("1.10"),
		HighAt:           decimal.RequireFromString("1.25"),
		CriticalAt:       decimal.RequireFromString("1.50"),
	}
}

// BreachStore persists breaches. RecordBreach must insert only when the limit
// has no open breach and report whether the row was created.
type BreachStore interface {
	RecordBreach(ctx context.Context, breach *models.LimitBreach) (bool, error)
	GetBreach(ctx context.Context, id string) (*models.LimitBreach, error)
	ResolveBreach(ctx context.Context, id, resolvedBy, resolution string, at time.Time) (*models.LimitBreach, error)
	ListBreaches(ctx context.Context, openOnly bool) ([]models.LimitBreach, error)
}

// Monitor evaluates limits and records breaches
type Monitor struct {
	cfg    Config
	store  BreachStore
	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor creates a monitor
func NewMonitor(cfg Config, store BreachStore, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// Evaluate computes utilization and status for every enabled limit. A limit
// whose figure was not produced by the run is UNKNOWN, never OK.
func (m *Monitor) Evaluate(limits []models.RiskLimit, report *models.RiskReport) []models.LimitUtilization {
	var out []models.LimitUtilization
	for _, l := range limits {
		if !l.Enabled {
			continue
		}
		current, degraded := currentValue(l, report)
		u := models.LimitUtilization{Limit: l, CurrentValue: current, Degraded: degraded}

		value, ok := current.Get()
		switch {
		case !ok:
			u.Utilization = models.Unknown(current.Reason())
			u.Status = models.LimitStatusUnknown
		case !l.MaxValue.IsPositive():
			u.Utilization = models.Unknown("limit value is not positive")
			u.Status = models.LimitStatusUnknown
		default:
			util := value.Div(l.MaxValue).Round(4)
			u.Utilization = models.Known(util)
			u.Status = m.status(util, l)
		}
		out = append(out, u)
	}
	return out
}

func (m *Monitor) status(util decimal.Decimal, l models.RiskLimit) string {
	warn := m.cfg.WarningThreshold
	if l.WarningThreshold.IsPositive() {
		warn = l.WarningThreshold
	}
	switch {
	case util.GreaterThan(m.cfg.BreachThreshold):
		return models.LimitStatusBreach
	case util.GreaterThanOrEqual(warn):
		return models.LimitStatusWarning
	}
	return models.LimitStatusOK
}

// Severity grades a breach by utilization
func (m *Monitor) Severity(util decimal.Decimal) string {
	switch {
	case util.GreaterThanOrEqual(m.cfg.CriticalAt):
		return models.BreachSeverityCritical
	case util.GreaterThanOrEqual(m.cfg.HighAt):
		return models.BreachSeverityHigh
	case util.GreaterThanOrEqual(m.cfg.MediumAt):
		return models.BreachSeverityMedium
	}
	return models.BreachSeverityLow
}

// Record writes a breach for every limit in BREACH status that has no open
// breach yet and returns the ones created by this call. Open breaches stay
// open even when the limit is back within bounds.
func (m *Monitor) Record(ctx context.Context, runID string, utilizations []models.LimitUtilization) ([]models.LimitBreach, error) {
	var created []models.LimitBreach
	for _, u := range utilizations {
		if u.Status != models.LimitStatusBreach {
			continue
		}
		current, _ := u.CurrentValue.Get()
		util, _ := u.Utilization.Get()
		b := models.LimitBreach{
			ID:           uuid.NewString(),
			LimitID:      u.Limit.ID,
			LimitType:    u.Limit.LimitType,
			Scope:        u.Limit.Scope,
			RunID:        runID,
			Severity:     m.Severity(util),
			CurrentValue: current,
			LimitValue:   u.Limit.MaxValue,
			ExcessAmount: current.Sub(u.Limit.MaxValue),
			Utilization:  util,
			Degraded:     u.Degraded,
			DetectedAt:   m.now().UTC(),
		}
		ok, err := m.store.RecordBreach(ctx, &b)
		if err != nil {
			return created, fmt.Errorf("failed to record breach for limit %d: %w", u.Limit.ID, err)
		}
		if !ok {
			continue
		}
		m.logger.Warn("risk limit breached",
			zap.Int("limit_id", b.LimitID),
			zap.String("limit", u.Limit.Name),
			zap.String("scope", b.Scope),
			zap.String("severity", b.Severity),
			zap.String("current", b.CurrentValue.String()),
			zap.String("limit_value", b.LimitValue.String()),
			zap.Bool("degraded", b.Degraded))
		created = append(created, b)
	}
	return created, nil
}

// Acknowledge resolves a breach. Both the resolver and the resolution text
// are required and a breach can be resolved only once.
func (m *Monitor) Acknowledge(ctx context.Context, id, resolvedBy, resolution string) (*models.LimitBreach, error) {
	if resolvedBy == "" || resolution == "" {
		return nil, riskerr.ErrResolutionRequired
	}
	b, err := m.store.ResolveBreach(ctx, id, resolvedBy, resolution, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.logger.Info("breach acknowledged", zap.String("breach_id", id), zap.String("resolved_by", resolvedBy))
	return b, nil
}

// Breaches lists breaches, newest first
func (m *Monitor) Breaches(ctx context.Context, openOnly bool) ([]models.LimitBreach, error) {
	return m.store.ListBreaches(ctx, openOnly)
}

// CurrentValue reads the figure a limit applies to from a risk run
func CurrentValue(l models.RiskLimit, r *models.RiskReport) models.Measure {
	v, _ := currentValue(l, r)
	return v
}

// currentValue also reports whether the figure is a degraded estimate
func currentValue(l models.RiskLimit, r *models.RiskReport) (models.Measure, bool) {
	kind, id := models.ParseScope(l.Scope)
	switch l.LimitType {
	case models.LimitTypeGrossExposure, models.LimitTypeNetExposure:
		return exposureValue(l.LimitType == models.LimitTypeGrossExposure, kind, id, r), false
	case models.LimitTypeVaR, models.LimitTypeExpectedShortfall:
		results, ok := resultsFor(kind, id, r)
		if !ok {
			return models.Unknown(fmt.Sprintf("no VaR computed for %s", l.Scope)), false
		}
		return varValue(l, results)
	case models.LimitTypeStressLoss:
		return stressValue(kind, id, r), false
	}
	return models.Unknown(fmt.Sprintf("unsupported limit type %s", l.LimitType)), false
}

func exposureValue(gross bool, kind, id string, r *models.RiskReport) models.Measure {
	switch kind {
	case models.ScopePortfolio:
		if gross {
			return models.Known(r.Exposure.GrossExposure)
		}
		return models.Known(r.Exposure.NetExposure.Abs())
	case models.ScopeProduct:
		total, found := decimal.Zero, false
		for _, s := range r.Exposure.Snapshots {
			if s.ProductCode != id {
				continue
			}
			found = true
			if gross {
				total = total.Add(s.GrossExposure)
			} else {
				total = total.Add(s.NetExposure)
			}
		}
		if !found {
			return models.Unknown(fmt.Sprintf("no valued exposure for %s", id))
		}
		return models.Known(total.Abs())
	case models.ScopeGroup:
		for _, g := range r.TradeGroups {
			if g.TradeGroupID != id {
				continue
			}
			if gross {
				return models.Known(g.GrossLegExposure)
			}
			return models.Known(g.TotalNetExposure.Abs())
		}
		return models.Unknown(fmt.Sprintf("trade group %s not in run", id))
	}
	return models.Unknown(fmt.Sprintf("unknown scope %s", id))
}

func resultsFor(kind, id string, r *models.RiskReport) ([]models.VaRResult, bool) {
	switch kind {
	case models.ScopePortfolio:
		return r.Portfolio.Results, len(r.Portfolio.Results) > 0
	case models.ScopeProduct:
		for _, p := range r.Products {
			if p.ProductCode == id {
				return p.Results, len(p.Results) > 0
			}
		}
	case models.ScopeGroup:
		for _, g := range r.TradeGroups {
			if g.TradeGroupID == id {
				return g.Results, len(g.Results) > 0
			}
		}
	}
	return nil, false
}

// varValue takes the limit's method and confidence. An empty method or a zero
// confidence selects the largest figure over the unspecified dimension. The
// selected result's degraded flag is returned with it.
func varValue(l models.RiskLimit, results []models.VaRResult) (models.Measure, bool) {
	best, found, degraded := decimal.Zero, false, false
	for _, v := range results {
		if l.Method != "" && v.Method != l.Method {
			continue
		}
		if l.Confidence != 0 && v.Confidence != l.Confidence {
			continue
		}
		figure := v.VaR
		if l.LimitType == models.LimitTypeExpectedShortfall {
			figure = v.ExpectedShortfall
		}
		if !found || figure.GreaterThan(best) {
			best, found, degraded = figure, true, v.Degraded
		}
	}
	if !found {
		return models.Unknown(fmt.Sprintf("no %s result at confidence %v for %s", l.Method, l.Confidence, l.Scope)), false
	}
	return models.Known(best), degraded
}

func stressValue(kind, id string, r *models.RiskReport) models.Measure {
	if len(r.Stress) == 0 {
		return models.Unknown("no stress scenarios were run")
	}
	switch kind {
	case models.ScopePortfolio:
		return models.Known(stress.WorstLoss(r.Stress))
	case models.ScopeProduct:
		worst := decimal.Zero
		for _, s := range r.Stress {
			loss := decimal.Zero
			for _, imp := range s.Impacts {
				if imp.ProductCode == id {
					loss = loss.Sub(imp.PnlImpact)
				}
			}
			if loss.GreaterThan(worst) {
				worst = loss
			}
		}
		return models.Known(worst)
	}
	return models.Unknown("stress loss is not computed per trade group")
}
