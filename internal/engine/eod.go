package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/backtest"
	"github.com/trogers1052/oil-risk-service/internal/metrics"
	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// snapshotLookbackDays bounds the search for the previous snapshot date
const snapshotLookbackDays = 10

// EndOfDay runs the risk calculation, books the realized P&L of the previous
// snapshot date against the returns of asOf, and stores the new estimates.
func (s *Service) EndOfDay(ctx context.Context, asOf time.Time) (*models.RiskReport, error) {
	if s.deps.Snapshots == nil {
		return nil, errors.New("snapshot store is not configured")
	}
	start := s.now()
	r, err := s.run(ctx, asOf)
	metrics.ObserveRun(s.now().Sub(start), err)
	if err != nil {
		return nil, err
	}
	asOf = r.report.AsOfDate

	if err := s.realize(ctx, asOf, r.series); err != nil {
		s.logger.Error("failed to book realized pnl", zap.Error(err))
	}
	if err := s.deps.Snapshots.SaveRiskSnapshots(ctx, r.report.Snapshots()); err != nil {
		return r.report, fmt.Errorf("failed to save risk snapshots: %w", err)
	}
	s.logger.Info("end of day risk stored",
		zap.String("run_id", r.report.RunID),
		zap.Time("as_of", asOf),
		zap.Duration("elapsed", s.now().Sub(start)))
	return r.report, nil
}

// realize fills RealizedPnL on the most recent earlier snapshots still missing it
func (s *Service) realize(ctx context.Context, asOf time.Time, series map[string]models.ReturnSeries) error {
	prev, err := s.deps.Snapshots.GetRiskSnapshots(ctx, "", asOf.AddDate(0, 0, -snapshotLookbackDays), asOf.AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	var latest time.Time
	for _, snap := range prev {
		if snap.AsOfDate.After(latest) {
			latest = snap.AsOfDate
		}
	}

	returns := make(map[string]float64)
	for product, rs := range series {
		if n := rs.Len(); n > 0 && rs.Dates[n-1].Equal(asOf) {
			returns[product] = rs.Returns[n-1]
		}
	}

	booked := 0
	for i := range prev {
		snap := &prev[i]
		if !snap.AsOfDate.Equal(latest) || snap.RealizedPnL != nil {
			continue
		}
		pnl, ok := snap.ComputeRealizedPnL(returns)
		if !ok {
			s.logger.Warn("no return to realize snapshot",
				zap.String("scope", snap.Scope), zap.Time("snapshot_date", snap.AsOfDate))
			continue
		}
		if err := s.deps.Snapshots.SetRealizedPnL(ctx, snap.ID, pnl); err != nil {
			return err
		}
		booked++
	}
	s.logger.Debug("realized pnl booked", zap.Int("snapshots", booked), zap.Time("snapshot_date", latest))
	return nil
}

// BacktestRequest selects the scope, period and estimate source of a backtest
type BacktestRequest struct {
	Scope  string
	From   time.Time
	To     time.Time
	Source string
}

// Backtest validates the VaR methods over a period. SNAPSHOTS uses the stored
// estimates; RECOMPUTED replays the scope's book as of To over price history.
// A backtest never records breaches or publishes events.
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (*models.BacktestReport, error) {
	if req.Scope == "" {
		req.Scope = models.ScopePortfolio
	}
	if !req.From.Before(req.To) {
		return nil, fmt.Errorf("backtest period %s to %s is empty", req.From.Format("2006-01-02"), req.To.Format("2006-01-02"))
	}

	if req.Source == backtest.SourceSnapshots {
		if s.deps.Snapshots == nil {
			return nil, errors.New("snapshot store is not configured")
		}
		snaps, err := s.deps.Snapshots.GetRiskSnapshots(ctx, req.Scope, req.From, req.To)
		if err != nil {
			return nil, fmt.Errorf("failed to load risk snapshots: %w", err)
		}
		return s.backtester.FromSnapshots(req.Scope, snaps, req.From, req.To), nil
	}

	r, err := s.evaluate(ctx, req.To)
	if err != nil {
		return nil, err
	}
	exposures, err := scopeExposures(r.report, req.Scope)
	if err != nil {
		return nil, err
	}

	from := req.From.AddDate(0, 0, -(s.cfg.Backtest.Lookback*7/5 + 30))
	series := make(map[string]models.ReturnSeries, len(exposures))
	for product := range exposures {
		prices, err := s.deps.Prices.GetPriceHistory(ctx, product, "", models.PriceTypeSpot, from, req.To)
		if err != nil {
			return nil, fmt.Errorf("failed to load price history for %s: %w", product, err)
		}
		series[product] = models.ReturnsFromPrices(prices)
	}
	return s.backtester.Replay(ctx, backtest.ReplayRequest{
		Scope:     req.Scope,
		Exposures: floatExposures(exposures),
		Series:    series,
		From:      req.From,
		To:        req.To,
	})
}

// scopeExposures returns the net exposure per product of a scope in a report
func scopeExposures(r *models.RiskReport, scope string) (map[string]decimal.Decimal, error) {
	kind, id := models.ParseScope(scope)
	switch kind {
	case models.ScopePortfolio:
		return r.Exposure.NetExposureByProduct(), nil
	case models.ScopeProduct:
		if e, ok := r.Exposure.NetExposureByProduct()[id]; ok {
			return map[string]decimal.Decimal{id: e}, nil
		}
	case models.ScopeGroup:
		for _, g := range r.TradeGroups {
			if g.TradeGroupID == id {
				return g.NetExposure, nil
			}
		}
	}
	return nil, fmt.Errorf("scope %s: %w", scope, riskerr.ErrNotFound)
}
