package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
	"github.com/trogers1052/oil-risk-service/internal/varmodel"
)

// Source names reported on a backtest
const (
	SourceRecomputed = "RECOMPUTED"
	SourceSnapshots  = "SNAPSHOTS"
)

// Config controls replay
type Config struct {
	CriticalValue float64
	// Lookback is the number of prior observations fed to each day's estimate
	Lookback int
	Workers  int
}

// DefaultConfig uses a 250 day lookback
func DefaultConfig() Config {
	return Config{CriticalValue: DefaultCriticalValue, Lookback: 250, Workers: 4}
}

// Backtester replays a book through the VaR calculator
type Backtester struct {
	cfg    Config
	calc   *varmodel.Calculator
	logger *zap.Logger
}

// NewBacktester creates a backtester around a calculator
func NewBacktester(cfg Config, calc *varmodel.Calculator, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{cfg: cfg, calc: calc, logger: logger}
}

// ReplayRequest holds a fixed book and the return history to replay it over
type ReplayRequest struct {
	Scope     string
	Exposures map[string]float64
	Series    map[string]models.ReturnSeries
	From, To  time.Time
}

type dayResult struct {
	record models.BacktestRecord
	issues []models.CalculationIssue
}

// Replay recomputes, for every day in [From, To], the VaR that would have been
// in force using only observations strictly before that day, and compares it
// with the P&L the book realized on the day. Days run in parallel.
func (b *Backtester) Replay(ctx context.Context, req ReplayRequest) (*models.BacktestReport, error) {
	book, err := varmodel.NewBook(req.Exposures, req.Series)
	if err != nil {
		return nil, fmt.Errorf("failed to align backtest book: %w", err)
	}
	report := &models.BacktestReport{Scope: req.Scope, From: req.From, To: req.To, Source: SourceRecomputed}

	var days []int
	for t, day := range book.Dates {
		if !day.Before(req.From) && !day.After(req.To) {
			days = append(days, t)
		}
	}
	if len(days) == 0 {
		return report, nil
	}

	pnl := book.PnL()
	results := make([]dayResult, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.cfg.Workers))
	for i, t := range days {
		g.Go(func() error {
			window := book.Window(max(0, t-b.cfg.Lookback), t)

			day := book.Dates[t]
			estimates, errs := b.calc.EstimateBook(gctx, req.Scope, window)
			if err := gctx.Err(); err != nil {
				return err
			}

			actual := decimal.NewFromFloat(pnl[t]).Round(2)
			rec := models.BacktestRecord{Date: day, ActualPnL: actual}
			loss := rec.ActualLoss()
			for _, e := range estimates {
				rec.Estimates = append(rec.Estimates, models.BacktestEstimate{
					Method:     e.Method,
					Confidence: e.Confidence,
					VaR:        e.VaR,
					Breach:     loss.GreaterThan(e.VaR),
				})
			}
			var issues []models.CalculationIssue
			for _, err := range errs {
				issues = append(issues, models.CalculationIssue{
					Stage:    models.StageBacktest,
					Entity:   req.Scope + "@" + day.Format("2006-01-02"),
					Kind:     riskerr.Kind(err),
					Severity: models.SeverityWarning,
					Message:  err.Error(),
				})
			}
			results[i] = dayResult{record: rec, issues: issues}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		report.Records = append(report.Records, r.record)
		report.Issues = append(report.Issues, r.issues...)
	}
	report.Methods = Summarize(report.Records, b.calc.Config().Confidences, b.cfg.CriticalValue)
	b.logger.Info("backtest replayed",
		zap.String("scope", req.Scope),
		zap.Int("days", len(report.Records)),
		zap.Int("issues", len(report.Issues)))
	return report, nil
}

// FromSnapshots builds a backtest from stored estimates. Each snapshot must
// carry the P&L realized on the day after its as-of date; snapshots without
// one are ignored.
func (b *Backtester) FromSnapshots(scope string, snapshots []models.RiskSnapshot, from, to time.Time) *models.BacktestReport {
	report := &models.BacktestReport{Scope: scope, From: from, To: to, Source: SourceSnapshots}
	byDate := make(map[time.Time]*models.BacktestRecord)
	var confidences []float64
	seen := make(map[float64]bool)

	for _, s := range snapshots {
		if s.Scope != scope || s.RealizedPnL == nil || s.AsOfDate.Before(from) || s.AsOfDate.After(to) {
			continue
		}
		rec, ok := byDate[s.AsOfDate]
		if !ok {
			rec = &models.BacktestRecord{Date: s.AsOfDate, ActualPnL: *s.RealizedPnL}
			byDate[s.AsOfDate] = rec
		}
		rec.Estimates = append(rec.Estimates, models.BacktestEstimate{
			Method:     s.Method,
			Confidence: s.Confidence,
			VaR:        s.VaR,
			Breach:     rec.ActualLoss().GreaterThan(s.VaR),
		})
		if !seen[s.Confidence] {
			seen[s.Confidence] = true
			confidences = append(confidences, s.Confidence)
		}
	}

	for _, rec := range byDate {
		report.Records = append(report.Records, *rec)
	}
	sort.Slice(report.Records, func(i, j int) bool { return report.Records[i].Date.Before(report.Records[j].Date) })
	sort.Float64s(confidences)
	report.Methods = Summarize(report.Records, confidences, b.cfg.CriticalValue)
	return report
}
