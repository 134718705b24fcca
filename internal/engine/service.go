// Package engine runs the end-to-end risk calculation over a point-in-time
// view of contracts and market prices.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/oil-risk-service/internal/backtest"
	"github.com/trogers1052/oil-risk-service/internal/exposure"
	"github.com/trogers1052/oil-risk-service/internal/hedge"
	"github.com/trogers1052/oil-risk-service/internal/limits"
	"github.com/trogers1052/oil-risk-service/internal/metrics"
	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/position"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
	"github.com/trogers1052/oil-risk-service/internal/stress"
	"github.com/trogers1052/oil-risk-service/internal/varmodel"
)

// ContractSource returns the contract book
type ContractSource interface {
	GetContracts(ctx context.Context, includeCancelled bool) ([]models.Contract, error)
}

// PriceStore serves both spot marks and price history
type PriceStore interface {
	exposure.PriceSource
	hedge.PriceHistory
}

// LimitSource returns configured limits
type LimitSource interface {
	GetRiskLimits(ctx context.Context, enabledOnly bool) ([]models.RiskLimit, error)
}

// ScenarioSource returns the stress catalogue
type ScenarioSource interface {
	GetStressScenarios(ctx context.Context, enabledOnly bool) ([]models.StressScenario, error)
}

// SnapshotStore keeps end-of-day VaR estimates for backtesting
type SnapshotStore interface {
	SaveRiskSnapshots(ctx context.Context, snapshots []models.RiskSnapshot) error
	GetRiskSnapshots(ctx context.Context, scope string, from, to time.Time) ([]models.RiskSnapshot, error)
	SetRealizedPnL(ctx context.Context, id int, pnl decimal.Decimal) error
}

// Publisher sends risk events downstream
type Publisher interface {
	PublishRiskEvent(ctx context.Context, event *models.RiskEvent) error
}

// ReportCache holds the latest report per as-of date
type ReportCache interface {
	GetReport(ctx context.Context, asOf time.Time) (*models.RiskReport, error)
	SetReport(ctx context.Context, report *models.RiskReport) error
}

// Config gathers the stage configurations
type Config struct {
	VaR      varmodel.Config
	Hedge    hedge.Config
	Exposure exposure.Config
	Limits   limits.Config
	Backtest backtest.Config

	// UnhedgedThresholds apply to products without catalogue thresholds
	UnhedgedThresholds hedge.Thresholds
	// HistoryObservations is the number of daily returns fed to VaR
	HistoryObservations int
	Workers             int
}

// DefaultConfig returns the desk defaults for every stage
func DefaultConfig() Config {
	return Config{
		VaR:      varmodel.DefaultConfig(),
		Hedge:    hedge.DefaultConfig(),
		Exposure: exposure.DefaultConfig(),
		Limits:   limits.DefaultConfig(),
		Backtest: backtest.DefaultConfig(),
		UnhedgedThresholds: hedge.Thresholds{
			Medium: decimal.NewFromInt(1_000_000),
			High:   decimal.NewFromInt(5_000_000),
		},
		HistoryObservations: 250,
		Workers:             4,
	}
}

// Dependencies are the collaborators of a Service. Publisher, Cache,
// Scenarios and Snapshots are optional.
type Dependencies struct {
	Catalog   *models.ProductCatalog
	Contracts ContractSource
	Prices    PriceStore
	Limits    LimitSource
	Breaches  limits.BreachStore
	Scenarios ScenarioSource
	Snapshots SnapshotStore
	Publisher Publisher
	Cache     ReportCache
	// Correlation is the VaR correlation strategy; nil means realized correlation
	Correlation varmodel.CorrelationSource
}

// Service wires the calculation stages together
type Service struct {
	cfg  Config
	deps Dependencies

	aggregator *position.Aggregator
	linker     *hedge.Linker
	valuer     *exposure.Valuer
	calc       *varmodel.Calculator
	tester     *stress.Tester
	monitor    *limits.Monitor
	backtester *backtest.Backtester

	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a risk engine
func NewService(cfg Config, deps Dependencies, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = models.NewProductCatalog(models.DefaultProducts())
	}
	calc := varmodel.NewCalculator(cfg.VaR, deps.Correlation, logger.Named("var"))
	return &Service{
		cfg:        cfg,
		deps:       deps,
		aggregator: position.NewAggregator(deps.Catalog, logger.Named("positions")),
		linker:     hedge.NewLinker(cfg.Hedge, deps.Prices, logger.Named("hedge")),
		valuer:     exposure.NewValuer(cfg.Exposure, deps.Prices, logger.Named("exposure")),
		calc:       calc,
		tester:     stress.NewTester(logger.Named("stress")),
		monitor:    limits.NewMonitor(cfg.Limits, deps.Breaches, logger.Named("limits")),
		backtester: backtest.NewBacktester(cfg.Backtest, calc, logger.Named("backtest")),
		logger:     logger,
		now:        time.Now,
	}
}

// Catalog returns the product catalogue in use
func (s *Service) Catalog() *models.ProductCatalog { return s.deps.Catalog }

// run carries the intermediate state of one calculation
type run struct {
	report *models.RiskReport
	series map[string]models.ReturnSeries
	agg    *position.Result
}

func (r *run) issue(stage, entity string, err error, severity string) {
	iss := models.CalculationIssue{
		Stage:    stage,
		Entity:   entity,
		Kind:     riskerr.Kind(err),
		Severity: severity,
		Message:  err.Error(),
	}
	var ih *riskerr.InsufficientHistoryError
	var mc *riskerr.ModelConvergenceError
	switch {
	case errors.As(err, &ih):
		iss.Method = ih.Method
	case errors.As(err, &mc):
		iss.Method = models.VaRMethodGARCH
	}
	r.report.Issues = append(r.report.Issues, iss)
}

// Run performs a full risk run as of a date and commits it: new breaches are
// recorded and published, metrics and the report cache are updated.
// Sub-calculation failures are recorded as issues on the report; only failing
// to read the contract book aborts the run.
func (s *Service) Run(ctx context.Context, asOf time.Time) (*models.RiskReport, error) {
	start := s.now()
	r, err := s.run(ctx, asOf)
	metrics.ObserveRun(s.now().Sub(start), err)
	if err != nil {
		return nil, err
	}
	return r.report, nil
}

// run evaluates the book and then applies the run's side effects
func (s *Service) run(ctx context.Context, asOf time.Time) (*run, error) {
	r, err := s.evaluate(ctx, asOf)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("run_id", r.report.RunID), zap.Time("as_of", r.report.AsOfDate))

	s.recordBreaches(ctx, r)
	for _, iss := range r.report.Issues {
		metrics.IssueRecorded(iss.Stage, iss.Kind)
	}
	s.publishMetrics(r.report)
	if s.deps.Publisher != nil {
		summary := r.report.Summary()
		event := &models.RiskEvent{EventType: models.EventRiskRunCompleted, Timestamp: s.now().UTC(), Summary: &summary}
		if err := s.deps.Publisher.PublishRiskEvent(ctx, event); err != nil {
			log.Error("failed to publish run completed event", zap.Error(err))
		}
	}
	s.cacheReport(ctx, r.report)

	log.Info("risk run completed",
		zap.Int("positions", len(r.report.Positions)),
		zap.Int("hedges", len(r.report.Hedges)),
		zap.String("gross_exposure", r.report.Exposure.GrossExposure.String()),
		zap.String("net_exposure", r.report.Exposure.NetExposure.String()),
		zap.Int("issues", len(r.report.Issues)),
		zap.Int("new_breaches", len(r.report.NewBreaches)))
	return r, nil
}

// evaluate computes positions, hedges, exposure, VaR, stress and limit
// utilization. It has no side effects.
func (s *Service) evaluate(ctx context.Context, asOf time.Time) (*run, error) {
	asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	contracts, err := s.deps.Contracts.GetContracts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}

	r := &run{report: &models.RiskReport{
		RunID:       uuid.NewString(),
		AsOfDate:    asOf,
		GeneratedAt: s.now().UTC(),
	}}

	r.agg = s.aggregator.Aggregate(contracts)
	for _, f := range r.agg.Failures {
		severity := models.SeverityWarning
		if riskerr.IsHard(f.Err) {
			severity = models.SeverityError
		}
		r.issue(models.StageAggregation, f.Key.String(), f.Err, severity)
	}
	r.report.Positions = r.agg.NetPositions

	r.report.Hedges = s.linker.Link(ctx, r.agg.Positions, asOf)

	valued, errs := s.valuer.Value(ctx, r.agg.NetPositions, asOf)
	for _, e := range errs {
		r.issue(models.StageValuation, "", e, models.SeverityWarning)
	}
	r.report.Exposure = *valued
	r.report.Unhedged = hedge.UnhedgedReport(r.report.Hedges, valued, s.deps.Catalog, s.cfg.UnhedgedThresholds)

	r.series = s.loadSeries(ctx, r, asOf)
	if err := s.computeVaR(ctx, r); err != nil {
		return nil, err
	}

	s.runStress(ctx, r)
	s.evaluateLimits(ctx, r)
	return r, nil
}

func (s *Service) cacheReport(ctx context.Context, report *models.RiskReport) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.SetReport(ctx, report); err != nil {
		s.logger.Warn("failed to cache risk report", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

// loadSeries fetches the benchmark return history of every valued product.
// Series are left whole; the calculator cuts its window after aligning dates
// across products.
func (s *Service) loadSeries(ctx context.Context, r *run, asOf time.Time) map[string]models.ReturnSeries {
	out := make(map[string]models.ReturnSeries)
	from := asOf.AddDate(0, 0, -(s.cfg.HistoryObservations*3/2 + 30))
	for product := range r.report.Exposure.NetExposureByProduct() {
		prices, err := s.deps.Prices.GetPriceHistory(ctx, product, "", models.PriceTypeSpot, from, asOf)
		if err != nil {
			r.issue(models.StageVaR, product, fmt.Errorf("failed to load price history: %w", err), models.SeverityWarning)
			continue
		}
		out[product] = models.ReturnsFromPrices(prices)
	}
	return out
}

func floatExposures(in map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v.InexactFloat64()
	}
	return out
}

type groupAccumulator struct {
	risk  models.TradeGroupRisk
	gross map[string]decimal.Decimal
}

// tradeGroups values each group's legs with the run's marks
func (s *Service) tradeGroups(r *run) []*groupAccumulator {
	byID := make(map[string]*groupAccumulator)
	var ids []string
	for _, p := range r.agg.Positions {
		if p.TradeGroupID == "" {
			continue
		}
		g, ok := byID[p.TradeGroupID]
		if !ok {
			g = &groupAccumulator{
				risk:  models.TradeGroupRisk{TradeGroupID: p.TradeGroupID, NetExposure: map[string]decimal.Decimal{}},
				gross: map[string]decimal.Decimal{},
			}
			byID[p.TradeGroupID] = g
			ids = append(ids, p.TradeGroupID)
		}
		g.risk.ContractIDs = append(g.risk.ContractIDs, p.ContractID)
		price, ok := r.report.Exposure.PriceFor(p.ProductCode, p.ContractMonth)
		if !ok {
			r.issue(models.StageVaR, models.GroupScope(p.TradeGroupID), &riskerr.MissingPriceError{
				Product:       p.ProductCode,
				ContractMonth: string(p.ContractMonth),
				AsOf:          r.report.AsOfDate,
				WindowDays:    s.cfg.Exposure.StalenessBusinessDays,
			}, models.SeverityWarning)
			continue
		}
		leg := p.Quantity.Mul(price)
		g.risk.NetExposure[p.ProductCode] = g.risk.NetExposure[p.ProductCode].Add(leg)
		g.gross[p.ProductCode] = g.gross[p.ProductCode].Add(leg.Abs())
		g.risk.GrossLegExposure = g.risk.GrossLegExposure.Add(leg.Abs())
		g.risk.TotalNetExposure = g.risk.TotalNetExposure.Add(leg)
	}
	sort.Strings(ids)
	out := make([]*groupAccumulator, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// computeVaR runs one task per product and per trade group, then the
// portfolio and group aggregation as the join step.
func (s *Service) computeVaR(ctx context.Context, r *run) error {
	byProduct := r.report.Exposure.NetExposureByProduct()
	products := make([]string, 0, len(byProduct))
	for p := range byProduct {
		products = append(products, p)
	}
	sort.Strings(products)
	groups := s.tradeGroups(r)

	productResults := make([][]models.VaRResult, len(products))
	productErrs := make([][]error, len(products))
	groupErrs := make([][]error, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.Workers))
	for i, p := range products {
		g.Go(func() error {
			productResults[i], productErrs[i] = s.calc.Estimate(gctx, p,
				map[string]float64{p: byProduct[p].InexactFloat64()}, r.series)
			return gctx.Err()
		})
	}
	for i, grp := range groups {
		g.Go(func() error {
			scope := models.GroupScope(grp.risk.TradeGroupID)
			var errs []error
			grp.risk.Results, errs = s.calc.Estimate(gctx, scope, floatExposures(grp.risk.NetExposure), r.series)
			gross, grossErrs := s.calc.Estimate(gctx, scope+":GROSS", floatExposures(grp.gross), r.series)
			grp.risk.GrossLegVaR = gross
			if len(errs) == 0 {
				errs = grossErrs
			}
			groupErrs[i] = errs
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("var calculation cancelled: %w", err)
	}

	var parts [][]models.VaRResult
	portfolio := make(map[string]float64)
	for i, p := range products {
		for _, e := range productErrs[i] {
			r.issue(models.StageVaR, models.ProductScope(p), e, models.SeverityWarning)
		}
		if len(productResults[i]) == 0 {
			continue
		}
		r.report.Products = append(r.report.Products, models.ProductRisk{
			ProductCode: p,
			NetExposure: byProduct[p],
			Results:     productResults[i],
		})
		parts = append(parts, productResults[i])
		portfolio[p] = byProduct[p].InexactFloat64()
	}

	r.report.Portfolio = models.PortfolioRisk{
		NetExposure:   r.report.Exposure.NetExposure,
		GrossExposure: r.report.Exposure.GrossExposure,
	}
	if len(portfolio) > 0 {
		results, errs := s.calc.Estimate(ctx, models.ScopePortfolio, portfolio, r.series)
		for _, e := range errs {
			r.issue(models.StageVaR, models.ScopePortfolio, e, models.SeverityWarning)
		}
		r.report.Portfolio.Results = results
		r.report.Portfolio.Benefits = varmodel.Benefits(parts, results)
	}

	var exposures []varmodel.GroupExposure
	for i, grp := range groups {
		for _, e := range groupErrs[i] {
			r.issue(models.StageVaR, models.GroupScope(grp.risk.TradeGroupID), e, models.SeverityWarning)
		}
		r.report.TradeGroups = append(r.report.TradeGroups, grp.risk)
		if len(grp.risk.Results) > 0 {
			exposures = append(exposures, varmodel.GroupExposure{
				ID:        grp.risk.TradeGroupID,
				Exposures: floatExposures(grp.risk.NetExposure),
				Results:   grp.risk.Results,
			})
		}
	}
	if len(exposures) > 1 {
		agg, err := s.calc.AggregateGroups(exposures, r.series)
		if err != nil {
			r.issue(models.StageVaR, "TRADE_GROUPS", err, models.SeverityWarning)
		}
		r.report.GroupAggregation = agg
	}
	return nil
}

func (s *Service) scenarios(ctx context.Context, r *run) []models.StressScenario {
	if s.deps.Scenarios == nil {
		return models.DefaultStressScenarios()
	}
	scenarios, err := s.deps.Scenarios.GetStressScenarios(ctx, true)
	if err != nil {
		r.issue(models.StageStress, "", fmt.Errorf("failed to load stress scenarios: %w", err), models.SeverityWarning)
		return nil
	}
	return scenarios
}

func (s *Service) runStress(ctx context.Context, r *run) {
	r.report.Stress = s.tester.Run(s.scenarios(ctx, r), &r.report.Exposure)
}

func (s *Service) evaluateLimits(ctx context.Context, r *run) {
	if s.deps.Limits == nil {
		return
	}
	configured, err := s.deps.Limits.GetRiskLimits(ctx, true)
	if err != nil {
		r.issue(models.StageLimits, "", fmt.Errorf("failed to load risk limits: %w", err), models.SeverityError)
		return
	}
	r.report.Limits = s.monitor.Evaluate(configured, r.report)
}

// recordBreaches appends the run's breaches to the audit trail and publishes
// the ones it created
func (s *Service) recordBreaches(ctx context.Context, r *run) {
	if s.deps.Breaches == nil || len(r.report.Limits) == 0 {
		return
	}
	created, err := s.monitor.Record(ctx, r.report.RunID, r.report.Limits)
	if err != nil {
		r.issue(models.StageLimits, "", err, models.SeverityError)
	}
	r.report.NewBreaches = created
	for i := range created {
		metrics.BreachRecorded(created[i].LimitType, created[i].Severity)
		s.publish(ctx, &models.RiskEvent{EventType: models.EventLimitBreached, Timestamp: s.now().UTC(), Breach: &created[i]})
	}
}

func (s *Service) publish(ctx context.Context, event *models.RiskEvent) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishRiskEvent(ctx, event); err != nil {
		s.logger.Error("failed to publish risk event", zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (s *Service) publishMetrics(r *models.RiskReport) {
	metrics.SetExposure("gross", r.Exposure.GrossExposure.InexactFloat64())
	metrics.SetExposure("net", r.Exposure.NetExposure.InexactFloat64())
	for _, v := range r.Portfolio.Results {
		metrics.SetVaR(models.ScopePortfolio, v.Method, v.Confidence, v.VaR.InexactFloat64())
	}
	for _, p := range r.Products {
		for _, v := range p.Results {
			metrics.SetVaR(models.ProductScope(p.ProductCode), v.Method, v.Confidence, v.VaR.InexactFloat64())
		}
	}
}

// Latest returns the cached report for a date. On a miss the book is evaluated
// without recording breaches or publishing events, and the result is cached.
func (s *Service) Latest(ctx context.Context, asOf time.Time) (*models.RiskReport, error) {
	if s.deps.Cache != nil {
		report, err := s.deps.Cache.GetReport(ctx, asOf)
		if err == nil {
			return report, nil
		}
		if !errors.Is(err, riskerr.ErrNotFound) {
			s.logger.Warn("report cache unavailable", zap.Error(err))
		}
	}
	r, err := s.evaluate(ctx, asOf)
	if err != nil {
		return nil, err
	}
	s.cacheReport(ctx, r.report)
	return r.report, nil
}

var errNoBreachStore = errors.New("breach store is not configured")

// Acknowledge resolves a breach and publishes the resolution
func (s *Service) Acknowledge(ctx context.Context, id, resolvedBy, resolution string) (*models.LimitBreach, error) {
	if s.deps.Breaches == nil {
		return nil, errNoBreachStore
	}
	b, err := s.monitor.Acknowledge(ctx, id, resolvedBy, resolution)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, &models.RiskEvent{EventType: models.EventBreachResolved, Timestamp: s.now().UTC(), Breach: b})
	return b, nil
}

// Breaches lists the breach feed
func (s *Service) Breaches(ctx context.Context, openOnly bool) ([]models.LimitBreach, error) {
	if s.deps.Breaches == nil {
		return nil, errNoBreachStore
	}
	return s.monitor.Breaches(ctx, openOnly)
}
