package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleReport() *models.RiskReport {
	return &models.RiskReport{
		RunID: "run-1",
		Exposure: models.ExposureReport{
			GrossExposure: d("10000000"),
			NetExposure:   d("-4000000"),
			Snapshots: []models.ExposureSnapshot{
				{ProductCode: "BRENT", GrossExposure: d("6000000"), NetExposure: d("-5000000")},
				{ProductCode: "WTI", GrossExposure: d("4000000"), NetExposure: d("1000000")},
			},
		},
		Portfolio: models.PortfolioRisk{Results: []models.VaRResult{
			{Method: models.VaRMethodHistorical, Confidence: 0.95, VaR: d("90000"), ExpectedShortfall: d("120000")},
			{Method: models.VaRMethodHistorical, Confidence: 0.99, VaR: d("130000"), ExpectedShortfall: d("150000")},
			{Method: models.VaRMethodMonteCarlo, Confidence: 0.99, VaR: d("140000"), ExpectedShortfall: d("160000")},
		}},
		Products: []models.ProductRisk{{ProductCode: "BRENT", Results: []models.VaRResult{
			{Method: models.VaRMethodHistorical, Confidence: 0.95, VaR: d("80000"), ExpectedShortfall: d("100000")},
		}}},
		TradeGroups: []models.TradeGroupRisk{{TradeGroupID: "SPREAD-1", GrossLegExposure: d("2000000"), TotalNetExposure: d("-100000")}},
		Stress: []models.StressResult{
			{ScenarioName: "-10%", PnlImpact: d("400000"), Impacts: []models.StressImpact{
				{ProductCode: "BRENT", PnlImpact: d("500000")}, {ProductCode: "WTI", PnlImpact: d("-100000")},
			}},
			{ScenarioName: "+10%", PnlImpact: d("-400000"), Impacts: []models.StressImpact{
				{ProductCode: "BRENT", PnlImpact: d("-500000")}, {ProductCode: "WTI", PnlImpact: d("100000")},
			}},
		},
	}
}

func limit(id int, typ, scope, max string) models.RiskLimit {
	return models.RiskLimit{ID: id, Name: typ + " " + scope, LimitType: typ, Scope: scope, MaxValue: d(max), Enabled: true}
}

func TestEvaluate_Statuses(t *testing.T) {
	m := NewMonitor(DefaultConfig(), NewMemoryStore(), nil)
	report := sampleReport()

	varLimit := limit(3, models.LimitTypeVaR, models.ScopePortfolio, "100000")
	varLimit.Method = models.VaRMethodHistorical
	varLimit.Confidence = 0.95

	limits := []models.RiskLimit{
		limit(1, models.LimitTypeGrossExposure, models.ScopePortfolio, "20000000"),
		limit(2, models.LimitTypeNetExposure, models.ScopePortfolio, "4000000"),
		varLimit,
		limit(4, models.LimitTypeStressLoss, models.ScopePortfolio, "300000"),
		limit(5, models.LimitTypeVaR, models.ProductScope("WTI"), "50000"),
		{ID: 6, LimitType: models.LimitTypeGrossExposure, Scope: models.ScopePortfolio, MaxValue: d("1"), Enabled: false},
	}
	got := m.Evaluate(limits, report)
	require.Len(t, got, 5, "disabled limits are skipped")

	statuses := map[int]string{}
	for _, u := range got {
		statuses[u.Limit.ID] = u.Status
	}
	assert.Equal(t, models.LimitStatusOK, statuses[1])
	assert.Equal(t, models.LimitStatusWarning, statuses[2], "exactly 100% is a warning, not a breach")
	assert.Equal(t, models.LimitStatusWarning, statuses[3])
	assert.Equal(t, models.LimitStatusBreach, statuses[4])
	assert.Equal(t, models.LimitStatusUnknown, statuses[5], "missing figure is never OK")

	util, ok := got[0].Utilization.Get()
	require.True(t, ok)
	assert.True(t, util.Equal(d("0.5")))
	assert.False(t, got[4].Utilization.IsKnown())
	assert.NotEmpty(t, got[4].Utilization.Reason())
}

func TestEvaluate_ThresholdsAreConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarningThreshold = d("0.40")
	m := NewMonitor(cfg, NewMemoryStore(), nil)
	l := limit(1, models.LimitTypeGrossExposure, models.ScopePortfolio, "20000000")

	got := m.Evaluate([]models.RiskLimit{l}, sampleReport())
	assert.Equal(t, models.LimitStatusWarning, got[0].Status)

	l.WarningThreshold = d("0.60")
	got = m.Evaluate([]models.RiskLimit{l}, sampleReport())
	assert.Equal(t, models.LimitStatusOK, got[0].Status, "per-limit threshold overrides the default")
}

func TestCurrentValue(t *testing.T) {
	r := sampleReport()
	check := func(t *testing.T, l models.RiskLimit, want string) {
		t.Helper()
		v, ok := CurrentValue(l, r).Get()
		require.True(t, ok)
		assert.True(t, v.Equal(d(want)), "got %s want %s", v, want)
	}

	t.Run("product net exposure is absolute", func(t *testing.T) {
		check(t, limit(1, models.LimitTypeNetExposure, models.ProductScope("BRENT"), "1"), "5000000")
	})
	t.Run("group gross uses leg exposure", func(t *testing.T) {
		check(t, limit(1, models.LimitTypeGrossExposure, models.GroupScope("SPREAD-1"), "1"), "2000000")
	})
	t.Run("unspecified method takes the largest", func(t *testing.T) {
		l := limit(1, models.LimitTypeVaR, models.ScopePortfolio, "1")
		l.Confidence = 0.99
		check(t, l, "140000")
	})
	t.Run("expected shortfall", func(t *testing.T) {
		l := limit(1, models.LimitTypeExpectedShortfall, models.ScopePortfolio, "1")
		l.Method = models.VaRMethodHistorical
		l.Confidence = 0.99
		check(t, l, "150000")
	})
	t.Run("product stress loss", func(t *testing.T) {
		check(t, limit(1, models.LimitTypeStressLoss, models.ProductScope("BRENT"), "1"), "500000")
	})
	t.Run("unknown trade group", func(t *testing.T) {
		assert.False(t, CurrentValue(limit(1, models.LimitTypeNetExposure, models.GroupScope("NOPE"), "1"), r).IsKnown())
	})
}

func TestEvaluate_DegradedFigureStaysFlagged(t *testing.T) {
	report := sampleReport()
	report.Portfolio.Results = append(report.Portfolio.Results, models.VaRResult{
		Method: models.VaRMethodGARCH, Confidence: 0.99, VaR: d("175000"), ExpectedShortfall: d("190000"),
		Degraded: true, DegradedReason: "historical volatility fallback",
	})
	m := NewMonitor(DefaultConfig(), NewMemoryStore(), nil)

	anyMethod := limit(1, models.LimitTypeVaR, models.ScopePortfolio, "150000")
	anyMethod.Confidence = 0.99
	historical := anyMethod
	historical.ID = 2
	historical.Method = models.VaRMethodHistorical

	got := m.Evaluate([]models.RiskLimit{anyMethod, historical}, report)
	require.Len(t, got, 2)
	v, _ := got[0].CurrentValue.Get()
	assert.True(t, v.Equal(d("175000")), "largest figure is the GARCH fallback")
	assert.True(t, got[0].Degraded)
	assert.False(t, got[1].Degraded)

	created, err := m.Record(context.Background(), "run-1", got)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].LimitID)
	assert.True(t, created[0].Degraded)
}

func TestSeverity(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	assert.Equal(t, models.BreachSeverityLow, m.Severity(d("1.05")))
	assert.Equal(t, models.BreachSeverityMedium, m.Severity(d("1.10")))
	assert.Equal(t, models.BreachSeverityHigh, m.Severity(d("1.30")))
	assert.Equal(t, models.BreachSeverityCritical, m.Severity(d("2")))
}

func breachingRun(m *Monitor) []models.LimitUtilization {
	l := limit(4, models.LimitTypeStressLoss, models.ScopePortfolio, "300000")
	return m.Evaluate([]models.RiskLimit{l}, sampleReport())
}

func TestRecord_OneOpenBreachPerLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMonitor(DefaultConfig(), store, nil)
	m.now = func() time.Time { return time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC) }

	created, err := m.Record(ctx, "run-1", breachingRun(m))
	require.NoError(t, err)
	require.Len(t, created, 1)
	b := created[0]
	assert.True(t, b.ExcessAmount.Equal(d("100000")))
	assert.Equal(t, models.BreachSeverityHigh, b.Severity, "utilization 1.3333")
	assert.Equal(t, "run-1", b.RunID)

	again, err := m.Record(ctx, "run-2", breachingRun(m))
	require.NoError(t, err)
	assert.Empty(t, again, "still-open breach is not duplicated")

	// a later in-limit reading does not clear it
	ok := m.Evaluate([]models.RiskLimit{limit(4, models.LimitTypeStressLoss, models.ScopePortfolio, "900000")}, sampleReport())
	_, err = m.Record(ctx, "run-3", ok)
	require.NoError(t, err)
	open, err := m.Breaches(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func TestRecord_ConcurrentRunsWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	m := NewMonitor(DefaultConfig(), store, nil)
	utils := breachingRun(m)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := m.Record(context.Background(), "run", utils)
			assert.NoError(t, err)
			mu.Lock()
			total += len(created)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)
}

func TestAcknowledge(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(DefaultConfig(), NewMemoryStore(), nil)
	created, err := m.Record(ctx, "run-1", breachingRun(m))
	require.NoError(t, err)
	id := created[0].ID

	t.Run("requires resolver and text", func(t *testing.T) {
		_, err := m.Acknowledge(ctx, id, "alice", "")
		assert.ErrorIs(t, err, riskerr.ErrResolutionRequired)
		_, err = m.Acknowledge(ctx, id, "", "reduced position")
		assert.ErrorIs(t, err, riskerr.ErrResolutionRequired)
	})

	t.Run("resolves once", func(t *testing.T) {
		b, err := m.Acknowledge(ctx, id, "alice", "reduced position")
		require.NoError(t, err)
		assert.True(t, b.IsResolved())
		assert.Equal(t, "alice", *b.ResolvedBy)

		_, err = m.Acknowledge(ctx, id, "bob", "again")
		assert.ErrorIs(t, err, riskerr.ErrBreachAlreadyResolved)
	})

	t.Run("unknown breach", func(t *testing.T) {
		_, err := m.Acknowledge(ctx, "missing", "alice", "x")
		assert.True(t, errors.Is(err, riskerr.ErrNotFound))
	})

	t.Run("resolved history is kept and a new breach can open", func(t *testing.T) {
		created, err := m.Record(ctx, "run-2", breachingRun(m))
		require.NoError(t, err)
		require.Len(t, created, 1)
		all, err := m.Breaches(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
