package varmodel

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// stratifiedNormal is an exactly normal-shaped sample: inverse-CDF grid points
// shuffled into a random order.
func stratifiedNormal(n int, sigma float64, seed uint64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = sigma * distuv.UnitNormal.Quantile((float64(i)+0.5)/float64(n))
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rng.Shuffle(n, func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func seriesOf(returns []float64) models.ReturnSeries {
	s := models.ReturnSeries{Returns: returns}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for range returns {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		s.Dates = append(s.Dates, day)
		day = day.AddDate(0, 0, 1)
	}
	return s
}

func find(t *testing.T, results []models.VaRResult, method string, conf float64) models.VaRResult {
	t.Helper()
	r, ok := models.FindVaR(results, method, conf)
	require.True(t, ok, "missing %s %.2f", method, conf)
	return r
}

func TestQuantile_LinearInterpolation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 2.0, Quantile(x, 0.25), 1e-12)
	assert.InDelta(t, 1.4, Quantile(x, 0.1), 1e-12)
	assert.InDelta(t, 5.0, Quantile(x, 1), 1e-12)
	assert.InDelta(t, 1.0, Quantile(x, 0), 1e-12)
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestEstimate_HistoricalMatchesNormalQuantile(t *testing.T) {
	const sigma, exposure = 0.02, 1_000_000.0
	calc := NewCalculator(DefaultConfig(), nil, nil)
	series := map[string]models.ReturnSeries{"BRENT": seriesOf(stratifiedNormal(250, sigma, 1))}

	results, errs := calc.Estimate(context.Background(), "BRENT", map[string]float64{"BRENT": exposure}, series)
	for _, err := range errs {
		var conv *riskerr.ModelConvergenceError
		require.True(t, errors.As(err, &conv), "unexpected error %v", err)
	}

	theoretical := 1.645 * sigma * exposure
	hist := find(t, results, models.VaRMethodHistorical, 0.95)
	assert.InEpsilon(t, theoretical, hist.VaR.InexactFloat64(), 0.05)
	assert.Equal(t, 250, hist.Observations)

	garch := find(t, results, models.VaRMethodGARCH, 0.95)
	ratio := garch.VaR.InexactFloat64() / theoretical
	assert.True(t, ratio > 0.6 && ratio < 1.5, "garch/theoretical = %.3f", ratio)

	mc := find(t, results, models.VaRMethodMonteCarlo, 0.95)
	assert.InEpsilon(t, theoretical, mc.VaR.InexactFloat64(), 0.05)
}

func TestEstimate_ShortHistorySkipsHistoricalOnly(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil, nil)
	series := map[string]models.ReturnSeries{"WTI": seriesOf(stratifiedNormal(120, 0.02, 2))}

	results, errs := calc.Estimate(context.Background(), "WTI", map[string]float64{"WTI": -500_000}, series)

	var insufficient *riskerr.InsufficientHistoryError
	found := false
	for _, err := range errs {
		if errors.As(err, &insufficient) {
			found = true
			assert.Equal(t, models.VaRMethodHistorical, insufficient.Method)
			assert.Equal(t, 120, insufficient.Observations)
			assert.Equal(t, 250, insufficient.Required)
		}
	}
	assert.True(t, found)

	_, ok := models.FindVaR(results, models.VaRMethodHistorical, 0.95)
	assert.False(t, ok, "skipped method must not report a number")
	find(t, results, models.VaRMethodGARCH, 0.99)
	find(t, results, models.VaRMethodMonteCarlo, 0.99)
}

func TestEstimate_MissingSeriesSkipsEverything(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil, nil)
	results, errs := calc.Estimate(context.Background(), "PORTFOLIO", map[string]float64{"JET": 1000}, nil)
	assert.Empty(t, results)
	assert.Len(t, errs, 3)
}

func TestEstimate_FlatBookIsZero(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil, nil)
	results, errs := calc.Estimate(context.Background(), "G1", map[string]float64{"BRENT": 0}, nil)
	assert.Empty(t, errs)
	assert.Len(t, results, 6)
	for _, r := range results {
		assert.True(t, r.VaR.IsZero())
	}
}

func TestEstimate_GARCHFallbackIsDegraded(t *testing.T) {
	cfg := DefaultConfig()
	returns := make([]float64, 150)
	for i := range returns {
		returns[i] = 0.001
	}
	calc := NewCalculator(cfg, nil, nil)
	results, errs := calc.Estimate(context.Background(), "MF05", map[string]float64{"MF05": 1e6}, map[string]models.ReturnSeries{"MF05": seriesOf(returns)})

	var conv *riskerr.ModelConvergenceError
	found := false
	for _, err := range errs {
		if errors.As(err, &conv) {
			found = true
			assert.Equal(t, "MF05", conv.Entity)
		}
	}
	require.True(t, found)
	garch := find(t, results, models.VaRMethodGARCH, 0.95)
	assert.True(t, garch.Degraded)
	assert.Contains(t, garch.DegradedReason, "historical volatility fallback")
}

func TestEstimate_VaROrdering(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	cfg := DefaultConfig()
	cfg.MonteCarloPaths = 2000
	calc := NewCalculator(cfg, nil, nil)

	for iter := 0; iter < 8; iter++ {
		products := []string{"BRENT", "WTI", "GASOIL"}
		series := map[string]models.ReturnSeries{}
		exposures := map[string]float64{}
		for _, p := range products {
			sigma := 0.005 + rng.Float64()*0.03
			r := make([]float64, 260)
			for i := range r {
				r[i] = sigma * rng.NormFloat64()
				if rng.IntN(20) == 0 {
					r[i] *= 4
				}
			}
			series[p] = seriesOf(r)
			exposures[p] = (rng.Float64() - 0.4) * 2e6
		}

		results, _ := calc.Estimate(context.Background(), "PORTFOLIO", exposures, series)
		for _, m := range models.VaRMethods {
			v95 := find(t, results, m, 0.95)
			v99 := find(t, results, m, 0.99)
			assert.False(t, v95.VaR.IsNegative(), "%s VaR95", m)
			assert.True(t, v99.VaR.GreaterThanOrEqual(v95.VaR), "%s: VaR99 %s < VaR95 %s", m, v99.VaR, v95.VaR)
			assert.True(t, v95.ExpectedShortfall.GreaterThanOrEqual(v95.VaR), "%s ES95", m)
			assert.True(t, v99.ExpectedShortfall.GreaterThanOrEqual(v99.VaR), "%s ES99", m)
		}
	}
}

func TestFitGARCH_RecoversPersistence(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	const omega, alpha, beta = 2e-6, 0.10, 0.85
	n := 2000
	r := make([]float64, n)
	h := omega / (1 - alpha - beta)
	for i := range r {
		if i > 0 {
			h = omega + alpha*r[i-1]*r[i-1] + beta*h
		}
		r[i] = math.Sqrt(h) * rng.NormFloat64()
	}

	params, err := FitGARCH(r, 5000)
	require.NoError(t, err)
	assert.Greater(t, params.Omega, 0.0)
	assert.Less(t, params.Persistence(), 1.0)
	assert.Greater(t, params.Persistence(), 0.5)
	assert.Greater(t, params.Forecast(), 0.0)
}

func TestStudentTShock_HeavierTail(t *testing.T) {
	n := normalShock{}
	st := studentShock{nu: 5}
	assert.Greater(t, st.quantile(0.99), n.quantile(0.99))
	assert.Greater(t, st.shortfall(0.95), st.quantile(0.95))
	assert.Greater(t, n.shortfall(0.95), n.quantile(0.95))
}

func TestSimulate_DeterministicAcrossWorkers(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.0004, 0.0003, 0.0003, 0.0009})
	sim := Simulation{Exposures: []float64{1e6, -5e5}, Means: []float64{0, 0.0001}, Covariance: cov}

	one, err := Simulate(context.Background(), sim, 5000, 42, 1, 700)
	require.NoError(t, err)
	many, err := Simulate(context.Background(), sim, 5000, 42, 8, 700)
	require.NoError(t, err)
	assert.Equal(t, one, many)

	other, err := Simulate(context.Background(), sim, 5000, 43, 8, 700)
	require.NoError(t, err)
	assert.NotEqual(t, one, other)
}

func TestFactor_EigenFallbackForSingularMatrix(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	l, err := factor(cov)
	require.NoError(t, err)

	var back mat.Dense
	back.Mul(l, l.T())
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, cov.At(i, j), back.At(i, j), 1e-9)
		}
	}
}

func TestEstimate_WindowIsCutAfterAlignment(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil, nil)
	brent := seriesOf(stratifiedNormal(260, 0.02, 6))
	wti := seriesOf(stratifiedNormal(260, 0.02, 7))
	// WTI misses one session that BRENT traded
	wti.Dates = append(append([]time.Time(nil), wti.Dates[:230]...), wti.Dates[231:]...)
	wti.Returns = append(append([]float64(nil), wti.Returns[:230]...), wti.Returns[231:]...)
	series := map[string]models.ReturnSeries{"BRENT": brent, "WTI": wti}

	results, errs := calc.Estimate(context.Background(), "PORTFOLIO", map[string]float64{"BRENT": 1e6, "WTI": -4e5}, series)
	for _, err := range errs {
		var ih *riskerr.InsufficientHistoryError
		assert.False(t, errors.As(err, &ih), "unexpected %v", err)
	}
	hist := find(t, results, models.VaRMethodHistorical, 0.95)
	assert.Equal(t, 250, hist.Observations)

	book, err := NewBook(map[string]float64{"BRENT": 1e6, "WTI": -4e5}, series)
	require.NoError(t, err)
	assert.Equal(t, 259, book.Observations())
	tail := book.Tail(250)
	assert.Equal(t, 250, tail.Observations())
	assert.Equal(t, book.Dates[258], tail.Dates[249])
	assert.Equal(t, book.Returns.At(258, 1), tail.Returns.At(249, 1))
	assert.Same(t, book, book.Tail(0))
}

func TestBenefits_PortfolioBelowSumOfParts(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil, nil)
	a := stratifiedNormal(300, 0.02, 3)
	b := stratifiedNormal(300, 0.02, 4)
	series := map[string]models.ReturnSeries{"BRENT": seriesOf(a), "GASOIL": seriesOf(b)}
	ctx := context.Background()

	brent, _ := calc.Estimate(ctx, "BRENT", map[string]float64{"BRENT": 1e6}, series)
	gasoil, _ := calc.Estimate(ctx, "GASOIL", map[string]float64{"GASOIL": 1e6}, series)
	port, _ := calc.Estimate(ctx, "PORTFOLIO", map[string]float64{"BRENT": 1e6, "GASOIL": 1e6}, series)

	benefits := Benefits([][]models.VaRResult{brent, gasoil}, port)
	require.NotEmpty(t, benefits)
	for _, b := range benefits {
		if b.Method == models.VaRMethodHistorical || b.Method == models.VaRMethodMonteCarlo {
			assert.True(t, b.CorrelationBenefit.IsPositive(), "%s %.2f benefit %s", b.Method, b.Confidence, b.CorrelationBenefit)
		}
		assert.True(t, b.SumOfVaR.Sub(b.CombinedVaR).Equal(b.CorrelationBenefit))
	}
}

func TestAggregateGroups(t *testing.T) {
	series := map[string]models.ReturnSeries{"BRENT": seriesOf(stratifiedNormal(300, 0.02, 5))}
	calc := NewCalculator(DefaultConfig(), nil, nil)
	results := []models.VaRResult{
		{Method: models.VaRMethodHistorical, Confidence: 0.95, VaR: dec(1000)},
		{Method: models.VaRMethodHistorical, Confidence: 0.99, VaR: dec(1500)},
	}

	t.Run("same direction groups add up", func(t *testing.T) {
		agg, err := calc.AggregateGroups([]GroupExposure{
			{ID: "G1", Exposures: map[string]float64{"BRENT": 1e6}, Results: results},
			{ID: "G2", Exposures: map[string]float64{"BRENT": 1e6}, Results: results},
		}, series)
		require.NoError(t, err)
		require.Len(t, agg, 2)
		assert.InDelta(t, 2000, agg[0].CombinedVaR.InexactFloat64(), 0.01)
		assert.InDelta(t, 0, agg[0].CorrelationBenefit.InexactFloat64(), 0.01)
	})

	t.Run("offsetting groups cancel", func(t *testing.T) {
		agg, err := calc.AggregateGroups([]GroupExposure{
			{ID: "G1", Exposures: map[string]float64{"BRENT": 1e6}, Results: results},
			{ID: "G2", Exposures: map[string]float64{"BRENT": -1e6}, Results: results},
		}, series)
		require.NoError(t, err)
		require.Len(t, agg, 2)
		assert.InDelta(t, 0, agg[0].CombinedVaR.InexactFloat64(), 0.01)
		assert.InDelta(t, 2000, agg[0].CorrelationBenefit.InexactFloat64(), 0.01)
	})
}

func TestStaticCorrelation(t *testing.T) {
	s, err := NewStaticCorrelation(map[string]float64{"wti|BRENT": 0.9}, 0.3)
	require.NoError(t, err)
	m := s.Matrix([]string{"BRENT", "GASOIL", "WTI"}, nil)
	assert.Equal(t, 1.0, m.At(1, 1))
	assert.Equal(t, 0.9, m.At(0, 2))
	assert.Equal(t, 0.9, m.At(2, 0))
	assert.Equal(t, 0.3, m.At(0, 1))

	_, err = NewStaticCorrelation(map[string]float64{"BRENT": 0.5}, 0)
	assert.Error(t, err)
	_, err = NewStaticCorrelation(map[string]float64{"A|B": 1.5}, 0)
	assert.Error(t, err)

	src, err := NewCorrelationSource("", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, CorrelationHistorical, src.Name())
	_, err = NewCorrelationSource("implied", nil, 0)
	assert.Error(t, err)
}
