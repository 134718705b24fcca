package varmodel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

type estimate struct {
	method       string
	confidence   float64
	value        float64
	shortfall    float64
	observations int
	degraded     bool
	reason       string
}

func (e estimate) result() models.VaRResult {
	return models.VaRResult{
		Method:            e.method,
		Confidence:        e.confidence,
		VaR:               decimal.NewFromFloat(e.value).Round(2),
		ExpectedShortfall: decimal.NewFromFloat(e.shortfall).Round(2),
		Observations:      e.observations,
		Degraded:          e.degraded,
		DegradedReason:    e.reason,
	}
}

// Calculator runs the three VaR methods over a book of product exposures
type Calculator struct {
	cfg    Config
	corr   CorrelationSource
	logger *zap.Logger
}

// NewCalculator creates a calculator. A nil correlation source means realized correlation.
func NewCalculator(cfg Config, corr CorrelationSource, logger *zap.Logger) *Calculator {
	if corr == nil {
		corr = HistoricalCorrelation{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{cfg: cfg, corr: corr, logger: logger}
}

// Config returns the model parameters
func (c *Calculator) Config() Config { return c.cfg }

// Book is a set of product exposures with their return series aligned on common dates
type Book struct {
	Products  []string
	Exposures []float64
	Dates     []time.Time
	// Returns has one row per date and one column per product
	Returns *mat.Dense
}

// Observations is the number of aligned dates
func (b *Book) Observations() int { return len(b.Dates) }

// PnL revalues the exposures under each historical return vector
func (b *Book) PnL() []float64 {
	out := make([]float64, len(b.Dates))
	for t := range out {
		var v float64
		for i, e := range b.Exposures {
			v += e * b.Returns.At(t, i)
		}
		out[t] = v
	}
	return out
}

// Gross is the sum of absolute exposures
func (b *Book) Gross() float64 {
	var g float64
	for _, e := range b.Exposures {
		g += math.Abs(e)
	}
	return g
}

// Window returns the observations in [lo, hi) as a book of its own
func (b *Book) Window(lo, hi int) *Book {
	w := &Book{Products: b.Products, Exposures: b.Exposures, Dates: b.Dates[lo:hi]}
	if hi > lo {
		w.Returns = mat.DenseCopyOf(b.Returns.Slice(lo, hi, 0, len(b.Products)))
	} else {
		w.Returns = &mat.Dense{}
	}
	return w
}

// Tail keeps the last n aligned observations. n <= 0 keeps them all.
func (b *Book) Tail(n int) *Book {
	if n <= 0 || n >= b.Observations() {
		return b
	}
	return b.Window(b.Observations()-n, b.Observations())
}

// NewBook aligns return series on the dates every product shares. Products with
// zero exposure are left out. A product with no series yields an error.
func NewBook(exposures map[string]float64, series map[string]models.ReturnSeries) (*Book, error) {
	var products []string
	for p, e := range exposures {
		if e != 0 {
			products = append(products, p)
		}
	}
	sort.Strings(products)
	b := &Book{Products: products}
	if len(products) == 0 {
		b.Returns = &mat.Dense{}
		return b, nil
	}

	counts := make(map[time.Time]int)
	lookup := make([]map[time.Time]float64, len(products))
	for i, p := range products {
		s, ok := series[p]
		if !ok || s.Len() == 0 {
			return nil, fmt.Errorf("no return series for %s", p)
		}
		lookup[i] = make(map[time.Time]float64, s.Len())
		for k, d := range s.Dates {
			day := d.UTC().Truncate(24 * time.Hour)
			if _, dup := lookup[i][day]; !dup {
				counts[day]++
			}
			lookup[i][day] = s.Returns[k]
		}
		b.Exposures = append(b.Exposures, exposures[p])
	}
	for day, n := range counts {
		if n == len(products) {
			b.Dates = append(b.Dates, day)
		}
	}
	sort.Slice(b.Dates, func(i, j int) bool { return b.Dates[i].Before(b.Dates[j]) })

	if len(b.Dates) == 0 {
		b.Returns = &mat.Dense{}
		return b, nil
	}
	b.Returns = mat.NewDense(len(b.Dates), len(products), nil)
	for t, day := range b.Dates {
		for i := range products {
			b.Returns.Set(t, i, lookup[i][day])
		}
	}
	return b, nil
}

// Estimate aligns the series, keeps the last Window shared dates and computes
// every method at every confidence. Methods that
// cannot run are omitted from the results and their errors returned; a GARCH
// fit that falls back is returned as a degraded result together with its
// convergence error.
func (c *Calculator) Estimate(ctx context.Context, entity string, exposures map[string]float64, series map[string]models.ReturnSeries) ([]models.VaRResult, []error) {
	book, err := NewBook(exposures, series)
	if err != nil {
		var errs []error
		for _, m := range models.VaRMethods {
			errs = append(errs, &riskerr.InsufficientHistoryError{Entity: entity, Method: m, Observations: 0, Required: c.required(m)})
		}
		c.logger.Warn("var skipped", zap.String("entity", entity), zap.Error(err))
		return nil, errs
	}
	return c.EstimateBook(ctx, entity, book.Tail(c.cfg.Window))
}

// EstimateBook is Estimate over an already aligned book
func (c *Calculator) EstimateBook(ctx context.Context, entity string, book *Book) ([]models.VaRResult, []error) {
	if len(book.Products) == 0 {
		return c.flat(), nil
	}

	var (
		results []models.VaRResult
		errs    []error
	)
	collect := func(method string, ests []estimate, err error) {
		if err != nil {
			errs = append(errs, err)
		}
		for _, e := range ests {
			e.method = method
			results = append(results, e.result())
		}
	}

	ests, err := c.historical(entity, book)
	collect(models.VaRMethodHistorical, ests, err)

	ests, err = c.garch(entity, book)
	collect(models.VaRMethodGARCH, ests, err)

	ests, err = c.monteCarlo(ctx, entity, book)
	collect(models.VaRMethodMonteCarlo, ests, err)

	for _, e := range errs {
		c.logger.Warn("var method skipped or degraded",
			zap.String("entity", entity), zap.String("kind", riskerr.Kind(e)), zap.Error(e))
	}
	return results, errs
}

func (c *Calculator) required(method string) int {
	switch method {
	case models.VaRMethodGARCH:
		return c.cfg.GARCHMinObservations
	case models.VaRMethodMonteCarlo:
		return c.cfg.MonteCarloMinObservations
	}
	return c.cfg.MinObservations
}

// flat is the exact result for a book with no exposure
func (c *Calculator) flat() []models.VaRResult {
	var out []models.VaRResult
	for _, m := range models.VaRMethods {
		for _, conf := range c.cfg.Confidences {
			out = append(out, estimate{method: m, confidence: conf}.result())
		}
	}
	return out
}

func (c *Calculator) historical(entity string, book *Book) ([]estimate, error) {
	if n := book.Observations(); n < c.cfg.MinObservations {
		return nil, &riskerr.InsufficientHistoryError{
			Entity: entity, Method: models.VaRMethodHistorical, Observations: n, Required: c.cfg.MinObservations,
		}
	}
	return tailRisk(book.PnL(), c.cfg.Confidences), nil
}

// garch fits the model to the book's return on gross exposure, so the
// forecast volatility scales back to money through the gross.
func (c *Calculator) garch(entity string, book *Book) ([]estimate, error) {
	gross := book.Gross()
	pnl := book.PnL()
	returns := make([]float64, len(pnl))
	for i, v := range pnl {
		returns[i] = v / gross
	}
	return garchRisk(entity, returns, gross, c.cfg)
}

func (c *Calculator) monteCarlo(ctx context.Context, entity string, book *Book) ([]estimate, error) {
	if n := book.Observations(); n < c.cfg.MonteCarloMinObservations {
		return nil, &riskerr.InsufficientHistoryError{
			Entity: entity, Method: models.VaRMethodMonteCarlo, Observations: n, Required: c.cfg.MonteCarloMinObservations,
		}
	}
	k := len(book.Products)
	means := make([]float64, k)
	sd := make([]float64, k)
	col := make([]float64, book.Observations())
	for i := 0; i < k; i++ {
		mat.Col(col, i, book.Returns)
		means[i], sd[i] = stat.MeanStdDev(col, nil)
	}
	corr := c.corr.Matrix(book.Products, book.Returns)

	pnl, err := Simulate(ctx, Simulation{
		Exposures:  book.Exposures,
		Means:      means,
		Covariance: covariance(corr, sd),
	}, c.cfg.MonteCarloPaths, c.cfg.MonteCarloSeed, c.cfg.MonteCarloWorkers, c.cfg.MonteCarloChunkSize)
	if err != nil {
		return nil, fmt.Errorf("monte carlo for %s: %w", entity, err)
	}
	ests := tailRisk(pnl, c.cfg.Confidences)
	for i := range ests {
		ests[i].observations = book.Observations()
	}
	return ests, nil
}

// Benefits reports sum(VaR_i) - VaR_combined for every method and confidence
// where all parts and the combination have a result.
func Benefits(parts [][]models.VaRResult, combined []models.VaRResult) []models.AggregationBenefit {
	var out []models.AggregationBenefit
	for _, whole := range combined {
		sum := decimal.Zero
		complete := len(parts) > 0
		for _, p := range parts {
			r, ok := models.FindVaR(p, whole.Method, whole.Confidence)
			if !ok {
				complete = false
				break
			}
			sum = sum.Add(r.VaR)
		}
		if !complete {
			continue
		}
		out = append(out, models.AggregationBenefit{
			Method:             whole.Method,
			Confidence:         whole.Confidence,
			SumOfVaR:           sum,
			CombinedVaR:        whole.VaR,
			CorrelationBenefit: sum.Sub(whole.VaR),
		})
	}
	return out
}

// GroupExposure is one trade group's net exposure per product and its VaR
type GroupExposure struct {
	ID        string
	Exposures map[string]float64
	Results   []models.VaRResult
}

// AggregateGroups combines trade group VaRs with the correlation between group
// P&Ls implied by the product correlation matrix of the configured strategy:
// VaR = sqrt(sum_gh rho_gh VaR_g VaR_h).
func (c *Calculator) AggregateGroups(groups []GroupExposure, series map[string]models.ReturnSeries) ([]models.AggregationBenefit, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	union := make(map[string]float64)
	for _, g := range groups {
		for p, e := range g.Exposures {
			if e != 0 {
				union[p] = 1
			}
		}
	}
	book, err := NewBook(union, series)
	if err != nil {
		return nil, err
	}
	book = book.Tail(c.cfg.Window)
	k := len(book.Products)
	if k == 0 {
		return nil, nil
	}
	sd := make([]float64, k)
	if book.Observations() >= 2 {
		col := make([]float64, book.Observations())
		for i := 0; i < k; i++ {
			mat.Col(col, i, book.Returns)
			sd[i] = stat.StdDev(col, nil)
		}
	}
	cov := covariance(c.corr.Matrix(book.Products, book.Returns), sd)

	vectors := make([]*mat.VecDense, len(groups))
	for g, grp := range groups {
		v := mat.NewVecDense(k, nil)
		for i, p := range book.Products {
			v.SetVec(i, grp.Exposures[p])
		}
		vectors[g] = v
	}
	gcov := make([][]float64, len(groups))
	for g := range groups {
		gcov[g] = make([]float64, len(groups))
		for h := range groups {
			gcov[g][h] = mat.Inner(vectors[g], cov, vectors[h])
		}
	}
	rho := func(g, h int) float64 {
		if g == h {
			return 1
		}
		den := math.Sqrt(gcov[g][g] * gcov[h][h])
		if den == 0 {
			return 0
		}
		return gcov[g][h] / den
	}

	parts := make([][]models.VaRResult, len(groups))
	for g := range groups {
		parts[g] = groups[g].Results
	}
	var combined []models.VaRResult
	for _, m := range models.VaRMethods {
		for _, conf := range c.cfg.Confidences {
			vals := make([]float64, len(groups))
			ok := true
			for g := range groups {
				r, found := models.FindVaR(groups[g].Results, m, conf)
				if !found {
					ok = false
					break
				}
				vals[g] = r.VaR.InexactFloat64()
			}
			if !ok {
				continue
			}
			var total float64
			for g := range vals {
				for h := range vals {
					total += rho(g, h) * vals[g] * vals[h]
				}
			}
			combined = append(combined, estimate{method: m, confidence: conf, value: math.Sqrt(math.Max(total, 0))}.result())
		}
	}
	return Benefits(parts, combined), nil
}
