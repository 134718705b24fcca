package varmodel

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Correlation strategy names
const (
	CorrelationHistorical = "historical"
	CorrelationStatic     = "static"
)

// CorrelationSource supplies the product correlation matrix used for
// Monte Carlo simulation and for aggregating VaR across trade groups.
type CorrelationSource interface {
	Name() string
	// Matrix returns the correlation of products; returns holds their
	// aligned daily returns, one column per product.
	Matrix(products []string, returns *mat.Dense) *mat.SymDense
}

// HistoricalCorrelation uses realized sample correlation
type HistoricalCorrelation struct{}

func (HistoricalCorrelation) Name() string { return CorrelationHistorical }

func (HistoricalCorrelation) Matrix(products []string, returns *mat.Dense) *mat.SymDense {
	n := len(products)
	out := mat.NewSymDense(n, nil)
	if r, _ := returns.Dims(); r < 2 {
		for i := 0; i < n; i++ {
			out.SetSym(i, i, 1)
		}
		return out
	}
	stat.CorrelationMatrix(out, returns, nil)
	sanitize(out)
	return out
}

// StaticCorrelation uses a configured matrix. Pairs are keyed "A|B" in
// either order; missing pairs get Default.
type StaticCorrelation struct {
	pairs   map[string]float64
	Default float64
}

// NewStaticCorrelation validates and normalizes the configured pairs
func NewStaticCorrelation(pairs map[string]float64, def float64) (*StaticCorrelation, error) {
	norm := make(map[string]float64, len(pairs))
	for k, v := range pairs {
		parts := strings.Split(k, "|")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid correlation pair %q: expected A|B", k)
		}
		if v < -1 || v > 1 {
			return nil, fmt.Errorf("correlation %q = %v out of range", k, v)
		}
		norm[pairKey(strings.ToUpper(parts[0]), strings.ToUpper(parts[1]))] = v
	}
	if def < -1 || def > 1 {
		return nil, fmt.Errorf("default correlation %v out of range", def)
	}
	return &StaticCorrelation{pairs: norm, Default: def}, nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *StaticCorrelation) Name() string { return CorrelationStatic }

func (s *StaticCorrelation) Matrix(products []string, _ *mat.Dense) *mat.SymDense {
	n := len(products)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			v, ok := s.pairs[pairKey(products[i], products[j])]
			if !ok {
				v = s.Default
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

// NewCorrelationSource builds the named strategy
func NewCorrelationSource(name string, pairs map[string]float64, def float64) (CorrelationSource, error) {
	switch name {
	case "", CorrelationHistorical:
		return HistoricalCorrelation{}, nil
	case CorrelationStatic:
		return NewStaticCorrelation(pairs, def)
	}
	return nil, fmt.Errorf("unknown correlation strategy %q", name)
}

// sanitize replaces undefined correlations (zero-variance columns) with zero
func sanitize(m *mat.SymDense) {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				m.SetSym(i, j, 0)
			}
		}
	}
}

// covariance scales a correlation matrix by per-product standard deviations
func covariance(corr *mat.SymDense, sd []float64) *mat.SymDense {
	n := len(sd)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, corr.At(i, j)*sd[i]*sd[j])
		}
	}
	return out
}
