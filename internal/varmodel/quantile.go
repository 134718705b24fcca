package varmodel

import (
	"math"
	"sort"
)

// Quantile returns the p-quantile of an ascending sample, interpolating
// linearly between order statistics at position p*(n-1).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return math.NaN()
	case n == 1 || p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// tailRisk measures VaR and Expected Shortfall on a P&L sample at each
// confidence. Losses are positive; VaR is floored at zero and ES is the mean
// loss of outcomes at or beyond the VaR quantile.
func tailRisk(pnl []float64, confidences []float64) []estimate {
	sorted := append([]float64(nil), pnl...)
	sort.Float64s(sorted)

	out := make([]estimate, 0, len(confidences))
	for _, c := range confidences {
		q := Quantile(sorted, 1-c)
		var sum float64
		k := 0
		for _, x := range sorted {
			if x > q {
				break
			}
			sum += x
			k++
		}
		es := -q
		if k > 0 {
			es = -sum / float64(k)
		}
		v := math.Max(0, -q)
		out = append(out, estimate{confidence: c, value: v, shortfall: math.Max(es, v), observations: len(pnl)})
	}
	return out
}
