// Package backtest replays historical days against VaR estimates and tests
// their calibration.
package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// DefaultCriticalValue is the chi-square(1) 95% critical value
const DefaultCriticalValue = 3.841

// xlogy is x*log(y) with 0*log(0) = 0
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

// Kupiec runs the proportion-of-failures test for x breaches in t days at
// expected breach probability p:
//
//	LR = -2 ln[ (1-p)^(t-x) p^x / ((1-x/t)^(t-x) (x/t)^x) ]
//
// The model is accepted when LR does not exceed the critical value.
func Kupiec(x, t int, p, critical float64) models.KupiecResult {
	res := models.KupiecResult{CriticalValue: critical, PValue: 1, Accepted: true}
	if t <= 0 {
		return res
	}
	tf, xf := float64(t), float64(x)
	rate := xf / tf
	null := xlogy(tf-xf, 1-p) + xlogy(xf, p)
	alt := xlogy(tf-xf, 1-rate) + xlogy(xf, rate)
	lr := -2 * (null - alt)
	if lr < 0 {
		// rounding when x/t == p
		lr = 0
	}
	res.LRStatistic = lr
	res.PValue = 1 - distuv.ChiSquared{K: 1}.CDF(lr)
	res.Accepted = lr <= critical
	return res
}

// Summarize aggregates breach counts per method and confidence. Days without
// an estimate for a method do not count towards its total.
func Summarize(records []models.BacktestRecord, confidences []float64, critical float64) []models.MethodBacktest {
	type key struct {
		method string
		conf   float64
	}
	type tally struct{ days, breaches int }
	counts := make(map[key]*tally)
	for _, r := range records {
		for _, e := range r.Estimates {
			k := key{e.Method, e.Confidence}
			c, ok := counts[k]
			if !ok {
				c = &tally{}
				counts[k] = c
			}
			c.days++
			if e.Breach {
				c.breaches++
			}
		}
	}

	var out []models.MethodBacktest
	for _, m := range models.VaRMethods {
		for _, conf := range confidences {
			c, ok := counts[key{m, conf}]
			if !ok {
				continue
			}
			p := 1 - conf
			mb := models.MethodBacktest{
				Method:           m,
				Confidence:       conf,
				TotalDays:        c.days,
				Breaches:         c.breaches,
				ExpectedBreaches: p * float64(c.days),
				Kupiec:           Kupiec(c.breaches, c.days, p, critical),
			}
			if c.days > 0 {
				mb.BreachRate = float64(c.breaches) / float64(c.days)
			}
			out = append(out, mb)
		}
	}
	return out
}
