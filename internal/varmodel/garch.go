package varmodel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// maxPersistence keeps alpha+beta strictly inside the stationary region
const maxPersistence = 0.999

// GARCHParams are the fitted GARCH(1,1) coefficients:
// h[t] = Omega + Alpha*e[t-1]^2 + Beta*h[t-1]
type GARCHParams struct {
	Omega, Alpha, Beta float64
	Mean               float64
	LogLikelihood      float64
	// LastVariance and LastResidual seed the one-step forecast
	LastVariance float64
	LastResidual float64
}

// Persistence is alpha+beta
func (p GARCHParams) Persistence() float64 { return p.Alpha + p.Beta }

// Forecast is the next-period conditional variance
func (p GARCHParams) Forecast() float64 {
	return p.Omega + p.Alpha*p.LastResidual*p.LastResidual + p.Beta*p.LastVariance
}

func logistic(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

// unpack maps unconstrained optimizer coordinates onto omega>0, alpha,beta>=0
// and alpha+beta<maxPersistence. Omega is scaled by the sample variance so
// the search space is unit free.
func unpack(x []float64, variance float64) (omega, alpha, beta float64) {
	omega = variance * math.Exp(x[0])
	s := maxPersistence * logistic(x[1])
	alpha = s * logistic(x[2])
	return omega, alpha, s - alpha
}

// FitGARCH estimates GARCH(1,1) by Gaussian quasi maximum likelihood using
// Nelder-Mead over the reparameterized coefficients.
func FitGARCH(returns []float64, maxIterations int) (GARCHParams, error) {
	n := len(returns)
	if n < 3 {
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: "series too short"}
	}
	mean := stat.Mean(returns, nil)
	resid := make([]float64, n)
	for i, r := range returns {
		resid[i] = r - mean
	}
	variance := stat.PopVariance(returns, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: "series has no variance"}
	}

	negLogLik := func(x []float64) float64 {
		omega, alpha, beta := unpack(x, variance)
		h := variance
		var nll float64
		for t := 0; t < n; t++ {
			if t > 0 {
				h = omega + alpha*resid[t-1]*resid[t-1] + beta*h
			}
			if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
				return math.Inf(1)
			}
			nll += 0.5 * (math.Log(h) + resid[t]*resid[t]/h)
		}
		return nll
	}

	// Start from a typical commodity fit: persistence 0.95, alpha 0.05.
	init := []float64{math.Log(0.05), logit(0.95 / maxPersistence), logit(0.05 / 0.95)}
	settings := &optimize.Settings{MajorIterations: maxIterations}
	res, err := optimize.Minimize(optimize.Problem{Func: negLogLik}, init, settings, &optimize.NelderMead{})
	if err != nil {
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: err.Error()}
	}
	switch res.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit, optimize.Failure:
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: fmt.Sprintf("optimizer stopped: %v", res.Status)}
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: "non-finite likelihood"}
	}

	omega, alpha, beta := unpack(res.X, variance)
	if !(omega > 0) || alpha < 0 || beta < 0 || alpha+beta >= 1 {
		return GARCHParams{}, &riskerr.ModelConvergenceError{Model: "GARCH(1,1)", Reason: "parameters outside stationary region"}
	}

	// Replay the filter to get the terminal state.
	h := variance
	for t := 1; t < n; t++ {
		h = omega + alpha*resid[t-1]*resid[t-1] + beta*h
	}
	return GARCHParams{
		Omega:         omega,
		Alpha:         alpha,
		Beta:          beta,
		Mean:          mean,
		LogLikelihood: -res.F,
		LastVariance:  h,
		LastResidual:  resid[n-1],
	}, nil
}

// shock is a unit-variance innovation distribution
type shock interface {
	// quantile returns the loss multiplier at confidence c (positive)
	quantile(c float64) float64
	// shortfall returns the mean loss multiplier beyond the c quantile
	shortfall(c float64) float64
}

type normalShock struct{}

func (normalShock) quantile(c float64) float64 { return distuv.UnitNormal.Quantile(c) }

func (normalShock) shortfall(c float64) float64 {
	z := distuv.UnitNormal.Quantile(c)
	return distuv.UnitNormal.Prob(z) / (1 - c)
}

// studentShock is Student-t rescaled to unit variance
type studentShock struct{ nu float64 }

func (s studentShock) dist() distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: s.nu}
}

func (s studentShock) scale() float64 { return math.Sqrt((s.nu - 2) / s.nu) }

func (s studentShock) quantile(c float64) float64 {
	return s.dist().Quantile(c) * s.scale()
}

func (s studentShock) shortfall(c float64) float64 {
	d := s.dist()
	t := d.Quantile(c)
	return d.Prob(t) / (1 - c) * (s.nu + t*t) / (s.nu - 1) * s.scale()
}

func newShock(cfg Config) shock {
	if cfg.Distribution == DistributionStudentT && cfg.StudentTDegrees > 2 {
		return studentShock{nu: cfg.StudentTDegrees}
	}
	return normalShock{}
}

// garchRisk fits the model to the returns and scales the innovation quantile
// by the forecast volatility and the absolute exposure. When the fit fails the
// sample standard deviation is used and every estimate is marked degraded.
func garchRisk(entity string, returns []float64, exposure float64, cfg Config) ([]estimate, error) {
	if len(returns) < cfg.GARCHMinObservations {
		return nil, &riskerr.InsufficientHistoryError{
			Entity: entity, Method: "GARCH", Observations: len(returns), Required: cfg.GARCHMinObservations,
		}
	}

	var (
		sigma    float64
		degraded bool
		reason   string
		fitErr   error
	)
	params, err := FitGARCH(returns, cfg.GARCHMaxIterations)
	if err != nil {
		var conv *riskerr.ModelConvergenceError
		if errors.As(err, &conv) {
			conv.Entity = entity
		}
		fitErr = err
		sigma = stat.StdDev(returns, nil)
		degraded = true
		reason = "historical volatility fallback: " + err.Error()
	} else {
		sigma = math.Sqrt(params.Forecast())
	}

	dist := newShock(cfg)
	abs := math.Abs(exposure)
	out := make([]estimate, 0, len(cfg.Confidences))
	for _, c := range cfg.Confidences {
		v := dist.quantile(c) * sigma * abs
		es := dist.shortfall(c) * sigma * abs
		out = append(out, estimate{
			confidence:   c,
			value:        math.Max(0, v),
			shortfall:    math.Max(es, math.Max(0, v)),
			observations: len(returns),
			degraded:     degraded,
			reason:       reason,
		})
	}
	return out, fitErr
}
