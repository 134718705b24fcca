package varmodel

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Simulation describes a one-period joint return distribution
type Simulation struct {
	Exposures  []float64
	Means      []float64
	Covariance *mat.SymDense
}

// factor returns L with L*L^T = cov. It uses Cholesky when the matrix is
// positive definite and otherwise an eigen decomposition with negative
// eigenvalues clipped to zero.
func factor(cov *mat.SymDense) (*mat.Dense, error) {
	n := cov.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var l mat.TriDense
		chol.LTo(&l)
		out := mat.NewDense(n, n, nil)
		out.Copy(&l)
		return out, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, fmt.Errorf("covariance matrix cannot be factorized")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, vectors.At(i, j)*math.Sqrt(math.Max(values[j], 0)))
		}
	}
	return out, nil
}

// Simulate draws paths P&L outcomes. Paths are generated in fixed chunks, each
// with its own PCG stream derived from seed and chunk index, so the output is
// identical for any worker count.
func Simulate(ctx context.Context, sim Simulation, paths int, seed uint64, workers, chunkSize int) ([]float64, error) {
	n := len(sim.Exposures)
	if n == 0 || paths <= 0 {
		return nil, fmt.Errorf("nothing to simulate")
	}
	if len(sim.Means) != n || sim.Covariance == nil || sim.Covariance.SymmetricDim() != n {
		return nil, fmt.Errorf("simulation dimensions do not match: %d exposures", n)
	}
	l, err := factor(sim.Covariance)
	if err != nil {
		return nil, err
	}
	lower := make([][]float64, n)
	for i := range lower {
		lower[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			lower[i][j] = l.At(i, j)
		}
	}

	if chunkSize <= 0 {
		chunkSize = paths
	}
	if workers <= 0 {
		workers = 1
	}
	pnl := make([]float64, paths)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for chunk, start := 0, 0; start < paths; chunk, start = chunk+1, start+chunkSize {
		end := min(start+chunkSize, paths)
		stream := uint64(chunk)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seed, stream))
			z := make([]float64, n)
			for k := start; k < end; k++ {
				for i := range z {
					z[i] = rng.NormFloat64()
				}
				var v float64
				for i := 0; i < n; i++ {
					r := sim.Means[i]
					for j := 0; j < n; j++ {
						r += lower[i][j] * z[j]
					}
					v += sim.Exposures[i] * r
				}
				pnl[k] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pnl, nil
}
