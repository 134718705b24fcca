// Package varmodel estimates one-day Value-at-Risk and Expected Shortfall
// with historical simulation, GARCH(1,1) volatility scaling and Monte Carlo.
package varmodel

// Innovation distribution constants for the GARCH quantile
const (
	DistributionNormal   = "normal"
	DistributionStudentT = "student-t"
)

// Config holds the model parameters
type Config struct {
	Confidences []float64

	// MinObservations is the historical simulation window floor
	MinObservations int
	// Window is the number of most recent aligned dates a book keeps; zero keeps all
	Window int

	GARCHMinObservations int
	GARCHMaxIterations   int
	Distribution         string
	StudentTDegrees      float64

	MonteCarloPaths           int
	MonteCarloSeed            uint64
	MonteCarloWorkers         int
	MonteCarloChunkSize       int
	MonteCarloMinObservations int
}

// DefaultConfig returns the desk defaults
func DefaultConfig() Config {
	return Config{
		Confidences:               []float64{0.95, 0.99},
		MinObservations:           250,
		Window:                    250,
		GARCHMinObservations:      100,
		GARCHMaxIterations:        2000,
		Distribution:              DistributionNormal,
		StudentTDegrees:           6,
		MonteCarloPaths:           10000,
		MonteCarloSeed:            42,
		MonteCarloWorkers:         4,
		MonteCarloChunkSize:       1000,
		MonteCarloMinObservations: 30,
	}
}
