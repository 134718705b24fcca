// Package riskerr defines the error taxonomy shared by the risk calculations.
package riskerr

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound              = errors.New("risk: not found")
	ErrBreachAlreadyResolved = errors.New("risk: breach already resolved")
	ErrResolutionRequired    = errors.New("risk: resolvedBy and resolution are required")
)

// Kind constants reported on calculation issues
const (
	KindInsufficientHistory = "INSUFFICIENT_HISTORY"
	KindMissingPrice        = "MISSING_PRICE"
	KindDataInconsistency   = "DATA_INCONSISTENCY"
	KindModelConvergence    = "MODEL_CONVERGENCE"
	KindUnknown             = "CALCULATION_FAILED"
)

// InsufficientHistoryError means a statistical method had too few observations.
// The method is skipped for that entity only.
type InsufficientHistoryError struct {
	Entity       string
	Method       string
	Observations int
	Required     int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s %s: %d observations, %d required",
		e.Entity, e.Method, e.Observations, e.Required)
}

// MissingPriceError means no usable price exists within the staleness window
type MissingPriceError struct {
	Product       string
	ContractMonth string
	AsOf          time.Time
	WindowDays    int
}

func (e *MissingPriceError) Error() string {
	month := e.ContractMonth
	if month == "" {
		month = "spot"
	}
	return fmt.Sprintf("no price for %s %s within %d business days of %s",
		e.Product, month, e.WindowDays, e.AsOf.Format("2006-01-02"))
}

// DataInconsistencyError means upstream data violates a hard invariant,
// such as settled quantity exceeding contracted quantity.
type DataInconsistencyError struct {
	ContractID    string
	Product       string
	ContractMonth string
	Settled       decimal.Decimal
	Contracted    decimal.Decimal
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("contract %s (%s %s): settled quantity %s exceeds contracted %s",
		e.ContractID, e.Product, e.ContractMonth, e.Settled, e.Contracted)
}

// ModelConvergenceError means a model fit failed; callers fall back and flag the result
type ModelConvergenceError struct {
	Entity string
	Model  string
	Reason string
}

func (e *ModelConvergenceError) Error() string {
	return fmt.Sprintf("%s fit for %s did not converge: %s", e.Model, e.Entity, e.Reason)
}

// Kind classifies an error for issue reporting
func Kind(err error) string {
	var (
		hist *InsufficientHistoryError
		miss *MissingPriceError
		data *DataInconsistencyError
		conv *ModelConvergenceError
	)
	switch {
	case errors.As(err, &hist):
		return KindInsufficientHistory
	case errors.As(err, &miss):
		return KindMissingPrice
	case errors.As(err, &data):
		return KindDataInconsistency
	case errors.As(err, &conv):
		return KindModelConvergence
	}
	return KindUnknown
}

// IsHard reports whether an error must abort the enclosing step
func IsHard(err error) bool {
	var data *DataInconsistencyError
	return errors.As(err, &data)
}
