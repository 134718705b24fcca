// Package exposure marks net positions to market.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// PriceSource returns the latest price on or before asOf. It returns an error
// wrapping riskerr.ErrNotFound when no price exists at all.
type PriceSource interface {
	GetLatestPrice(ctx context.Context, product string, month models.ContractMonth, priceType string, asOf time.Time) (*models.MarketPrice, error)
}

// Config controls price selection
type Config struct {
	// StalenessBusinessDays is the maximum age of a usable price
	StalenessBusinessDays int
	// PriceTypes is the preference order. FUTURES is looked up for the
	// position's contract month, SPOT for the product benchmark.
	PriceTypes []string
}

// DefaultConfig prefers the month's futures settlement and falls back to spot
func DefaultConfig() Config {
	return Config{
		StalenessBusinessDays: 5,
		PriceTypes:            []string{models.PriceTypeFutures, models.PriceTypeSpot},
	}
}

// Valuer converts net quantities into monetary exposure
type Valuer struct {
	cfg    Config
	prices PriceSource
	logger *zap.Logger
}

// NewValuer creates a valuer
func NewValuer(cfg Config, prices PriceSource, logger *zap.Logger) *Valuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Valuer{cfg: cfg, prices: prices, logger: logger}
}

// Value marks every net position. A position without a usable price is
// excluded from valued exposure, listed in Unpriced and its error returned;
// the rest of the book is still valued.
func (v *Valuer) Value(ctx context.Context, positions []models.NetPosition, asOf time.Time) (*models.ExposureReport, []error) {
	report := &models.ExposureReport{AsOfDate: asOf}
	var errs []error

	for _, n := range positions {
		price, err := v.resolvePrice(ctx, n.ProductCode, n.ContractMonth, asOf)
		if err != nil {
			v.logger.Warn("position excluded from valued exposure",
				zap.String("product", n.ProductCode),
				zap.String("contract_month", string(n.ContractMonth)),
				zap.Error(err))
			report.Unpriced = append(report.Unpriced, models.UnpricedPosition{
				ProductCode:   n.ProductCode,
				ContractMonth: n.ContractMonth,
				NetQuantity:   n.TotalNetPosition,
				GrossQuantity: n.GrossQuantity(),
				Reason:        err.Error(),
			})
			errs = append(errs, err)
			continue
		}

		snap := models.ExposureSnapshot{
			ProductCode:   n.ProductCode,
			ContractMonth: n.ContractMonth,
			NetQuantity:   n.TotalNetPosition,
			GrossQuantity: n.GrossQuantity(),
			GrossExposure: n.GrossQuantity().Mul(price.Price),
			NetExposure:   n.TotalNetPosition.Mul(price.Price),
			MarketPrice:   price.Price,
			PriceType:     price.PriceType,
			PriceDate:     price.PriceDate,
			AsOfDate:      asOf,
		}
		snap.DiversificationRatio = DiversificationRatio(snap.NetExposure, snap.GrossExposure)
		report.Snapshots = append(report.Snapshots, snap)
		report.GrossExposure = report.GrossExposure.Add(snap.GrossExposure)
		report.NetExposure = report.NetExposure.Add(snap.NetExposure)
	}

	report.DiversificationRatio = DiversificationRatio(report.NetExposure, report.GrossExposure)
	return report, errs
}

func (v *Valuer) resolvePrice(ctx context.Context, product string, month models.ContractMonth, asOf time.Time) (*models.MarketPrice, error) {
	for _, priceType := range v.cfg.PriceTypes {
		lookupMonth := month
		if priceType == models.PriceTypeSpot {
			lookupMonth = ""
		}
		p, err := v.prices.GetLatestPrice(ctx, product, lookupMonth, priceType, asOf)
		if err != nil {
			if errors.Is(err, riskerr.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get price for %s %s: %w", product, month, err)
		}
		if BusinessDaysBetween(p.PriceDate, asOf) <= v.cfg.StalenessBusinessDays {
			return p, nil
		}
	}
	return nil, &riskerr.MissingPriceError{
		Product:       product,
		ContractMonth: string(month),
		AsOf:          asOf,
		WindowDays:    v.cfg.StalenessBusinessDays,
	}
}

// DiversificationRatio is |net| / gross, unknown when gross is zero
func DiversificationRatio(net, gross decimal.Decimal) models.Measure {
	if !gross.IsPositive() {
		return models.Unknown("gross exposure is zero")
	}
	return models.Known(net.Abs().Div(gross).Round(6))
}

// BusinessDaysBetween counts weekdays after from up to and including to.
// It is zero when from is on or after to.
func BusinessDaysBetween(from, to time.Time) int {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	n := 0
	for day := from.AddDate(0, 0, 1); !day.After(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}
