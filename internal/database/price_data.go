package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

const priceUpsert = `
		INSERT INTO market_prices (product_code, contract_month, price_type, price_date, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_code, contract_month, price_type, price_date) DO UPDATE SET
			price = EXCLUDED.price
		RETURNING id
	`

// UpsertMarketPrice inserts a settlement price, replacing an earlier print for the same day
func (db *DB) UpsertMarketPrice(ctx context.Context, p *models.MarketPrice) error {
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, priceUpsert,
		p.ProductCode, string(p.ContractMonth), p.PriceType, p.PriceDate, p.Price, now,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert market price: %w", err)
	}
	p.CreatedAt = now
	return nil
}

// UpsertMarketPriceBatch writes prices in one transaction
func (db *DB) UpsertMarketPriceBatch(ctx context.Context, prices []*models.MarketPrice) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, priceUpsert)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range prices {
		err := stmt.QueryRowContext(ctx,
			p.ProductCode, string(p.ContractMonth), p.PriceType, p.PriceDate, p.Price, now,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert market price for %s: %w", p.ProductCode, err)
		}
		p.CreatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatestPrice returns the most recent price on or before asOf. It returns
// an error wrapping riskerr.ErrNotFound when there is none.
func (db *DB) GetLatestPrice(ctx context.Context, product string, month models.ContractMonth, priceType string, asOf time.Time) (*models.MarketPrice, error) {
	query := `
		SELECT id, product_code, contract_month, price_type, price_date, price, created_at
		FROM market_prices
		WHERE product_code = $1 AND contract_month = $2 AND price_type = $3 AND price_date <= $4
		ORDER BY price_date DESC
		LIMIT 1
	`
	p, err := scanPrice(db.conn.QueryRowContext(ctx, query, product, string(month), priceType, asOf))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s price for %s %s: %w", priceType, product, month, riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	return p, nil
}

// GetPriceHistory returns prices in [from, to] oldest first
func (db *DB) GetPriceHistory(ctx context.Context, product string, month models.ContractMonth, priceType string, from, to time.Time) ([]models.MarketPrice, error) {
	query := `
		SELECT id, product_code, contract_month, price_type, price_date, price, created_at
		FROM market_prices
		WHERE product_code = $1 AND contract_month = $2 AND price_type = $3
		  AND price_date >= $4 AND price_date <= $5
		ORDER BY price_date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, product, string(month), priceType, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	var prices []models.MarketPrice
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market price: %w", err)
		}
		prices = append(prices, *p)
	}
	return prices, rows.Err()
}

// DeletePricesOlderThan prunes history no model reads any more
func (db *DB) DeletePricesOlderThan(ctx context.Context, date time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM market_prices WHERE price_date < $1`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old market prices: %w", err)
	}
	return result.RowsAffected()
}

func scanPrice(row scanner) (*models.MarketPrice, error) {
	var p models.MarketPrice
	var month string
	err := row.Scan(&p.ID, &p.ProductCode, &month, &p.PriceType, &p.PriceDate, &p.Price, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ContractMonth = models.ContractMonth(month)
	return &p, nil
}
