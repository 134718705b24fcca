package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// GetProducts returns the product catalogue rows ordered by code
func (db *DB) GetProducts(ctx context.Context) ([]models.Product, error) {
	query := `
		SELECT code, name, unit, lot_size, unhedged_medium_threshold, unhedged_high_threshold
		FROM products
		ORDER BY code
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		err := rows.Scan(&p.Code, &p.Name, &p.Unit, &p.LotSize, &p.UnhedgedMediumThreshold, &p.UnhedgedHighThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProduct creates or updates a catalogue entry
func (db *DB) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (code, name, unit, lot_size, unhedged_medium_threshold, unhedged_high_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			lot_size = EXCLUDED.lot_size,
			unhedged_medium_threshold = EXCLUDED.unhedged_medium_threshold,
			unhedged_high_threshold = EXCLUDED.unhedged_high_threshold,
			updated_at = EXCLUDED.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		p.Code, p.Name, p.Unit, p.LotSize, p.UnhedgedMediumThreshold, p.UnhedgedHighThreshold, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.Code, err)
	}
	return nil
}

// LoadCatalog builds the immutable catalogue from the products table,
// falling back to the built-in products when the table is empty.
func (db *DB) LoadCatalog(ctx context.Context) (*models.ProductCatalog, error) {
	products, err := db.GetProducts(ctx)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		products = models.DefaultProducts()
	}
	return models.NewProductCatalog(products), nil
}
