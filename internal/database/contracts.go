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

const contractColumns = `
		id, contract_number, contract_type, product_code, contract_month, quantity, unit,
		settled_quantity, status, is_hedge, designation_ref, designation_date, trade_group_id,
		trade_date, created_at, updated_at`

// UpsertContract inserts or replaces a contract by ID
func (db *DB) UpsertContract(ctx context.Context, c *models.Contract) error {
	return upsertContract(ctx, db.conn, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertContract(ctx context.Context, ex execer, c *models.Contract) error {
	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (id) DO UPDATE SET
			contract_number = EXCLUDED.contract_number,
			contract_type = EXCLUDED.contract_type,
			product_code = EXCLUDED.product_code,
			contract_month = EXCLUDED.contract_month,
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			settled_quantity = EXCLUDED.settled_quantity,
			status = EXCLUDED.status,
			is_hedge = EXCLUDED.is_hedge,
			designation_ref = EXCLUDED.designation_ref,
			designation_date = EXCLUDED.designation_date,
			trade_group_id = EXCLUDED.trade_group_id,
			trade_date = EXCLUDED.trade_date,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	status := c.Status
	if status == "" {
		status = models.ContractStatusActive
	}
	_, err := ex.ExecContext(ctx, query,
		c.ID, c.ContractNumber, c.ContractType, c.ProductCode, string(c.ContractMonth), c.Quantity, c.Unit,
		c.SettledQuantity, status, c.IsHedge, nullString(c.DesignationRef), c.DesignationDate,
		nullString(c.TradeGroupID), c.TradeDate, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	c.Status = status
	c.UpdatedAt = now
	return nil
}

// CancelContract marks a contract cancelled; it no longer contributes to positions
func (db *DB) CancelContract(ctx context.Context, id string) error {
	return cancelContract(ctx, db.conn, id)
}

func cancelContract(ctx context.Context, ex execer, id string) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE contracts SET status = $2, updated_at = $3 WHERE id = $1`,
		id, models.ContractStatusCancelled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel contract: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("contract %s: %w", id, riskerr.ErrNotFound)
	}
	return nil
}

// GetContractByID retrieves one contract
func (db *DB) GetContractByID(ctx context.Context, id string) (*models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	c, err := scanContract(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return c, nil
}

// GetContracts returns the book ordered by product, month and trade date
func (db *DB) GetContracts(ctx context.Context, includeCancelled bool) ([]models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	if !includeCancelled {
		query += ` WHERE status <> 'CANCELLED'`
	}
	query += ` ORDER BY product_code, contract_month, trade_date, id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var out []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (*models.Contract, error) {
	var c models.Contract
	var month string
	var designationRef, tradeGroupID sql.NullString
	var designationDate sql.NullTime

	err := row.Scan(
		&c.ID, &c.ContractNumber, &c.ContractType, &c.ProductCode, &month, &c.Quantity, &c.Unit,
		&c.SettledQuantity, &c.Status, &c.IsHedge, &designationRef, &designationDate, &tradeGroupID,
		&c.TradeDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ContractMonth = models.ContractMonth(month)
	if designationRef.Valid {
		c.DesignationRef = designationRef.String
	}
	if designationDate.Valid {
		c.DesignationDate = &designationDate.Time
	}
	if tradeGroupID.Valid {
		c.TradeGroupID = tradeGroupID.String
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
