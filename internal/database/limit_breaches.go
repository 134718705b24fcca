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

const breachColumns = `
		id, limit_id, limit_type, scope, run_id, severity, current_value, limit_value,
		excess_amount, utilization, degraded, detected_at, resolved_by, resolution, resolved_at`

// RecordBreach appends a breach unless the limit already has an open one.
// The partial unique index on open breaches makes concurrent runs write once.
func (db *DB) RecordBreach(ctx context.Context, b *models.LimitBreach) (bool, error) {
	query := `
		INSERT INTO limit_breaches (
			id, limit_id, limit_type, scope, run_id, severity, current_value, limit_value,
			excess_amount, utilization, degraded, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (limit_id) WHERE resolved_at IS NULL DO NOTHING
	`
	result, err := db.conn.ExecContext(ctx, query,
		b.ID, b.LimitID, b.LimitType, b.Scope, b.RunID, b.Severity, b.CurrentValue, b.LimitValue,
		b.ExcessAmount, b.Utilization, b.Degraded, b.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record limit breach: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetBreach retrieves a breach by ID
func (db *DB) GetBreach(ctx context.Context, id string) (*models.LimitBreach, error) {
	query := `SELECT ` + breachColumns + ` FROM limit_breaches WHERE id = $1`
	b, err := scanBreach(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("breach %s: %w", id, riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limit breach: %w", err)
	}
	return b, nil
}

// ResolveBreach writes the resolution of an open breach. Resolved breaches
// are never rewritten.
func (db *DB) ResolveBreach(ctx context.Context, id, resolvedBy, resolution string, at time.Time) (*models.LimitBreach, error) {
	query := `
		UPDATE limit_breaches SET resolved_by = $2, resolution = $3, resolved_at = $4
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + breachColumns
	b, err := scanBreach(db.conn.QueryRowContext(ctx, query, id, resolvedBy, resolution, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := db.GetBreach(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, riskerr.ErrBreachAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve limit breach: %w", err)
	}
	return b, nil
}

// ListBreaches returns breaches newest first
func (db *DB) ListBreaches(ctx context.Context, openOnly bool) ([]models.LimitBreach, error) {
	query := `SELECT ` + breachColumns + ` FROM limit_breaches`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC, id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query limit breaches: %w", err)
	}
	defer rows.Close()

	var out []models.LimitBreach
	for rows.Next() {
		b, err := scanBreach(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit breach: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBreach(row scanner) (*models.LimitBreach, error) {
	var b models.LimitBreach
	var resolvedBy, resolution sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.LimitID, &b.LimitType, &b.Scope, &b.RunID, &b.Severity, &b.CurrentValue, &b.LimitValue,
		&b.ExcessAmount, &b.Utilization, &b.Degraded, &b.DetectedAt, &resolvedBy, &resolution, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		b.ResolvedBy = &resolvedBy.String
	}
	if resolution.Valid {
		b.Resolution = &resolution.String
	}
	if resolvedAt.Valid {
		b.ResolvedAt = &resolvedAt.Time
	}
	return &b, nil
}
