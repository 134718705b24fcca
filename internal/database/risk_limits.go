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

const limitColumns = `
		id, name, limit_type, scope, method, confidence, max_value, warning_threshold,
		enabled, created_at, updated_at`

// CreateRiskLimit inserts a new limit
func (db *DB) CreateRiskLimit(ctx context.Context, l *models.RiskLimit) error {
	query := `
		INSERT INTO risk_limits (
			name, limit_type, scope, method, confidence, max_value, warning_threshold,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		l.Name, l.LimitType, l.Scope, nullString(l.Method), nullConfidence(l.Confidence),
		l.MaxValue, l.WarningThreshold, l.Enabled, now,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create risk limit: %w", err)
	}
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

// GetRiskLimitByID retrieves a limit
func (db *DB) GetRiskLimitByID(ctx context.Context, id int) (*models.RiskLimit, error) {
	query := `SELECT ` + limitColumns + ` FROM risk_limits WHERE id = $1`
	l, err := scanLimit(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("risk limit %d: %w", id, riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk limit: %w", err)
	}
	return l, nil
}

// GetRiskLimits lists limits ordered by scope and type
func (db *DB) GetRiskLimits(ctx context.Context, enabledOnly bool) ([]models.RiskLimit, error) {
	query := `SELECT ` + limitColumns + ` FROM risk_limits`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY scope, limit_type, id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk limits: %w", err)
	}
	defer rows.Close()

	var out []models.RiskLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk limit: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateRiskLimit replaces the configurable fields of a limit
func (db *DB) UpdateRiskLimit(ctx context.Context, l *models.RiskLimit) error {
	query := `
		UPDATE risk_limits SET
			name = $2, limit_type = $3, scope = $4, method = $5, confidence = $6,
			max_value = $7, warning_threshold = $8, enabled = $9, updated_at = $10
		WHERE id = $1
	`
	l.UpdatedAt = time.Now()
	result, err := db.conn.ExecContext(ctx, query,
		l.ID, l.Name, l.LimitType, l.Scope, nullString(l.Method), nullConfidence(l.Confidence),
		l.MaxValue, l.WarningThreshold, l.Enabled, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update risk limit: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("risk limit %d: %w", l.ID, riskerr.ErrNotFound)
	}
	return nil
}

func scanLimit(row scanner) (*models.RiskLimit, error) {
	var l models.RiskLimit
	var method sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(
		&l.ID, &l.Name, &l.LimitType, &l.Scope, &method, &confidence, &l.MaxValue, &l.WarningThreshold,
		&l.Enabled, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if method.Valid {
		l.Method = method.String
	}
	if confidence.Valid {
		l.Confidence = confidence.Float64
	}
	return &l, nil
}

func nullConfidence(c float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: c, Valid: c != 0}
}
