package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

const snapshotColumns = `
		id, as_of_date, scope, method, confidence, var, expected_shortfall, net_exposure,
		exposures, degraded, run_id, realized_pnl, created_at`

// SaveRiskSnapshots stores the end-of-day estimates of one run. Re-running a
// day replaces its estimates but keeps any realized P&L already booked.
func (db *DB) SaveRiskSnapshots(ctx context.Context, snapshots []models.RiskSnapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risk_snapshots (
			as_of_date, scope, method, confidence, var, expected_shortfall, net_exposure,
			exposures, degraded, run_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (as_of_date, scope, method, confidence) DO UPDATE SET
			var = EXCLUDED.var,
			expected_shortfall = EXCLUDED.expected_shortfall,
			net_exposure = EXCLUDED.net_exposure,
			exposures = EXCLUDED.exposures,
			degraded = EXCLUDED.degraded,
			run_id = EXCLUDED.run_id
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range snapshots {
		s := &snapshots[i]
		exposures, err := json.Marshal(s.Exposures)
		if err != nil {
			return fmt.Errorf("failed to encode exposures for %s: %w", s.Scope, err)
		}
		err = stmt.QueryRowContext(ctx,
			s.AsOfDate, s.Scope, s.Method, s.Confidence, s.VaR, s.ExpectedShortfall, s.NetExposure,
			exposures, s.Degraded, s.RunID, now,
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to save snapshot for %s: %w", s.Scope, err)
		}
		s.CreatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRiskSnapshots returns snapshots in [from, to] ordered by date. An empty
// scope returns every scope.
func (db *DB) GetRiskSnapshots(ctx context.Context, scope string, from, to time.Time) ([]models.RiskSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM risk_snapshots WHERE as_of_date BETWEEN $1 AND $2`
	args := []interface{}{from, to}
	if scope != "" {
		query += ` AND scope = $3`
		args = append(args, scope)
	}
	query += ` ORDER BY as_of_date ASC, scope, method, confidence`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.RiskSnapshot
	for rows.Next() {
		var s models.RiskSnapshot
		var exposures []byte
		var realized decimal.NullDecimal
		err := rows.Scan(
			&s.ID, &s.AsOfDate, &s.Scope, &s.Method, &s.Confidence, &s.VaR, &s.ExpectedShortfall,
			&s.NetExposure, &exposures, &s.Degraded, &s.RunID, &realized, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk snapshot: %w", err)
		}
		if len(exposures) > 0 {
			if err := json.Unmarshal(exposures, &s.Exposures); err != nil {
				return nil, fmt.Errorf("failed to decode exposures of snapshot %d: %w", s.ID, err)
			}
		}
		if realized.Valid {
			pnl := realized.Decimal
			s.RealizedPnL = &pnl
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetRealizedPnL books the next-day P&L against a snapshot
func (db *DB) SetRealizedPnL(ctx context.Context, id int, pnl decimal.Decimal) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE risk_snapshots SET realized_pnl = $2 WHERE id = $1`, id, pnl)
	if err != nil {
		return fmt.Errorf("failed to set realized pnl: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("snapshot %d: %w", id, riskerr.ErrNotFound)
	}
	return nil
}
