package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

const scenarioColumns = `id, name, description, shocks, enabled, created_at, updated_at`

// CreateStressScenario inserts a scenario
func (db *DB) CreateStressScenario(ctx context.Context, s *models.StressScenario) error {
	shocks, err := json.Marshal(s.Shocks)
	if err != nil {
		return fmt.Errorf("failed to encode shocks: %w", err)
	}
	now := time.Now()
	err = db.conn.QueryRowContext(ctx, `
		INSERT INTO stress_scenarios (name, description, shocks, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, s.Name, nullString(s.Description), shocks, s.Enabled, now).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create stress scenario: %w", err)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetStressScenarioByID retrieves a scenario
func (db *DB) GetStressScenarioByID(ctx context.Context, id int) (*models.StressScenario, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM stress_scenarios WHERE id = $1`, id)
	s, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stress scenario %d: %w", id, riskerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stress scenario: %w", err)
	}
	return s, nil
}

// GetStressScenarios lists the catalogue by name
func (db *DB) GetStressScenarios(ctx context.Context, enabledOnly bool) ([]models.StressScenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM stress_scenarios`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stress scenarios: %w", err)
	}
	defer rows.Close()

	var out []models.StressScenario
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stress scenario: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateStressScenario replaces a scenario's definition
func (db *DB) UpdateStressScenario(ctx context.Context, s *models.StressScenario) error {
	shocks, err := json.Marshal(s.Shocks)
	if err != nil {
		return fmt.Errorf("failed to encode shocks: %w", err)
	}
	s.UpdatedAt = time.Now()
	result, err := db.conn.ExecContext(ctx, `
		UPDATE stress_scenarios SET name = $2, description = $3, shocks = $4, enabled = $5, updated_at = $6
		WHERE id = $1
	`, s.ID, s.Name, nullString(s.Description), shocks, s.Enabled, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update stress scenario: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("stress scenario %d: %w", s.ID, riskerr.ErrNotFound)
	}
	return nil
}

// DeleteStressScenario removes a scenario
func (db *DB) DeleteStressScenario(ctx context.Context, id int) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM stress_scenarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stress scenario: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("stress scenario %d: %w", id, riskerr.ErrNotFound)
	}
	return nil
}

func scanScenario(row scanner) (*models.StressScenario, error) {
	var s models.StressScenario
	var description sql.NullString
	var shocks []byte
	if err := row.Scan(&s.ID, &s.Name, &description, &shocks, &s.Enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Description = description.String
	if err := json.Unmarshal(shocks, &s.Shocks); err != nil {
		return nil, fmt.Errorf("failed to decode shocks of scenario %d: %w", s.ID, err)
	}
	return &s, nil
}
