package database

import (
	"context"
	"fmt"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// ApplyContractEvent records the event ID and applies the change in one
// transaction. It returns false without touching the book when the event was
// already processed.
func (db *DB) ApplyContractEvent(ctx context.Context, event *models.ContractEvent, c *models.Contract) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO contract_events (event_id, event_type, contract_id, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, c.ID, event.Source)
	if err != nil {
		return false, fmt.Errorf("failed to record contract event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	switch event.EventType {
	case models.EventContractCancelled:
		err = cancelContract(ctx, tx, c.ID)
	default:
		err = upsertContract(ctx, tx, c)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ContractEventProcessed reports whether an event ID has been applied
func (db *DB) ContractEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM contract_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check contract event: %w", err)
	}
	return exists, nil
}
