package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GenerationRow is one submitted workflow execution.
type GenerationRow struct {
	ID          string
	UserID      string
	DeviceID    string
	Workflow    string
	Prompt      []byte
	Result      []byte
	Status      string
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// CreateGeneration inserts a pending generation with its compiled prompt.
func (d *DB) CreateGeneration(ctx context.Context, g *GenerationRow) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO generations (id, user_id, device_id, workflow, prompt, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.UserID, g.DeviceID, g.Workflow, g.Prompt, g.Status,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// GetGeneration retrieves one generation row.
func (d *DB) GetGeneration(ctx context.Context, id string) (*GenerationRow, error) {
	g := &GenerationRow{}
	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, user_id, device_id, workflow, prompt, result, status, created_at, completed_at
		 FROM generations WHERE id = $1`, id,
	).Scan(&g.ID, &g.UserID, &g.DeviceID, &g.Workflow, &g.Prompt, &g.Result,
		&g.Status, &g.CreatedAt, &g.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

// AssignGeneration records which device a generation was pushed to.
func (d *DB) AssignGeneration(ctx context.Context, id, deviceID string) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE generations SET device_id = $2, status = 'running' WHERE id = $1`,
		id, deviceID)
	if err != nil {
		return fmt.Errorf("assign generation: %w", err)
	}
	return nil
}

// FinishGeneration stores the parsed result and terminal status.
func (d *DB) FinishGeneration(ctx context.Context, id string, result []byte, status string) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE generations SET result = $2, status = $3, completed_at = NOW() WHERE id = $1`,
		id, result, status)
	if err != nil {
		return fmt.Errorf("finish generation: %w", err)
	}
	return nil
}
