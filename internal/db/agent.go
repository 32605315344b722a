package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AgentRow is the persisted form of a registered device agent.  Inventory and
// Settings are stored as JSONB documents owned by the devicepool package.
type AgentRow struct {
	DeviceID  string
	UserID    string
	Inventory []byte
	Settings  []byte
	Enabled   bool
	LastSeen  time.Time
	CreatedAt time.Time
}

// UpsertAgent inserts or refreshes an agent row.  Re-registration of a known
// device updates its inventory and marks it seen.
func (d *DB) UpsertAgent(ctx context.Context, a *AgentRow) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO agents (device_id, user_id, inventory, settings, enabled, last_seen)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (device_id) DO UPDATE
		 SET user_id = $2, inventory = $3, settings = $4, enabled = $5, last_seen = NOW()`,
		a.DeviceID, a.UserID, a.Inventory, a.Settings, a.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves one agent row by device id.
func (d *DB) GetAgent(ctx context.Context, deviceID string) (*AgentRow, error) {
	a := &AgentRow{}
	err := d.Pool.QueryRowContext(ctx,
		`SELECT device_id, user_id, inventory, settings, enabled, last_seen, created_at
		 FROM agents WHERE device_id = $1`, deviceID,
	).Scan(&a.DeviceID, &a.UserID, &a.Inventory, &a.Settings, &a.Enabled, &a.LastSeen, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every agent row for one user.
func (d *DB) ListAgents(ctx context.Context, userID string) ([]*AgentRow, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT device_id, user_id, inventory, settings, enabled, last_seen, created_at
		 FROM agents WHERE user_id = $1 ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []*AgentRow
	for rows.Next() {
		a := &AgentRow{}
		if err := rows.Scan(&a.DeviceID, &a.UserID, &a.Inventory, &a.Settings,
			&a.Enabled, &a.LastSeen, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// TouchAgent marks an agent seen now.
func (d *DB) TouchAgent(ctx context.Context, deviceID string) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE agents SET last_seen = NOW() WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return nil
}

// SetAgentEnabled flips an agent's enabled flag.
func (d *DB) SetAgentEnabled(ctx context.Context, deviceID string, enabled bool) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE agents SET enabled = $2 WHERE device_id = $1`, deviceID, enabled)
	if err != nil {
		return fmt.Errorf("set agent enabled: %w", err)
	}
	return nil
}
