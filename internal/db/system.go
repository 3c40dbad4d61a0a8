package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const setConfigQuery = `
	INSERT INTO system_config (key, value, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

// SetConfig upserts one system_config row.
func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	if _, err := c.db.ExecContext(ctx, setConfigQuery, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

const getConfigQuery = `SELECT value FROM system_config WHERE key = $1`

// GetConfig reads one system_config value. Returns sql.ErrNoRows when the
// key is absent.
func (c *Client) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	if err := c.db.GetContext(ctx, &value, getConfigQuery, key); err != nil {
		return "", err
	}
	return value, nil
}

// IsWriteEnabled reports the global write switch. A missing row counts as
// enabled so a fresh database accepts writes before the first heartbeat.
func (c *Client) IsWriteEnabled(ctx context.Context) (bool, error) {
	value, err := c.GetConfig(ctx, ConfigKeyWriteEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read write switch: %w", err)
	}
	return value == "true", nil
}
