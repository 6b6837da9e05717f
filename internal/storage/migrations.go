package storage

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS device_sessions (
		dev_eui BYTEA PRIMARY KEY,
		dev_addr BYTEA NOT NULL,
		band VARCHAR(20) NOT NULL,
		f_cnt_up BIGINT NOT NULL DEFAULT 0,
		dr SMALLINT NOT NULL DEFAULT 0,
		tx_power SMALLINT NOT NULL DEFAULT 0,
		nb_trans SMALLINT NOT NULL DEFAULT 1,
		min_dr SMALLINT,
		max_dr SMALLINT,
		adr BOOLEAN NOT NULL DEFAULT TRUE,
		adr_history JSONB NOT NULL DEFAULT '[]',
		pending_adr JSONB,
		last_uplink_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		dev_eui BYTEA,
		type VARCHAR(50) NOT NULL,
		level VARCHAR(20) NOT NULL,
		code VARCHAR(50) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		details JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_dev_eui_created_at ON event_logs (dev_eui, created_at DESC)`,
}

// Migrate creates the tables used by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.getDB().ExecContext(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
