package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// ========== Device Session Methods ==========

const deviceSessionColumns = `dev_eui, dev_addr, band, f_cnt_up, dr, tx_power, nb_trans,
	min_dr, max_dr, adr, adr_history, pending_adr, last_uplink_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeviceSession(row rowScanner) (*models.DeviceSession, error) {
	session := &models.DeviceSession{}
	var devEUIBytes, devAddrBytes, historyJSON, pendingJSON []byte
	var lastUplinkAt sql.NullTime

	err := row.Scan(
		&devEUIBytes, &devAddrBytes, &session.Band, &session.FCntUp,
		&session.DR, &session.TXPower, &session.NbTrans,
		&session.MinDR, &session.MaxDR, &session.ADR,
		&historyJSON, &pendingJSON, &lastUplinkAt,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}

	copy(session.DevEUI[:], devEUIBytes)
	copy(session.DevAddr[:], devAddrBytes)

	if lastUplinkAt.Valid {
		session.LastUplinkAt = lastUplinkAt.Time
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &session.ADRHistory); err != nil {
			return nil, fmt.Errorf("%w: adr_history: %v", ErrInvalidData, err)
		}
	}

	if len(pendingJSON) > 0 {
		session.PendingADR = &models.PendingADR{}
		if err := json.Unmarshal(pendingJSON, session.PendingADR); err != nil {
			return nil, fmt.Errorf("%w: pending_adr: %v", ErrInvalidData, err)
		}
	}

	return session, nil
}

// GetDeviceSession gets a device session
func (s *PostgresStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (*models.DeviceSession, error) {
	query := `SELECT ` + deviceSessionColumns + ` FROM device_sessions WHERE dev_eui = $1`

	return scanDeviceSession(s.getDB().QueryRowContext(ctx, query, devEUI[:]))
}

// SaveDeviceSession saves a device session
func (s *PostgresStore) SaveDeviceSession(ctx context.Context, session *models.DeviceSession) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	history := session.ADRHistory
	if history == nil {
		history = []models.ADRHistory{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal adr history: %w", err)
	}

	// JSONB 参数以文本发送, []byte 会被编码成 bytea
	var pending interface{}
	if session.PendingADR != nil {
		b, err := json.Marshal(session.PendingADR)
		if err != nil {
			return fmt.Errorf("marshal pending adr: %w", err)
		}
		pending = string(b)
	}

	var lastUplinkAt sql.NullTime
	if !session.LastUplinkAt.IsZero() {
		lastUplinkAt = sql.NullTime{Time: session.LastUplinkAt, Valid: true}
	}

	query := `
		INSERT INTO device_sessions (` + deviceSessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dev_eui) DO UPDATE SET
			dev_addr = EXCLUDED.dev_addr,
			band = EXCLUDED.band,
			f_cnt_up = EXCLUDED.f_cnt_up,
			dr = EXCLUDED.dr,
			tx_power = EXCLUDED.tx_power,
			nb_trans = EXCLUDED.nb_trans,
			min_dr = EXCLUDED.min_dr,
			max_dr = EXCLUDED.max_dr,
			adr = EXCLUDED.adr,
			adr_history = EXCLUDED.adr_history,
			pending_adr = EXCLUDED.pending_adr,
			last_uplink_at = EXCLUDED.last_uplink_at,
			updated_at = EXCLUDED.updated_at`

	_, err = s.getDB().ExecContext(ctx, query,
		session.DevEUI[:], session.DevAddr[:], session.Band, session.FCntUp,
		session.DR, session.TXPower, session.NbTrans,
		nullableUint8(session.MinDR), nullableUint8(session.MaxDR), session.ADR,
		string(historyJSON), pending, lastUplinkAt,
		session.CreatedAt, session.UpdatedAt,
	)

	return translateError(err)
}

// DeleteDeviceSession deletes a device session
func (s *PostgresStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM device_sessions WHERE dev_eui = $1", devEUI[:])
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDeviceSessions lists device sessions ordered by last uplink
func (s *PostgresStore) ListDeviceSessions(ctx context.Context, limit, offset int) ([]*models.DeviceSession, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM device_sessions").Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deviceSessionColumns + ` FROM device_sessions
		ORDER BY last_uplink_at DESC NULLS LAST LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.DeviceSession
	for rows.Next() {
		session, err := scanDeviceSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}

	return sessions, count, rows.Err()
}

func nullableUint8(v *uint8) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}
