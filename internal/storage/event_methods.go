package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, dev_eui, type, level, code, description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var devEUI interface{}
	if event.DevEUI != nil {
		devEUI = (*event.DevEUI)[:]
	}

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, devEUI, event.Type, event.Level, event.Code,
		event.Description, event.Details,
	)

	return translateError(err)
}

// buildEventLogFilter returns the WHERE clause and its arguments
func buildEventLogFilter(filters EventLogFilters) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filters.DevEUI != nil {
		args = append(args, (*filters.DevEUI)[:])
		where += fmt.Sprintf(" AND dev_eui = $%d", len(args))
	}

	if filters.Type != nil {
		args = append(args, *filters.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}

	if filters.Level != nil {
		args = append(args, *filters.Level)
		where += fmt.Sprintf(" AND level = $%d", len(args))
	}

	if filters.StartTime != nil {
		args = append(args, *filters.StartTime)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	if filters.EndTime != nil {
		args = append(args, *filters.EndTime)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	return where, args
}

// ListEventLogs lists event logs with filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where, args := buildEventLogFilter(filters)

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, created_at, dev_eui, type, level, code, description, details FROM event_logs")
	sb.WriteString(where)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2))
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		var devEUI []byte

		err := rows.Scan(
			&event.ID, &event.CreatedAt, &devEUI, &event.Type, &event.Level,
			&event.Code, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		if devEUI != nil {
			event.DevEUI = &lorawan.EUI64{}
			copy((*event.DevEUI)[:], devEUI)
		}

		events = append(events, event)
	}

	return events, count, rows.Err()
}
