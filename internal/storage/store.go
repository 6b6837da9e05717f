package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device session methods
	GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (*models.DeviceSession, error)
	SaveDeviceSession(ctx context.Context, session *models.DeviceSession) error
	DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error
	ListDeviceSessions(ctx context.Context, limit, offset int) ([]*models.DeviceSession, int64, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	DevEUI    *lorawan.EUI64
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
