package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DevEUI *lorawan.EUI64 `json:"devEUI,omitempty" db:"dev_eui"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	EventTypeUplink     EventType = "UPLINK"
	EventTypeADR        EventType = "ADR"
	EventTypeLinkADRAns EventType = "LINK_ADR_ANS"
	EventTypeError      EventType = "ERROR"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// ADR event codes
const (
	EventCodeDRDecreased  = "DR_DECREASED"
	EventCodeDRIncreased  = "DR_INCREASED"
	EventCodeSettingsSent = "SETTINGS_SENT"
	EventCodeADRAccepted  = "ADR_ACCEPTED"
	EventCodeADRRejected  = "ADR_REJECTED"
	EventCodeHistoryReset = "HISTORY_RESET"
)
