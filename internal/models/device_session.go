package models

import (
	"time"

	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// DeviceSession represents the ADR relevant state of an active device
type DeviceSession struct {
	DevEUI  lorawan.EUI64   `json:"devEUI"`
	DevAddr lorawan.DevAddr `json:"devAddr"`

	// Region the device operates in
	Band string `json:"band"`

	// Frame counters
	FCntUp uint32 `json:"fCntUp"`

	// Device settings
	DR      uint8 `json:"dr"`
	TXPower uint8 `json:"txPower"`
	NbTrans uint8 `json:"nbTrans"`

	// Device bounds, zero values fall back to the region
	MinDR *uint8 `json:"minDR,omitempty"`
	MaxDR *uint8 `json:"maxDR,omitempty"`

	// ADR
	ADR        bool         `json:"adr"`
	ADRHistory []ADRHistory `json:"adrHistory"`
	PendingADR *PendingADR  `json:"pendingADR,omitempty"`

	// Timestamps
	LastUplinkAt time.Time `json:"lastUplinkAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ADRHistory represents ADR history entry
type ADRHistory struct {
	FCnt         uint32  `json:"fCnt"`
	MaxSNR       float64 `json:"maxSNR"`
	MaxRSSI      int     `json:"maxRSSI"`
	TXPower      uint8   `json:"txPower"`
	GatewayCount int     `json:"gatewayCount"`
}

// PendingADR holds a LinkADRReq waiting for the device's LinkADRAns
type PendingADR struct {
	DR      uint8     `json:"dr"`
	TXPower uint8     `json:"txPower"`
	NbTrans uint8     `json:"nbTrans"`
	SentAt  time.Time `json:"sentAt"`
}

// Matches reports whether the pending request carries the given settings
func (p *PendingADR) Matches(dr, txPower, nbTrans int) bool {
	return int(p.DR) == dr && int(p.TXPower) == txPower && int(p.NbTrans) == nbTrans
}
