package models

import (
	"time"

	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// UplinkMessage is published by the frame handler for every deduplicated uplink
type UplinkMessage struct {
	DevEUI     lorawan.EUI64   `json:"devEUI"`
	DevAddr    lorawan.DevAddr `json:"devAddr"`
	FCnt       uint32          `json:"fCnt"`
	ADR        bool            `json:"adr"`
	DR         uint8           `json:"dr"`
	TXPower    *uint8          `json:"txPower,omitempty"`
	RXInfo     []RXInfo        `json:"rxInfo"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// RXInfo contains the reception metadata of a single gateway
type RXInfo struct {
	GatewayID string  `json:"gatewayID"`
	RSSI      int     `json:"rssi"`
	LoRaSNR   float64 `json:"loRaSNR"`
}

// MACCommandMessage carries uplink MAC commands (FOpts or FPort 0) of a device
type MACCommandMessage struct {
	DevEUI   lorawan.EUI64 `json:"devEUI"`
	Commands []byte        `json:"commands"`
}

// LinkADRReqMessage is published when a device must change its settings
type LinkADRReqMessage struct {
	DevEUI   lorawan.EUI64 `json:"devEUI"`
	DR       uint8         `json:"dr"`
	TXPower  uint8         `json:"txPower"`
	NbTrans  uint8         `json:"nbTrans"`
	Commands []byte        `json:"commands"`
}
