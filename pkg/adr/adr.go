// Package adr contains the Adaptive Data Rate handlers used by the network
// server. A handler receives the current radio settings of a device together
// with its recent uplink history and returns the settings the device should
// use next.
package adr

// HandleRequest is the input of an ADR handler.
type HandleRequest struct {
	// Region
	RegionConfigID   string `json:"regionConfigId,omitempty"`
	RegionCommonName string `json:"regionCommonName,omitempty"`

	// Device
	DevEUI            string `json:"devEui,omitempty"`
	MACVersion        string `json:"macVersion,omitempty"`
	RegParamsRevision string `json:"regParamsRevision,omitempty"`

	// Current settings
	ADR             bool `json:"adr"`
	DR              int  `json:"dr"`
	TxPowerIndex    int  `json:"txPowerIndex"`
	NbTrans         int  `json:"nbTrans"`
	MaxTxPowerIndex int  `json:"maxTxPowerIndex"`

	RequiredSNRForDR   float64 `json:"requiredSnrForDr"`
	InstallationMargin float64 `json:"installationMargin"`

	MinDR int `json:"minDr"`
	MaxDR int `json:"maxDr"`

	// UplinkHistory is ordered oldest first.
	UplinkHistory []UplinkMetaData `json:"uplinkHistory"`
}

// UplinkMetaData describes a single received uplink.
type UplinkMetaData struct {
	FCnt         uint32  `json:"fCnt"`
	MaxSNR       float64 `json:"maxSnr"`
	MaxRSSI      int     `json:"maxRssi"`
	TxPowerIndex int     `json:"txPowerIndex"`
	GatewayCount int     `json:"gatewayCount"`
}

// HandleResponse is the output of an ADR handler.
type HandleResponse struct {
	DR           int `json:"dr"`
	TxPowerIndex int `json:"txPowerIndex"`
	NbTrans      int `json:"nbTrans"`
}

// Handler is implemented by every ADR algorithm.
type Handler interface {
	// ID returns the short identifier used in configuration.
	ID() string
	// Name returns the human-readable algorithm name.
	Name() string
	// Handle returns the recommended device settings.
	Handle(req HandleRequest) HandleResponse
}
