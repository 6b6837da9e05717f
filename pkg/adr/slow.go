package adr

import "math"

const (
	// SlowHandlerID is the configuration identifier of the slowly correcting algorithm.
	SlowHandlerID = "scadra"
	// SlowHandlerName is the display name of the slowly correcting algorithm.
	SlowHandlerName = "Slowly Correcting ADR Algorithm"

	// HistoryWindow is the number of most recent uplinks used for loss counting.
	// The data rate is only increased once this many uplinks are available.
	HistoryWindow = 20
	// DecreaseLossThreshold is the lost packet count that lowers the data rate.
	DecreaseLossThreshold = 5
	// IncreaseLossThreshold is the highest lost packet count that still allows an increase.
	IncreaseLossThreshold = 2
	// DefaultInstallationMargin is the SNR headroom (dB) required on top of the
	// demodulation floor before the data rate is increased. Sensors in parking
	// lots show swings of around +-10 dB as cars arrive and leave.
	DefaultInstallationMargin = 10.0
)

// SlowHandler lowers the data rate quickly on packet loss and raises it only
// after a full window of near loss-free uplinks with SNR headroom. Transmit
// power is not managed and is always reset to index 0.
type SlowHandler struct {
	// margin is the installation margin in dB. The margin carried in the
	// request is never used.
	margin float64
}

// NewSlowHandler returns a slow handler using the default installation margin.
func NewSlowHandler() *SlowHandler {
	return NewSlowHandlerWithMargin(DefaultInstallationMargin)
}

// NewSlowHandlerWithMargin returns a slow handler using margin dB of SNR
// headroom. Zero is a valid margin.
func NewSlowHandlerWithMargin(margin float64) *SlowHandler {
	return &SlowHandler{margin: margin}
}

// ID returns the handler ID.
func (h *SlowHandler) ID() string {
	return SlowHandlerID
}

// Name returns the handler name.
func (h *SlowHandler) Name() string {
	return SlowHandlerName
}

// InstallationMargin returns the margin applied by the handler.
func (h *SlowHandler) InstallationMargin() float64 {
	return h.margin
}

// Handle handles the ADR request.
func (h *SlowHandler) Handle(req HandleRequest) HandleResponse {
	resp := HandleResponse{
		DR:           req.DR,
		TxPowerIndex: 0,
		NbTrans:      req.NbTrans,
	}

	if !req.ADR {
		return resp
	}

	if LostPacketCount(req.UplinkHistory, HistoryWindow) >= DecreaseLossThreshold {
		resp.DR--
	} else if len(req.UplinkHistory) >= HistoryWindow && LostPacketCount(req.UplinkHistory, HistoryWindow) <= IncreaseLossThreshold {
		// Every uplink in the retained history must clear the floor of the
		// current data rate by more than the installation margin.
		diffSNR := MinSNR(req.UplinkHistory) - req.RequiredSNRForDR - h.InstallationMargin()
		if diffSNR > 0 {
			resp.DR++
		}
	}

	if resp.DR > req.MaxDR {
		resp.DR = req.MaxDR
	}
	if resp.DR < req.MinDR {
		resp.DR = req.MinDR
	}

	return resp
}

// LostPacketCount returns the number of frame counters skipped between
// consecutive uplinks within the last window entries of history. A counter
// that does not increase (rollover or reset) counts as zero lost packets.
func LostPacketCount(history []UplinkMetaData, window int) int {
	if window <= 0 {
		return 0
	}
	if window < len(history) {
		history = history[len(history)-window:]
	}
	if len(history) < 2 {
		return 0
	}

	var lost int
	prev := history[0].FCnt
	for _, m := range history[1:] {
		if m.FCnt > prev {
			lost += int(m.FCnt - prev - 1)
		}
		prev = m.FCnt
	}

	return lost
}

// MinSNR returns the lowest MaxSNR over the whole history, or +Inf when the
// history is empty.
func MinSNR(history []UplinkMetaData) float64 {
	snrM := math.Inf(1)
	for _, m := range history {
		if m.MaxSNR < snrM {
			snrM = m.MaxSNR
		}
	}
	return snrM
}
