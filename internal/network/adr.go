package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/adr"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// ErrNoRXInfo is returned for uplinks that carry no gateway metadata
var ErrNoRXInfo = errors.New("uplink without rx info")

// PendingADRTimeout is how long an unanswered LinkADRReq blocks new ones
const PendingADRTimeout = time.Hour

// ADREngine 维护上行历史并调用 ADR 算法
type ADREngine struct {
	handler     adr.Handler
	region      *lorawan.RegionConfiguration
	historySize int
	enabled     bool
}

// ADRResult is the outcome of one ADR evaluation
type ADRResult struct {
	Request  adr.HandleRequest
	Response adr.HandleResponse
	// Command is nil when the device already uses the recommended settings
	Command *lorawan.MACCommand
	// Deferred is set when different settings were recommended while an
	// earlier LinkADRReq is still waiting for its LinkADRAns
	Deferred bool
}

// Changed reports whether the device has to apply new settings
func (r *ADRResult) Changed() bool {
	return r.Command != nil
}

// NewADREngine creates an ADR engine
func NewADREngine(handler adr.Handler, region *lorawan.RegionConfiguration, historySize int, enabled bool) *ADREngine {
	if historySize < adr.HistoryWindow {
		historySize = adr.HistoryWindow
	}

	return &ADREngine{
		handler:     handler,
		region:      region,
		historySize: historySize,
		enabled:     enabled,
	}
}

// Handler returns the ADR algorithm in use
func (e *ADREngine) Handler() adr.Handler {
	return e.handler
}

// Region returns the region configuration
func (e *ADREngine) Region() *lorawan.RegionConfiguration {
	return e.region
}

// HandleUplink records the uplink in the session history and evaluates ADR.
// When new settings are recommended they are stored as pending on the session.
// While a request is pending only that same request is sent again, until it
// is answered or PendingADRTimeout has passed.
func (e *ADREngine) HandleUplink(session *models.DeviceSession, uplink *models.UplinkMessage) (*ADRResult, error) {
	if err := e.AppendHistory(session, uplink); err != nil {
		return nil, err
	}

	now := uplink.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	if p := session.PendingADR; p != nil && now.Sub(p.SentAt) > PendingADRTimeout {
		log.Warn().
			Str("devEUI", session.DevEUI.String()).
			Uint8("dr", p.DR).
			Time("sentAt", p.SentAt).
			Msg("LinkADRReq 未收到应答, 已超时")
		session.PendingADR = nil
	}

	result, err := e.Evaluate(session)
	if err != nil {
		return nil, err
	}

	if !result.Changed() {
		return result, nil
	}

	if p := session.PendingADR; p != nil && !p.Matches(result.Response.DR, result.Response.TxPowerIndex, result.Response.NbTrans) {
		log.Debug().
			Str("devEUI", session.DevEUI.String()).
			Uint8("pendingDR", p.DR).
			Int("newDR", result.Response.DR).
			Msg("LinkADRReq 待确认, 推迟新的 ADR 调整")
		result.Command = nil
		result.Deferred = true
		return result, nil
	}

	session.PendingADR = &models.PendingADR{
		DR:      uint8(result.Response.DR),
		TXPower: uint8(result.Response.TxPowerIndex),
		NbTrans: uint8(result.Response.NbTrans),
		SentAt:  now,
	}

	return result, nil
}

// AppendHistory updates the session with the uplink and appends it to the
// ADR history, keeping at most historySize entries (oldest first).
func (e *ADREngine) AppendHistory(session *models.DeviceSession, uplink *models.UplinkMessage) error {
	if len(uplink.RXInfo) == 0 {
		return ErrNoRXInfo
	}

	// samples taken at another data rate are not comparable to the required
	// SNR of the new one
	if len(session.ADRHistory) > 0 && uplink.DR != session.DR {
		log.Debug().
			Str("devEUI", session.DevEUI.String()).
			Uint8("dr", session.DR).
			Uint8("uplinkDR", uplink.DR).
			Int("history", len(session.ADRHistory)).
			Msg("上行速率变化, 清空 ADR 历史")
		session.ADRHistory = nil
	}

	session.ADR = uplink.ADR
	session.DR = uplink.DR
	if uplink.TXPower != nil {
		session.TXPower = *uplink.TXPower
	}
	session.FCntUp = uplink.FCnt
	session.LastUplinkAt = uplink.ReceivedAt

	// NbTrans 重传的帧具有相同的 FCnt
	if n := len(session.ADRHistory); n > 0 && session.ADRHistory[n-1].FCnt == uplink.FCnt {
		return nil
	}

	entry := models.ADRHistory{
		FCnt:         uplink.FCnt,
		MaxSNR:       uplink.RXInfo[0].LoRaSNR,
		MaxRSSI:      uplink.RXInfo[0].RSSI,
		TXPower:      session.TXPower,
		GatewayCount: len(uplink.RXInfo),
	}
	for _, rx := range uplink.RXInfo[1:] {
		if rx.LoRaSNR > entry.MaxSNR {
			entry.MaxSNR = rx.LoRaSNR
		}
		if rx.RSSI > entry.MaxRSSI {
			entry.MaxRSSI = rx.RSSI
		}
	}

	session.ADRHistory = append(session.ADRHistory, entry)
	if len(session.ADRHistory) > e.historySize {
		session.ADRHistory = session.ADRHistory[len(session.ADRHistory)-e.historySize:]
	}

	return nil
}

// BuildRequest builds the ADR request for the current session state
func (e *ADREngine) BuildRequest(session *models.DeviceSession) (adr.HandleRequest, error) {
	requiredSNR, err := e.region.RequiredSNRForDR(int(session.DR))
	if err != nil {
		return adr.HandleRequest{}, fmt.Errorf("required snr: %w", err)
	}

	minDR, maxDR := e.region.MinUplinkDR, e.region.MaxUplinkDR
	if session.MinDR != nil {
		minDR = int(*session.MinDR)
	}
	if session.MaxDR != nil {
		maxDR = int(*session.MaxDR)
	}

	nbTrans := int(session.NbTrans)
	if nbTrans == 0 {
		nbTrans = 1
	}

	req := adr.HandleRequest{
		RegionConfigID:   e.region.Name,
		RegionCommonName: e.region.Name,
		DevEUI:           session.DevEUI.String(),
		ADR:              session.ADR && e.enabled,
		DR:               int(session.DR),
		TxPowerIndex:     int(session.TXPower),
		NbTrans:          nbTrans,
		MaxTxPowerIndex:  e.region.MaxTxPowerIndex,
		RequiredSNRForDR: requiredSNR,
		MinDR:            minDR,
		MaxDR:            maxDR,
		UplinkHistory:    make([]adr.UplinkMetaData, 0, len(session.ADRHistory)),
	}
	if h, ok := e.handler.(*adr.SlowHandler); ok {
		req.InstallationMargin = h.InstallationMargin()
	}

	for _, h := range session.ADRHistory {
		req.UplinkHistory = append(req.UplinkHistory, adr.UplinkMetaData{
			FCnt:         h.FCnt,
			MaxSNR:       h.MaxSNR,
			MaxRSSI:      h.MaxRSSI,
			TxPowerIndex: int(h.TXPower),
			GatewayCount: h.GatewayCount,
		})
	}

	return req, nil
}

// Evaluate runs the ADR algorithm without modifying the session
func (e *ADREngine) Evaluate(session *models.DeviceSession) (*ADRResult, error) {
	req, err := e.BuildRequest(session)
	if err != nil {
		return nil, err
	}

	resp := e.handler.Handle(req)
	result := &ADRResult{
		Request:  req,
		Response: resp,
	}

	log.Debug().
		Str("devEUI", session.DevEUI.String()).
		Str("algorithm", e.handler.ID()).
		Bool("adr", req.ADR).
		Int("history", len(req.UplinkHistory)).
		Int("lost", adr.LostPacketCount(req.UplinkHistory, adr.HistoryWindow)).
		Int("dr", req.DR).
		Int("newDR", resp.DR).
		Int("txPower", req.TxPowerIndex).
		Int("newTxPower", resp.TxPowerIndex).
		Int("nbTrans", resp.NbTrans).
		Msg("ADR evaluated")

	if !req.ADR {
		return result, nil
	}

	if resp.DR == req.DR && resp.TxPowerIndex == req.TxPowerIndex && resp.NbTrans == req.NbTrans {
		return result, nil
	}

	cmd, err := e.createLinkADRReq(resp)
	if err != nil {
		return nil, err
	}
	result.Command = cmd

	return result, nil
}

// createLinkADRReq 创建 LinkADRReq 命令
func (e *ADREngine) createLinkADRReq(resp adr.HandleResponse) (*lorawan.MACCommand, error) {
	if resp.DR < 0 || resp.TxPowerIndex < 0 || resp.NbTrans < 0 {
		return nil, fmt.Errorf("invalid ADR response: dr=%d txPower=%d nbTrans=%d",
			resp.DR, resp.TxPowerIndex, resp.NbTrans)
	}

	p := lorawan.LinkADRReqPayload{
		DataRate:   uint8(resp.DR),
		TXPower:    uint8(resp.TxPowerIndex),
		ChMask:     e.region.ChMask,
		ChMaskCntl: e.region.ChMaskCntl,
		NbRep:      uint8(resp.NbTrans),
	}

	payload, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal LinkADRReq: %w", err)
	}

	return &lorawan.MACCommand{
		CID:     lorawan.LinkADRReq,
		Payload: payload,
	}, nil
}

// HandleLinkADRAns applies or drops the pending settings of the session
func (e *ADREngine) HandleLinkADRAns(session *models.DeviceSession, ans lorawan.LinkADRAnsPayload) bool {
	pending := session.PendingADR
	session.PendingADR = nil

	if pending == nil {
		log.Warn().
			Str("devEUI", session.DevEUI.String()).
			Msg("收到 LinkADRAns, 但没有待确认的 LinkADRReq")
		return false
	}

	if !ans.Accepted() {
		log.Warn().
			Str("devEUI", session.DevEUI.String()).
			Bool("powerACK", ans.PowerACK).
			Bool("dataRateACK", ans.DataRateACK).
			Bool("channelMaskACK", ans.ChannelMaskACK).
			Msg("LinkADRReq 被设备拒绝")
		return false
	}

	// an uplink at the new rate has already reset the history
	if session.DR != pending.DR {
		session.ADRHistory = nil
	}

	session.DR = pending.DR
	session.TXPower = pending.TXPower
	session.NbTrans = pending.NbTrans

	log.Info().
		Str("devEUI", session.DevEUI.String()).
		Uint8("dr", session.DR).
		Uint8("txPower", session.TXPower).
		Uint8("nbTrans", session.NbTrans).
		Msg("LinkADRReq 已被设备确认")

	return true
}
