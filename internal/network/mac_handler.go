package network

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// MACCommandHandler 处理 MAC 命令
type MACCommandHandler struct {
	engine *ADREngine
}

// MACCommandResult 上行 MAC 命令的处理结果
type MACCommandResult struct {
	Responses []lorawan.MACCommand
	// ADRAnswered is set when a LinkADRAns was processed
	ADRAnswered bool
	ADRAccepted bool
}

// NewMACCommandHandler 创建 MAC 命令处理器
func NewMACCommandHandler(engine *ADREngine) *MACCommandHandler {
	return &MACCommandHandler{
		engine: engine,
	}
}

// HandleUplink 处理上行 MAC 命令
func (h *MACCommandHandler) HandleUplink(session *models.DeviceSession, commands []lorawan.MACCommand) MACCommandResult {
	var result MACCommandResult

	for _, cmd := range commands {
		switch cmd.CID {
		case lorawan.LinkCheckReq:
			result.Responses = append(result.Responses, h.handleLinkCheckReq(session))

		case lorawan.LinkADRAns:
			var ans lorawan.LinkADRAnsPayload
			if err := ans.UnmarshalBinary(cmd.Payload); err != nil {
				log.Warn().Err(err).Str("devEUI", session.DevEUI.String()).Msg("无效的 LinkADRAns")
				continue
			}
			result.ADRAnswered = true
			result.ADRAccepted = h.engine.HandleLinkADRAns(session, ans)

		case lorawan.DevStatusAns:
			h.handleDevStatusAns(session, cmd.Payload)

		default:
			log.Warn().
				Uint8("cid", cmd.CID).
				Str("devEUI", session.DevEUI.String()).
				Msg("未处理的 MAC 命令")
		}
	}

	return result
}

// handleLinkCheckReq 处理链路检查请求
func (h *MACCommandHandler) handleLinkCheckReq(session *models.DeviceSession) lorawan.MACCommand {
	var margin, gwCnt uint8

	// 使用最近一次上行的 SNR 和网关数
	if n := len(session.ADRHistory); n > 0 {
		last := session.ADRHistory[n-1]
		if required, err := h.engine.Region().RequiredSNRForDR(int(session.DR)); err == nil {
			m := math.Floor(last.MaxSNR - required)
			if m > 0 {
				margin = uint8(math.Min(m, 254))
			}
		}
		if last.GatewayCount > 255 {
			gwCnt = 255
		} else {
			gwCnt = uint8(last.GatewayCount)
		}
	}

	log.Debug().
		Str("devEUI", session.DevEUI.String()).
		Uint8("margin", margin).
		Uint8("gwCnt", gwCnt).
		Msg("响应 LinkCheckReq")

	return lorawan.MACCommand{
		CID:     lorawan.LinkCheckAns,
		Payload: []byte{margin, gwCnt},
	}
}

// handleDevStatusAns 处理设备状态响应
func (h *MACCommandHandler) handleDevStatusAns(session *models.DeviceSession, payload []byte) {
	if len(payload) != 2 {
		return
	}

	battery := payload[0]
	// 6 位有符号 SNR margin
	margin := int8(payload[1]<<2) >> 2

	log.Info().
		Str("devEUI", session.DevEUI.String()).
		Uint8("battery", battery).
		Int8("margin", margin).
		Msg("收到设备状态")
}
