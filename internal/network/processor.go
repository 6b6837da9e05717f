package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/internal/storage"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// NATS subjects
const (
	SubjectUplink      = "ns.device.*.uplink"
	SubjectMACCommands = "ns.device.*.mac"
)

// DownlinkMACSubject returns the subject MAC commands for devEUI are published on
func DownlinkMACSubject(devEUI lorawan.EUI64) string {
	return fmt.Sprintf("ns.device.%s.downlink.mac", devEUI.String())
}

// Publisher publishes messages, implemented by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ProcessorOptions 处理器参数
type ProcessorOptions struct {
	Band           string
	DefaultNbTrans uint8
	Timeout        time.Duration
}

// Processor 处理设备上行并下发 ADR 命令
type Processor struct {
	nc         *nats.Conn
	publisher  Publisher
	store      storage.Store
	engine     *ADREngine
	macHandler *MACCommandHandler
	opts       ProcessorOptions

	// 同一设备的消息串行处理, 无人持有的锁会被移除
	locksMu sync.Mutex
	locks   map[lorawan.EUI64]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// NewProcessor creates a processor. nc may be nil when only the process
// methods are used.
func NewProcessor(nc *nats.Conn, publisher Publisher, store storage.Store, engine *ADREngine, opts ProcessorOptions) *Processor {
	if opts.DefaultNbTrans == 0 {
		opts.DefaultNbTrans = 1
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	return &Processor{
		nc:         nc,
		publisher:  publisher,
		store:      store,
		engine:     engine,
		macHandler: NewMACCommandHandler(engine),
		opts:       opts,
		locks:      make(map[lorawan.EUI64]*deviceLock),
	}
}

// Start 启动处理器
func (p *Processor) Start(ctx context.Context) error {
	if p.nc == nil {
		return fmt.Errorf("start processor: no NATS connection")
	}

	subUp, err := p.nc.Subscribe(SubjectUplink, p.handleUplink)
	if err != nil {
		return fmt.Errorf("订阅上行失败: %w", err)
	}

	subMAC, err := p.nc.Subscribe(SubjectMACCommands, p.handleMACCommands)
	if err != nil {
		subUp.Unsubscribe()
		return fmt.Errorf("订阅 MAC 命令失败: %w", err)
	}

	log.Info().
		Str("region", p.engine.Region().Name).
		Str("algorithm", p.engine.Handler().ID()).
		Msg("ADR 处理器启动，已订阅上行和 MAC 命令")

	<-ctx.Done()
	subUp.Unsubscribe()
	subMAC.Unsubscribe()
	return nil
}

// lock serializes work for devEUI and returns the unlock function. The map
// only holds devices with work in flight.
func (p *Processor) lock(devEUI lorawan.EUI64) func() {
	p.locksMu.Lock()
	l, ok := p.locks[devEUI]
	if !ok {
		l = &deviceLock{}
		p.locks[devEUI] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, devEUI)
		}
		p.locksMu.Unlock()
	}
}

// handleUplink 处理 NATS 上行消息
func (p *Processor) handleUplink(msg *nats.Msg) {
	var uplink models.UplinkMessage
	if err := json.Unmarshal(msg.Data, &uplink); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("解析上行消息失败")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	if _, err := p.ProcessUplink(ctx, &uplink); err != nil {
		log.Error().Err(err).Str("devEUI", uplink.DevEUI.String()).Msg("处理上行失败")
	}
}

// handleMACCommands 处理 NATS MAC 命令消息
func (p *Processor) handleMACCommands(msg *nats.Msg) {
	var macMsg models.MACCommandMessage
	if err := json.Unmarshal(msg.Data, &macMsg); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("解析 MAC 命令消息失败")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	if _, err := p.ProcessMACCommands(ctx, &macMsg); err != nil {
		log.Error().Err(err).Str("devEUI", macMsg.DevEUI.String()).Msg("处理 MAC 命令失败")
	}
}

// getOrCreateSession loads the session or starts a new one for unknown devices
func (p *Processor) getOrCreateSession(ctx context.Context, uplink *models.UplinkMessage) (*models.DeviceSession, error) {
	session, err := p.store.GetDeviceSession(ctx, uplink.DevEUI)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get device session: %w", err)
	}

	log.Info().
		Str("devEUI", uplink.DevEUI.String()).
		Str("devAddr", uplink.DevAddr.String()).
		Msg("创建新的设备会话")

	return &models.DeviceSession{
		DevEUI:  uplink.DevEUI,
		DevAddr: uplink.DevAddr,
		Band:    p.opts.Band,
		DR:      uplink.DR,
		NbTrans: p.opts.DefaultNbTrans,
		ADR:     uplink.ADR,
	}, nil
}

// ProcessUplink records the uplink, evaluates ADR and publishes a LinkADRReq
// when the device settings must change.
func (p *Processor) ProcessUplink(ctx context.Context, uplink *models.UplinkMessage) (*ADRResult, error) {
	defer p.lock(uplink.DevEUI)()

	if uplink.ReceivedAt.IsZero() {
		uplink.ReceivedAt = time.Now()
	}

	session, err := p.getOrCreateSession(ctx, uplink)
	if err != nil {
		return nil, err
	}
	session.DevAddr = uplink.DevAddr

	result, err := p.engine.HandleUplink(session, uplink)
	if err != nil {
		return nil, fmt.Errorf("adr: %w", err)
	}

	if err := p.store.SaveDeviceSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save device session: %w", err)
	}

	if !result.Changed() {
		return result, nil
	}

	if err := p.publishMACCommands(session, []lorawan.MACCommand{*result.Command}); err != nil {
		return nil, err
	}

	code := models.EventCodeSettingsSent
	switch {
	case result.Response.DR < result.Request.DR:
		code = models.EventCodeDRDecreased
	case result.Response.DR > result.Request.DR:
		code = models.EventCodeDRIncreased
	}

	p.logEvent(ctx, &models.EventLog{
		DevEUI:      &session.DevEUI,
		Type:        models.EventTypeADR,
		Level:       models.EventLevelInfo,
		Code:        code,
		Description: fmt.Sprintf("LinkADRReq DR%d -> DR%d", result.Request.DR, result.Response.DR),
		Details: models.Variables{
			"algorithm":   p.engine.Handler().ID(),
			"fCnt":        uplink.FCnt,
			"dr":          result.Response.DR,
			"txPower":     result.Response.TxPowerIndex,
			"nbTrans":     result.Response.NbTrans,
			"history":     len(result.Request.UplinkHistory),
			"requiredSNR": result.Request.RequiredSNRForDR,
		},
	})

	log.Info().
		Str("devEUI", session.DevEUI.String()).
		Int("dr", result.Request.DR).
		Int("newDR", result.Response.DR).
		Str("dataRate", p.engine.Region().GetDRString(result.Response.DR)).
		Int("txPower", result.Response.TxPowerIndex).
		Int("nbTrans", result.Response.NbTrans).
		Msg("下发 LinkADRReq")

	return result, nil
}

// ProcessMACCommands handles the uplink MAC commands of a device
func (p *Processor) ProcessMACCommands(ctx context.Context, msg *models.MACCommandMessage) (MACCommandResult, error) {
	defer p.lock(msg.DevEUI)()

	commands, err := lorawan.ParseMACCommands(true, msg.Commands)
	if err != nil {
		return MACCommandResult{}, fmt.Errorf("parse mac commands: %w", err)
	}

	session, err := p.store.GetDeviceSession(ctx, msg.DevEUI)
	if err != nil {
		return MACCommandResult{}, fmt.Errorf("get device session: %w", err)
	}

	result := p.macHandler.HandleUplink(session, commands)

	if err := p.store.SaveDeviceSession(ctx, session); err != nil {
		return result, fmt.Errorf("save device session: %w", err)
	}

	if len(result.Responses) > 0 {
		if err := p.publishMACCommands(session, result.Responses); err != nil {
			return result, err
		}
	}

	if result.ADRAnswered {
		code, level := models.EventCodeADRAccepted, models.EventLevelInfo
		if !result.ADRAccepted {
			code, level = models.EventCodeADRRejected, models.EventLevelWarning
		}
		p.logEvent(ctx, &models.EventLog{
			DevEUI:      &session.DevEUI,
			Type:        models.EventTypeLinkADRAns,
			Level:       level,
			Code:        code,
			Description: fmt.Sprintf("LinkADRAns received, DR%d", session.DR),
			Details: models.Variables{
				"dr":      session.DR,
				"txPower": session.TXPower,
				"nbTrans": session.NbTrans,
			},
		})
	}

	return result, nil
}

// publishMACCommands 发布下行 MAC 命令
func (p *Processor) publishMACCommands(session *models.DeviceSession, commands []lorawan.MACCommand) error {
	msg := models.LinkADRReqMessage{
		DevEUI:   session.DevEUI,
		DR:       session.DR,
		TXPower:  session.TXPower,
		NbTrans:  session.NbTrans,
		Commands: lorawan.EncodeMACCommands(commands),
	}
	if session.PendingADR != nil {
		msg.DR = session.PendingADR.DR
		msg.TXPower = session.PendingADR.TXPower
		msg.NbTrans = session.PendingADR.NbTrans
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal downlink mac: %w", err)
	}

	if err := p.publisher.Publish(DownlinkMACSubject(session.DevEUI), data); err != nil {
		return fmt.Errorf("publish downlink mac: %w", err)
	}
	return nil
}

// logEvent writes an event log entry, failures are only logged
func (p *Processor) logEvent(ctx context.Context, event *models.EventLog) {
	if err := p.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}
}
