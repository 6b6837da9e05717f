package lorawan

import (
	"errors"
	"fmt"
)

// MACCommand represents a MAC command
type MACCommand struct {
	CID     byte
	Payload []byte
}

// MAC command identifiers
const (
	LinkCheckReq     byte = 0x02
	LinkCheckAns     byte = 0x02
	LinkADRReq       byte = 0x03
	LinkADRAns       byte = 0x03
	DutyCycleReq     byte = 0x04
	DutyCycleAns     byte = 0x04
	RXParamSetupReq  byte = 0x05
	RXParamSetupAns  byte = 0x05
	DevStatusReq     byte = 0x06
	DevStatusAns     byte = 0x06
	NewChannelReq    byte = 0x07
	NewChannelAns    byte = 0x07
	RXTimingSetupReq byte = 0x08
	RXTimingSetupAns byte = 0x08
	TxParamSetupReq  byte = 0x09
	TxParamSetupAns  byte = 0x09
	DlChannelReq     byte = 0x0A
	DlChannelAns     byte = 0x0A
	DeviceTimeReq    byte = 0x0D
	DeviceTimeAns    byte = 0x0D
)

// ErrInvalidPayload is returned when a MAC command payload has the wrong size
var ErrInvalidPayload = errors.New("invalid MAC command payload")

// ParseMACCommands parses MAC commands from bytes
func ParseMACCommands(uplink bool, data []byte) ([]MACCommand, error) {
	var commands []MACCommand

	for i := 0; i < len(data); {
		cmd := MACCommand{
			CID: data[i],
		}
		i++

		payloadLen := getMACCommandPayloadLength(uplink, cmd.CID)
		if payloadLen < 0 {
			return nil, fmt.Errorf("unknown MAC command: %02x", cmd.CID)
		}

		if i+payloadLen > len(data) {
			return nil, fmt.Errorf("insufficient data for MAC command %02x", cmd.CID)
		}

		cmd.Payload = data[i : i+payloadLen]
		i += payloadLen

		commands = append(commands, cmd)
	}

	return commands, nil
}

// getMACCommandPayloadLength returns the payload length for a MAC command
func getMACCommandPayloadLength(uplink bool, cid byte) int {
	if uplink {
		switch cid {
		case LinkCheckReq:
			return 0
		case LinkADRAns:
			return 1
		case DutyCycleAns:
			return 0
		case RXParamSetupAns:
			return 1
		case DevStatusAns:
			return 2
		case NewChannelAns:
			return 1
		case RXTimingSetupAns:
			return 0
		case TxParamSetupAns:
			return 0
		case DlChannelAns:
			return 1
		case DeviceTimeReq:
			return 0
		default:
			return -1
		}
	}

	switch cid {
	case LinkCheckAns:
		return 2
	case LinkADRReq:
		return 4
	case DutyCycleReq:
		return 1
	case RXParamSetupReq:
		return 4
	case DevStatusReq:
		return 0
	case NewChannelReq:
		return 5
	case RXTimingSetupReq:
		return 1
	case TxParamSetupReq:
		return 1
	case DlChannelReq:
		return 4
	case DeviceTimeAns:
		return 5
	default:
		return -1
	}
}

// EncodeMACCommands encodes MAC commands to bytes
func EncodeMACCommands(commands []MACCommand) []byte {
	var data []byte

	for _, cmd := range commands {
		data = append(data, cmd.CID)
		data = append(data, cmd.Payload...)
	}

	return data
}

// LinkADRReqPayload represents the LinkADRReq payload
type LinkADRReqPayload struct {
	DataRate   uint8
	TXPower    uint8
	ChMask     uint16
	ChMaskCntl uint8
	NbRep      uint8
}

// MarshalBinary encodes the payload
func (p LinkADRReqPayload) MarshalBinary() ([]byte, error) {
	if p.DataRate > 15 {
		return nil, fmt.Errorf("%w: DataRate %d exceeds 15", ErrInvalidPayload, p.DataRate)
	}
	if p.TXPower > 15 {
		return nil, fmt.Errorf("%w: TXPower %d exceeds 15", ErrInvalidPayload, p.TXPower)
	}
	if p.ChMaskCntl > 7 {
		return nil, fmt.Errorf("%w: ChMaskCntl %d exceeds 7", ErrInvalidPayload, p.ChMaskCntl)
	}
	if p.NbRep > 15 {
		return nil, fmt.Errorf("%w: NbRep %d exceeds 15", ErrInvalidPayload, p.NbRep)
	}

	payload := make([]byte, 4)
	payload[0] = (p.DataRate << 4) | (p.TXPower & 0x0F)
	payload[1] = byte(p.ChMask)
	payload[2] = byte(p.ChMask >> 8)
	// Bits 6:4 ChMaskCntl, bits 3:0 NbTrans
	payload[3] = (p.ChMaskCntl << 4) | (p.NbRep & 0x0F)

	return payload, nil
}

// UnmarshalBinary decodes the payload
func (p *LinkADRReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("%w: LinkADRReq expects 4 bytes, got %d", ErrInvalidPayload, len(data))
	}

	p.DataRate = data[0] >> 4
	p.TXPower = data[0] & 0x0F
	p.ChMask = uint16(data[1]) | uint16(data[2])<<8
	p.ChMaskCntl = (data[3] >> 4) & 0x07
	p.NbRep = data[3] & 0x0F

	return nil
}

// LinkADRAnsPayload represents the LinkADRAns payload
type LinkADRAnsPayload struct {
	PowerACK       bool
	DataRateACK    bool
	ChannelMaskACK bool
}

// Accepted returns true when the device acknowledged every field
func (p LinkADRAnsPayload) Accepted() bool {
	return p.PowerACK && p.DataRateACK && p.ChannelMaskACK
}

// UnmarshalBinary decodes the payload
func (p *LinkADRAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("%w: LinkADRAns expects 1 byte, got %d", ErrInvalidPayload, len(data))
	}

	status := data[0]
	p.PowerACK = (status & 0x04) != 0
	p.DataRateACK = (status & 0x02) != 0
	p.ChannelMaskACK = (status & 0x01) != 0

	return nil
}

// MarshalBinary encodes the payload
func (p LinkADRAnsPayload) MarshalBinary() ([]byte, error) {
	var status byte
	if p.PowerACK {
		status |= 0x04
	}
	if p.DataRateACK {
		status |= 0x02
	}
	if p.ChannelMaskACK {
		status |= 0x01
	}
	return []byte{status}, nil
}
