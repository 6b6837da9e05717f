package lorawan

import "fmt"

// RegionConfiguration represents region-specific configuration
type RegionConfiguration struct {
	Name            string
	DefaultChannels []Channel
	DataRates       []DataRate

	// 上行 ADR 可用的数据速率范围
	MinUplinkDR int
	MaxUplinkDR int

	// TXPower 索引越大功率越小
	MaxTxPowerIndex int

	// LinkADRReq 使用的信道掩码
	ChMask     uint16
	ChMaskCntl uint8
}

// Channel represents a LoRa channel
type Channel struct {
	Frequency uint32
	MinDR     int
	MaxDR     int
}

// DataRate represents a data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int
}

// spreadFactorToRequiredSNR LoRa 解调所需的最小 SNR (dB)
var spreadFactorToRequiredSNR = map[int]float64{
	6:  -5,
	7:  -7.5,
	8:  -10,
	9:  -12.5,
	10: -15,
	11: -17.5,
	12: -20,
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(region string) (*RegionConfiguration, error) {
	switch region {
	case "EU868":
		return &EU868Configuration, nil
	case "US915":
		return &US915Configuration, nil
	case "CN470", "CN470_510":
		return &CN470Configuration, nil
	default:
		return nil, fmt.Errorf("unknown region: %s", region)
	}
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name: "EU868",
	DefaultChannels: []Channel{
		{Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
		{SpreadFactor: 7, Bandwidth: 250},  // DR6
	},
	MinUplinkDR:     0,
	MaxUplinkDR:     5,
	MaxTxPowerIndex: 7,
	ChMask:          0x0007,
	ChMaskCntl:      0,
}

// US915Configuration for US 915MHz band
var US915Configuration = RegionConfiguration{
	Name: "US915",
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
	},
	MinUplinkDR:     0,
	MaxUplinkDR:     3,
	MaxTxPowerIndex: 14,
	// 第一个子频段 (信道 0-7)
	ChMask:     0x00FF,
	ChMaskCntl: 0,
}

// CN470Configuration for China 470-510MHz band
var CN470Configuration = RegionConfiguration{
	Name:            "CN470",
	DefaultChannels: generateCN470DefaultChannels(),
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	MinUplinkDR:     0,
	MaxUplinkDR:     5,
	MaxTxPowerIndex: 7,
	// CN470 每次只能启用8个连续信道
	ChMask:     0x00FF,
	ChMaskCntl: 0,
}

// generateCN470DefaultChannels 生成CN470默认信道（前8个上行信道）
func generateCN470DefaultChannels() []Channel {
	channels := make([]Channel, 8)
	baseFreq := uint32(470300000) // 470.3 MHz
	for i := 0; i < 8; i++ {
		channels[i] = Channel{
			Frequency: baseFreq + uint32(i*200000), // 200kHz spacing
			MinDR:     0,
			MaxDR:     5,
		}
	}
	return channels
}

// GetDataRate returns the data rate definition for dr
func (r *RegionConfiguration) GetDataRate(dr int) (DataRate, error) {
	if dr < 0 || dr >= len(r.DataRates) {
		return DataRate{}, fmt.Errorf("%s: invalid data rate DR%d", r.Name, dr)
	}
	return r.DataRates[dr], nil
}

// RequiredSNRForDR returns the minimum SNR needed to demodulate an uplink at dr
func (r *RegionConfiguration) RequiredSNRForDR(dr int) (float64, error) {
	d, err := r.GetDataRate(dr)
	if err != nil {
		return 0, err
	}

	snr, ok := spreadFactorToRequiredSNR[d.SpreadFactor]
	if !ok {
		return 0, fmt.Errorf("%s: no required SNR for SF%d", r.Name, d.SpreadFactor)
	}
	return snr, nil
}

// GetDRString returns a printable form such as "SF9BW125"
func (r *RegionConfiguration) GetDRString(dr int) string {
	d, err := r.GetDataRate(dr)
	if err != nil {
		return fmt.Sprintf("DR%d", dr)
	}
	return fmt.Sprintf("SF%dBW%d", d.SpreadFactor, d.Bandwidth)
}
