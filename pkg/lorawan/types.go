package lorawan

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// ParseEUI64 parses a hex encoded EUI64
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64

	b, err := hex.DecodeString(s)
	if err != nil {
		return e, fmt.Errorf("invalid EUI64 %q: %w", s, err)
	}

	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length: %d", len(b))
	}

	copy(e[:], b)
	return e, nil
}

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEUI64(s)
	if err != nil {
		return err
	}

	*e = parsed
	return nil
}

// Value implements driver.Valuer
func (e EUI64) Value() (driver.Value, error) {
	return e[:], nil
}

// Scan implements sql.Scanner
func (e *EUI64) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into EUI64", value)
	}
	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length")
	}

	copy(e[:], b)
	return nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(b) != 4 {
		return fmt.Errorf("invalid DevAddr length")
	}

	copy(d[:], b)
	return nil
}
