// Package scan implements the BLE tag tracking pipeline: advertisement
// parsing, per-tag rate limiting, reading formatting and the publish queue
// that hands readings to the outbound transport.
package scan

import (
	"encoding/hex"
	"strings"
)

const (
	// MaxNameLen bounds the advertised local name carried into payloads.
	MaxNameLen = 63
	// MaxManufacturerDataLen bounds the manufacturer payload (after the
	// company identifier) carried into payloads.
	MaxManufacturerDataLen = 31
)

// AD structure type codes handled by the parser.
const (
	typeUUID16Incomplete  = 0x02
	typeUUID16Complete    = 0x03
	typeUUID128Incomplete = 0x06
	typeUUID128Complete   = 0x07
	typeNameShortened     = 0x08
	typeNameComplete      = 0x09
	typeTxPower           = 0x0A
	typeManufacturer      = 0xFF
)

// appleCompanyID is decoded further for iBeacon diagnostics.
const appleCompanyID = 0x004C

// Fields holds the best-effort decoded advertisement fields. Absent fields
// are zero-valued; the presence flags distinguish "absent" from a genuine
// zero for the numeric ones.
type Fields struct {
	Name string

	HasManufacturer  bool
	ManufacturerID   uint16
	ManufacturerData []byte

	HasTxPower bool
	TxPower    int8

	UUID16  []uint16
	UUID128 [][16]byte
}

// ParseFields walks the AD structures in a raw advertising payload. It
// never fails: malformed structures end the walk and whatever decoded
// before them is returned.
func ParseFields(data []byte) Fields {
	var f Fields

	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 {
			break
		}
		if i+1+length > len(data) {
			// Truncated structure; keep what parsed so far.
			break
		}
		typ := data[i+1]
		value := data[i+2 : i+1+length]

		switch typ {
		case typeNameComplete:
			f.Name = truncateName(value)
		case typeNameShortened:
			// A complete name wins over a shortened one.
			if f.Name == "" {
				f.Name = truncateName(value)
			}
		case typeManufacturer:
			if len(value) >= 2 {
				f.HasManufacturer = true
				f.ManufacturerID = uint16(value[0]) | uint16(value[1])<<8
				payload := value[2:]
				if len(payload) > MaxManufacturerDataLen {
					payload = payload[:MaxManufacturerDataLen]
				}
				f.ManufacturerData = append([]byte(nil), payload...)
			}
		case typeTxPower:
			if len(value) >= 1 {
				f.HasTxPower = true
				f.TxPower = int8(value[0])
			}
		case typeUUID16Incomplete, typeUUID16Complete:
			for j := 0; j+1 < len(value); j += 2 {
				f.UUID16 = append(f.UUID16, uint16(value[j])|uint16(value[j+1])<<8)
			}
		case typeUUID128Incomplete, typeUUID128Complete:
			for j := 0; j+15 < len(value); j += 16 {
				var u [16]byte
				copy(u[:], value[j:j+16])
				f.UUID128 = append(f.UUID128, u)
			}
		}

		i += 1 + length
	}

	return f
}

// ManufacturerHex returns the manufacturer payload as uppercase hex.
func (f Fields) ManufacturerHex() string {
	if len(f.ManufacturerData) == 0 {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(f.ManufacturerData))
}

// IBeacon is the Apple proximity beacon frame decoded for diagnostics.
type IBeacon struct {
	UUID  [16]byte
	Major uint16
	Minor uint16
	Tx    int8
}

// IBeacon decodes the manufacturer payload as an iBeacon frame. The second
// return value is false when the advertisement is not one.
func (f Fields) IBeacon() (IBeacon, bool) {
	// Layout after the company id: type, subtype, 16-byte UUID,
	// big-endian major and minor, calibrated tx.
	if !f.HasManufacturer || f.ManufacturerID != appleCompanyID {
		return IBeacon{}, false
	}
	d := f.ManufacturerData
	if len(d) < 23 || d[0] != 0x02 || d[1] != 0x15 {
		return IBeacon{}, false
	}

	var b IBeacon
	copy(b.UUID[:], d[2:18])
	b.Major = uint16(d[18])<<8 | uint16(d[19])
	b.Minor = uint16(d[20])<<8 | uint16(d[21])
	b.Tx = int8(d[22])
	return b, true
}

// UUIDHex formats the iBeacon UUID in the canonical 8-4-4-4-12 form.
func (b IBeacon) UUIDHex() string {
	h := strings.ToUpper(hex.EncodeToString(b.UUID[:]))
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

func truncateName(value []byte) string {
	if len(value) > MaxNameLen {
		value = value[:MaxNameLen]
	}
	return string(value)
}
