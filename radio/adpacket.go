package radio

// Canonical advertising data (AD) structure assembly. The platform stack
// hands us pre-parsed fields; re-encoding them into standard AD structures
// gives the pipeline one raw input shape on every platform. The same
// encoder builds synthetic payloads in tests.

// AD structure type codes (Bluetooth Assigned Numbers §2.3).
const (
	adFlags             = 0x01
	adUUID16Incomplete  = 0x02
	adUUID16Complete    = 0x03
	adUUID128Incomplete = 0x06
	adUUID128Complete   = 0x07
	adNameShortened     = 0x08
	adNameComplete      = 0x09
	adTxPower           = 0x0A
	adManufacturer      = 0xFF
)

// Packet accumulates AD structures up to the link-layer payload limit.
// Appends that would overflow are skipped rather than truncated mid-field.
type Packet struct {
	buf [MaxAdvDataLen]byte
	n   int
}

// Bytes returns the assembled payload.
func (p *Packet) Bytes() []byte { return p.buf[:p.n] }

// append adds one AD structure of the given type. Returns false if the
// structure does not fit.
func (p *Packet) append(typ byte, data []byte) bool {
	need := 2 + len(data)
	if p.n+need > len(p.buf) || len(data) > 0xFE {
		return false
	}
	p.buf[p.n] = byte(1 + len(data))
	p.buf[p.n+1] = typ
	copy(p.buf[p.n+2:], data)
	p.n += need
	return true
}

// AppendName adds a complete local name structure.
func (p *Packet) AppendName(name string) bool {
	return p.append(adNameComplete, []byte(name))
}

// AppendShortenedName adds a shortened local name structure.
func (p *Packet) AppendShortenedName(name string) bool {
	return p.append(adNameShortened, []byte(name))
}

// AppendManufacturer adds a manufacturer-specific data structure. The
// company identifier occupies the first two bytes, little-endian.
func (p *Packet) AppendManufacturer(companyID uint16, data []byte) bool {
	buf := make([]byte, 2+len(data))
	buf[0] = byte(companyID)
	buf[1] = byte(companyID >> 8)
	copy(buf[2:], data)
	return p.append(adManufacturer, buf)
}

// AppendManufacturerRaw adds a manufacturer-specific data structure from a
// payload that already carries the company identifier in its first two
// bytes, as platform stacks deliver it.
func (p *Packet) AppendManufacturerRaw(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return p.append(adManufacturer, data)
}

// AppendTxPower adds a TX power level structure.
func (p *Packet) AppendTxPower(dbm int8) bool {
	return p.append(adTxPower, []byte{byte(dbm)})
}

// AppendUUID16List adds a complete 16-bit service UUID list.
func (p *Packet) AppendUUID16List(uuids []uint16) bool {
	buf := make([]byte, 0, 2*len(uuids))
	for _, u := range uuids {
		buf = append(buf, byte(u), byte(u>>8))
	}
	return p.append(adUUID16Complete, buf)
}

// AppendUUID128 adds a complete 128-bit service UUID list entry. The UUID
// is expected in little-endian wire order.
func (p *Packet) AppendUUID128(uuid [16]byte) bool {
	return p.append(adUUID128Complete, uuid[:])
}
