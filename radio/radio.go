// Package radio abstracts the BLE controller behind a small scan capability.
// The scan pipeline consumes discovery events carrying the raw advertising
// payload; platform specifics stay behind the Radio interface.
package radio

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies an advertising report.
type EventType uint8

const (
	EventADVInd EventType = iota
	EventDirectInd
	EventScanInd
	EventNonconnInd
	EventScanRsp
	EventUnknown
)

// String returns the HCI-style name used in wire payloads and debug logs.
func (t EventType) String() string {
	switch t {
	case EventADVInd:
		return "ADV_IND"
	case EventDirectInd:
		return "ADV_DIRECT_IND"
	case EventScanInd:
		return "ADV_SCAN_IND"
	case EventNonconnInd:
		return "ADV_NONCONN_IND"
	case EventScanRsp:
		return "SCAN_RSP"
	}
	return "UNKNOWN"
}

// Addr is a 48-bit device address stored in HCI byte order (least
// significant octet first, as the controller delivers it).
type Addr [6]byte

// String formats the address most-significant-octet-first with colon
// separators, regardless of the storage order.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a[5], a[4], a[3], a[2], a[1], a[0])
}

// ParseAddr parses a colon-separated MAC string into HCI byte order.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("invalid address %q", s)
	}
	for i, p := range parts {
		var b byte
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return a, fmt.Errorf("invalid address %q: %w", s, err)
		}
		a[5-i] = b
	}
	return a, nil
}

// MaxAdvDataLen is the link-layer maximum advertising payload size.
const MaxAdvDataLen = 31

// DiscoveryEvent is one advertising report. Data is the raw advertising
// payload; it is only valid for the duration of the handler call and must
// be copied if retained.
type DiscoveryEvent struct {
	Addr      Addr
	RSSI      int
	EventType EventType
	Data      []byte
}

// ScanParams configures a scan request. FilterDuplicates is deliberately a
// knob rather than a constant: both settings exist in deployed nodes.
type ScanParams struct {
	Interval         time.Duration
	Window           time.Duration
	FilterPolicy     uint8
	Passive          bool
	FilterDuplicates bool
}

// Handler receives the radio's asynchronous event stream. HandleDiscovery
// runs in the radio event context and must not block.
type Handler interface {
	HandleDiscovery(ev DiscoveryEvent)
	HandleScanComplete()
}

// Radio is the scan capability the pipeline consumes. Scan starts an
// asynchronous scan and returns immediately; events flow to the handler
// until the controller ends the scan, which is signalled via
// HandleScanComplete.
type Radio interface {
	Scan(params ScanParams, h Handler) error
}
