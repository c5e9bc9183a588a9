//go:build linux

package radio

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// newPlatformDevice opens the first HCI controller with the requested scan
// parameters applied at the link layer.
func newPlatformDevice(p ScanParams) (ble.Device, error) {
	scanType := uint8(1) // active
	if p.Passive {
		scanType = 0
	}

	return linux.NewDevice(ble.OptScanParams(cmd.LESetScanParameters{
		LEScanType:           scanType,
		LEScanInterval:       scanUnits(p.Interval),
		LEScanWindow:         scanUnits(p.Window),
		OwnAddressType:       0,
		ScanningFilterPolicy: p.FilterPolicy,
	}))
}

// scanUnits converts a duration to HCI scan units of 0.625 ms, clamped to
// the range the controller accepts (0x0004..0x4000).
func scanUnits(d time.Duration) uint16 {
	units := d / (625 * time.Microsecond)
	if units < 0x0004 {
		units = 0x0004
	}
	if units > 0x4000 {
		units = 0x4000
	}
	return uint16(units)
}
