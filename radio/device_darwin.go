//go:build darwin

package radio

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newPlatformDevice opens the CoreBluetooth central. Scan interval, window
// and filter policy are controller-owned on this platform and the requested
// values are ignored.
func newPlatformDevice(_ ScanParams) (ble.Device, error) {
	return darwin.NewDevice()
}
