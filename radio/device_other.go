//go:build !linux && !darwin

package radio

import (
	"fmt"

	"github.com/go-ble/ble"
)

func newPlatformDevice(_ ScanParams) (ble.Device, error) {
	return nil, fmt.Errorf("BLE scanning is not supported on this platform")
}
