package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// BLERadio drives scanning through the host controller via go-ble. The
// device is opened lazily on the first scan request and reused for
// restarts.
type BLERadio struct {
	log *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewBLERadio returns an unopened radio. The controller is not touched
// until Scan is called.
func NewBLERadio(log *logrus.Logger) *BLERadio {
	if log == nil {
		log = logrus.New()
	}
	return &BLERadio{log: log}
}

// Scan opens the controller if needed and starts an asynchronous scan.
// Discovery events flow to h until the platform stack ends the scan, which
// is reported through HandleScanComplete so the caller can restart.
func (r *BLERadio) Scan(params ScanParams, h Handler) error {
	r.mu.Lock()
	if r.dev == nil {
		dev, err := newPlatformDevice(params)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("open BLE device: %w", err)
		}
		r.dev = dev
	}
	dev := r.dev
	r.mu.Unlock()

	allowDuplicates := !params.FilterDuplicates

	go func() {
		err := dev.Scan(context.Background(), allowDuplicates, func(adv ble.Advertisement) {
			h.HandleDiscovery(eventFromAdvertisement(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.WithError(err).Warn("BLE scan ended")
		}
		h.HandleScanComplete()
	}()

	return nil
}

// eventFromAdvertisement normalizes a platform advertisement into a
// discovery event carrying canonical AD bytes.
func eventFromAdvertisement(adv ble.Advertisement) DiscoveryEvent {
	addr, err := ParseAddr(adv.Addr().String())
	if err != nil {
		addr = Addr{}
	}

	eventType := EventNonconnInd
	if adv.Connectable() {
		eventType = EventADVInd
	}

	var pkt Packet
	if name := adv.LocalName(); name != "" {
		pkt.AppendName(name)
	}
	if mfg := adv.ManufacturerData(); len(mfg) >= 2 {
		pkt.AppendManufacturerRaw(mfg)
	}
	// The stack reports 0 for an absent TX power structure; a true 0 dBm
	// level is indistinguishable and rare enough to ignore.
	if tx := adv.TxPowerLevel(); tx != 0 && tx >= -127 && tx <= 20 {
		pkt.AppendTxPower(int8(tx))
	}
	var uuid16 []uint16
	for _, u := range adv.Services() {
		switch len(u) {
		case 2:
			uuid16 = append(uuid16, uint16(u[0])|uint16(u[1])<<8)
		case 16:
			var full [16]byte
			copy(full[:], u)
			pkt.AppendUUID128(full)
		}
	}
	if len(uuid16) > 0 {
		pkt.AppendUUID16List(uuid16)
	}

	return DiscoveryEvent{
		Addr:      addr,
		RSSI:      adv.RSSI(),
		EventType: eventType,
		Data:      pkt.Bytes(),
	}
}
