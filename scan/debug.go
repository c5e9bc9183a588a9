package scan

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"taglink/radio"
)

// debugQueueDepth bounds the diagnostic capture queue. Overflow is dropped
// silently: the dump is best-effort and must never slow the pipeline.
const debugQueueDepth = 16

// debugSink captures raw advertising reports for human inspection. Captures
// are copied into a bounded queue in the event context and pretty-printed by
// a low-priority worker.
type debugSink struct {
	log     *logrus.Logger
	enabled atomic.Bool
	q       *queue[radio.DiscoveryEvent]
}

func newDebugSink(log *logrus.Logger) *debugSink {
	return &debugSink{
		log: log,
		q:   newQueue[radio.DiscoveryEvent](debugQueueDepth),
	}
}

func (d *debugSink) isEnabled() bool {
	return d.enabled.Load()
}

// setEnabled toggles the sink. Enabling flushes captures queued while the
// sink was off so the dump starts with live traffic.
func (d *debugSink) setEnabled(on bool) {
	if on {
		d.q.flush()
	}
	d.enabled.Store(on)
}

// capture copies the event into the queue. The advertising data is cloned
// because the radio may reuse its buffer after the callback returns.
func (d *debugSink) capture(ev radio.DiscoveryEvent) {
	if !d.enabled.Load() {
		return
	}
	cp := ev
	cp.Data = append([]byte(nil), ev.Data...)
	d.q.trySend(cp)
}

// run drains the queue until stop closes.
func (d *debugSink) run(stop <-chan struct{}) {
	for {
		ev, ok := d.q.receive(stop)
		if !ok {
			return
		}
		if d.enabled.Load() {
			d.logAdvertisement(ev)
		}
	}
}

func (d *debugSink) logAdvertisement(ev radio.DiscoveryEvent) {
	fields := ParseFields(ev.Data)

	entry := d.log.WithFields(logrus.Fields{
		"addr": ev.Addr.String(),
		"type": ev.EventType.String(),
		"rssi": ev.RSSI,
	})
	if fields.Name != "" {
		entry = entry.WithField("name", fields.Name)
	}
	if fields.HasTxPower {
		entry = entry.WithField("tx_power", fields.TxPower)
	}
	if fields.HasManufacturer {
		entry = entry.WithField("manufacturer_id", fmt.Sprintf("0x%04X", fields.ManufacturerID))
		if h := fields.ManufacturerHex(); h != "" {
			entry = entry.WithField("manufacturer_data", h)
		}
	}
	if ib, ok := fields.IBeacon(); ok {
		entry = entry.WithFields(logrus.Fields{
			"ibeacon_uuid":  ib.UUIDHex(),
			"ibeacon_major": ib.Major,
			"ibeacon_minor": ib.Minor,
			"ibeacon_tx":    ib.Tx,
		})
	}
	if len(fields.UUID16) > 0 {
		uuids := make([]string, 0, len(fields.UUID16))
		for _, u := range fields.UUID16 {
			uuids = append(uuids, fmt.Sprintf("0x%04X", u))
		}
		entry = entry.WithField("uuid16", strings.Join(uuids, ","))
	}
	entry.WithField("raw", strings.ToUpper(hex.EncodeToString(ev.Data))).Debug("advertisement")
}
