package scan

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglink/radio"
)

func debugTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func ibeaconEvent(t *testing.T) radio.DiscoveryEvent {
	t.Helper()

	frame := make([]byte, 0, 23)
	frame = append(frame, 0x02, 0x15)
	frame = append(frame,
		0xF7, 0x82, 0x6D, 0xA6, 0x4F, 0xA2, 0x4E, 0x98,
		0x80, 0x24, 0xBC, 0x5B, 0x71, 0xE0, 0x89, 0x3E)
	frame = append(frame, 0x01, 0x02) // major 258
	frame = append(frame, 0x00, 0x07) // minor 7
	frame = append(frame, 0xC5)       // tx -59

	var p radio.Packet
	require.True(t, p.AppendManufacturer(0x004C, frame))

	return radio.DiscoveryEvent{
		Addr:      tagAddr(1),
		RSSI:      -60,
		EventType: radio.EventADVInd,
		Data:      p.Bytes(),
	}
}

func TestDebugSinkLogsIBeaconFields(t *testing.T) {
	log, hook := debugTestLogger()
	d := newDebugSink(log)

	d.logAdvertisement(ibeaconEvent(t))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "advertisement", entry.Message)
	assert.Equal(t, tagAddr(1).String(), entry.Data["addr"])
	assert.Equal(t, "ADV_IND", entry.Data["type"])
	assert.Equal(t, -60, entry.Data["rssi"])
	assert.Equal(t, "0x004C", entry.Data["manufacturer_id"])
	assert.Equal(t, "F7826DA6-4FA2-4E98-8024-BC5B71E0893E", entry.Data["ibeacon_uuid"])
	assert.Equal(t, uint16(258), entry.Data["ibeacon_major"])
	assert.Equal(t, uint16(7), entry.Data["ibeacon_minor"])
	assert.Equal(t, int8(-59), entry.Data["ibeacon_tx"])
}

func TestDebugSinkLogsPlainAdvertisement(t *testing.T) {
	log, hook := debugTestLogger()
	d := newDebugSink(log)

	var p radio.Packet
	require.True(t, p.AppendName("tagA"))
	require.True(t, p.AppendTxPower(-8))
	d.logAdvertisement(radio.DiscoveryEvent{
		Addr:      tagAddr(2),
		RSSI:      -55,
		EventType: radio.EventNonconnInd,
		Data:      p.Bytes(),
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "tagA", entry.Data["name"])
	assert.Equal(t, int8(-8), entry.Data["tx_power"])
	assert.NotContains(t, entry.Data, "ibeacon_uuid")
}

func TestDebugSinkCaptureGatedByEnable(t *testing.T) {
	log, _ := debugTestLogger()
	d := newDebugSink(log)
	ev := ibeaconEvent(t)

	d.capture(ev)
	assert.Equal(t, 0, d.q.depth(), "disabled sink drops captures")

	d.setEnabled(true)
	d.capture(ev)
	assert.Equal(t, 1, d.q.depth())
}

func TestDebugSinkDrainsThroughWorker(t *testing.T) {
	log, hook := debugTestLogger()
	d := newDebugSink(log)
	d.setEnabled(true)
	d.capture(ibeaconEvent(t))

	stop := make(chan struct{})
	go d.run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		return len(hook.AllEntries()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "advertisement", hook.LastEntry().Message)
}

func TestDebugSinkFlushOnEnable(t *testing.T) {
	log, _ := debugTestLogger()
	d := newDebugSink(log)

	d.setEnabled(true)
	d.capture(ibeaconEvent(t))
	d.setEnabled(false)

	// Re-enabling discards whatever queued while the sink was last on, so
	// the dump starts with live traffic.
	d.setEnabled(true)
	assert.Equal(t, 0, d.q.depth())
}
