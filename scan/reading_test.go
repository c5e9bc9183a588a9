package scan

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglink/config"
	"taglink/radio"
)

var formatTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testEvent(t *testing.T, name string) (radio.DiscoveryEvent, Fields) {
	t.Helper()

	var p radio.Packet
	if name != "" {
		require.True(t, p.AppendName(name))
	}
	addr, err := radio.ParseAddr("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	ev := radio.DiscoveryEvent{
		Addr:      addr,
		RSSI:      -60,
		EventType: radio.EventADVInd,
		Data:      p.Bytes(),
	}
	return ev, ParseFields(ev.Data)
}

func TestFormatReading(t *testing.T) {
	id := config.Identity{
		BeaconID: "b1",
		Location: config.Location{X: 1.5, Y: 2, Z: 0},
	}

	t.Run("exact wire shape", func(t *testing.T) {
		ev, fields := testEvent(t, "tagA")

		msg, truncated := Format(ev, fields, id, "scanner-1", formatTime)
		assert.False(t, truncated)
		assert.Equal(t, "beacons/b1/readings", msg.Topic)
		assert.Equal(t,
			`{"beacon_id":"b1","tag_id":"tagA","rssi":-60,"timestamp":"2026-01-02T03:04:05Z","beacon_location":{"x":1.50,"y":2.00,"z":0.00}}`,
			msg.Payload)
	})

	t.Run("address stands in for a missing name", func(t *testing.T) {
		ev, fields := testEvent(t, "")

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", decoded["tag_id"])
	})

	t.Run("timestamp converts to UTC", func(t *testing.T) {
		ev, fields := testEvent(t, "tagA")
		zone := time.FixedZone("UTC+2", 2*3600)

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime.In(zone))
		assert.Contains(t, msg.Payload, `"timestamp":"2026-01-02T03:04:05Z"`)
	})

	t.Run("optional fields in order", func(t *testing.T) {
		var p radio.Packet
		require.True(t, p.AppendName("tagA"))
		require.True(t, p.AppendManufacturer(0x0499, []byte{0x01, 0x02}))
		require.True(t, p.AppendTxPower(-8))

		ev, fields := testEvent(t, "")
		ev.Data = p.Bytes()
		fields = ParseFields(ev.Data)

		msg, truncated := Format(ev, fields, id, "scanner-1", formatTime)
		assert.False(t, truncated)
		assert.Contains(t, msg.Payload,
			`"manufacturer_id":1177,"manufacturer_data":"0102","tx_power":-8}`)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	})

	t.Run("manufacturer id without payload omits data field", func(t *testing.T) {
		var p radio.Packet
		require.True(t, p.AppendManufacturer(0x004C, nil))

		ev, fields := testEvent(t, "tagA")
		ev.Data = p.Bytes()
		fields = ParseFields(ev.Data)

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime)
		assert.Contains(t, msg.Payload, `"manufacturer_id":76`)
		assert.NotContains(t, msg.Payload, "manufacturer_data")
	})

	t.Run("quotes escape through encoding", func(t *testing.T) {
		ev, fields := testEvent(t, `tag"A`)

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		assert.Equal(t, `tag"A`, decoded["tag_id"])
	})
}

func TestFormatDiscovery(t *testing.T) {
	// No beacon identity assigned: discovery record on the inventory topic.
	var id config.Identity

	t.Run("inventory shape", func(t *testing.T) {
		ev, fields := testEvent(t, "tagA")

		msg, truncated := Format(ev, fields, id, "scanner-1", formatTime)
		assert.False(t, truncated)
		assert.Equal(t, "scanners/scanner-1/inventory", msg.Topic)
		assert.Equal(t,
			`{"scanner_id":"scanner-1","tag_address":"AA:BB:CC:DD:EE:FF","tag_name":"tagA","rssi":-60,"timestamp":"2026-01-02T03:04:05Z","event_type":"ADV_IND"}`,
			msg.Payload)
	})

	t.Run("event type reflects the report", func(t *testing.T) {
		ev, fields := testEvent(t, "tagA")
		ev.EventType = radio.EventNonconnInd

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime)
		assert.Contains(t, msg.Payload, `"event_type":"ADV_NONCONN_IND"`)
	})

	t.Run("address stands in for a missing name", func(t *testing.T) {
		ev, fields := testEvent(t, "")

		msg, _ := Format(ev, fields, id, "scanner-1", formatTime)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", decoded["tag_name"])
	})
}

func TestFormatTruncation(t *testing.T) {
	id := config.Identity{BeaconID: "b1"}
	ev, _ := testEvent(t, "tagA")

	// Oversized manufacturer payload fed in directly: the hex field alone
	// would blow the payload cap, so it is skipped whole.
	fields := Fields{
		Name:             "tagA",
		HasManufacturer:  true,
		ManufacturerID:   0x0499,
		ManufacturerData: make([]byte, 300),
		HasTxPower:       true,
		TxPower:          -8,
	}

	msg, truncated := Format(ev, fields, id, "scanner-1", formatTime)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(msg.Payload), MaxPayloadLen)
	assert.NotContains(t, msg.Payload, "manufacturer_data")
	assert.True(t, strings.HasSuffix(msg.Payload, `"tx_power":-8}`))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded),
		"truncated payload must still be valid JSON")
}
