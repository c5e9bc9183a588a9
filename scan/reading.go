package scan

import (
	"encoding/json"
	"fmt"
	"time"

	"taglink/config"
	"taglink/radio"
)

const (
	// MaxTopicLen bounds the MQTT topic string.
	MaxTopicLen = 159
	// MaxPayloadLen bounds the JSON payload. Optional fields that would
	// overflow it are dropped rather than producing an invalid message.
	MaxPayloadLen = 511
)

// Topic patterns. Which one applies depends on whether a beacon identity
// has been assigned to this node.
const (
	readingTopicFormat   = "beacons/%s/readings"
	inventoryTopicFormat = "scanners/%s/inventory"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Format turns one discovery into a publishable message. With a beacon
// identity configured it produces a reading on the beacon's topic;
// otherwise a discovery record on the scanner's inventory topic. The
// second return value reports whether any field was dropped for size.
//
// Field order and presence rules are a wire contract with the downstream
// consumer; do not reorder.
func Format(ev radio.DiscoveryEvent, fields Fields, id config.Identity, scannerID string, now time.Time) (Message, bool) {
	addr := ev.Addr.String()
	timestamp := now.UTC().Format(timestampLayout)

	if id.BeaconID == "" {
		return formatDiscovery(ev, fields, scannerID, addr, timestamp)
	}
	return formatReading(ev, fields, id, addr, timestamp)
}

func formatReading(ev radio.DiscoveryEvent, fields Fields, id config.Identity, addr, timestamp string) (Message, bool) {
	tagID := fields.Name
	if tagID == "" {
		tagID = addr
	}

	b := newBoundedBuilder(MaxPayloadLen)
	// The mandatory prefix always fits: every input is bounded well below
	// the payload cap.
	b.writef(1, `{"beacon_id":%s,"tag_id":%s,"rssi":%d,"timestamp":%s,"beacon_location":{"x":%.2f,"y":%.2f,"z":%.2f}`,
		quote(id.BeaconID), quote(tagID), ev.RSSI, quote(timestamp),
		id.Location.X, id.Location.Y, id.Location.Z)

	appendOptionalFields(b, fields)
	b.writef(0, "}")

	return Message{
		Topic:   boundTopic(fmt.Sprintf(readingTopicFormat, id.BeaconID)),
		Payload: b.String(),
	}, b.truncated
}

func formatDiscovery(ev radio.DiscoveryEvent, fields Fields, scannerID, addr, timestamp string) (Message, bool) {
	tagName := fields.Name
	if tagName == "" {
		tagName = addr
	}

	b := newBoundedBuilder(MaxPayloadLen)
	b.writef(1, `{"scanner_id":%s,"tag_address":%s,"tag_name":%s,"rssi":%d,"timestamp":%s`,
		quote(scannerID), quote(addr), quote(tagName), ev.RSSI, quote(timestamp))

	appendOptionalFields(b, fields)
	b.writef(1, `,"event_type":%s`, quote(ev.EventType.String()))
	b.writef(0, "}")

	return Message{
		Topic:   boundTopic(fmt.Sprintf(inventoryTopicFormat, scannerID)),
		Payload: b.String(),
	}, b.truncated
}

// appendOptionalFields adds the manufacturer and TX power fields shared by
// both payload shapes, each one skipped wholesale if it would overflow.
func appendOptionalFields(b *boundedBuilder, fields Fields) {
	if fields.HasManufacturer {
		b.writef(1, `,"manufacturer_id":%d`, fields.ManufacturerID)
	}
	if hexData := fields.ManufacturerHex(); hexData != "" {
		b.writef(1, `,"manufacturer_data":%s`, quote(hexData))
	}
	if fields.HasTxPower {
		b.writef(1, `,"tx_power":%d`, fields.TxPower)
	}
}

// boundedBuilder assembles a payload with a hard size cap. Every append is
// size-checked; a chunk that does not fit is skipped whole and the builder
// marked truncated, so the output stays valid JSON.
type boundedBuilder struct {
	buf       []byte
	max       int
	truncated bool
}

func newBoundedBuilder(max int) *boundedBuilder {
	return &boundedBuilder{buf: make([]byte, 0, max), max: max}
}

// writef appends a formatted chunk, keeping reserve bytes available for
// whatever must still follow (the closing brace). Returns false and marks
// the builder truncated when the chunk does not fit.
func (b *boundedBuilder) writef(reserve int, format string, args ...interface{}) bool {
	s := fmt.Sprintf(format, args...)
	if len(b.buf)+len(s)+reserve > b.max {
		b.truncated = true
		return false
	}
	b.buf = append(b.buf, s...)
	return true
}

func (b *boundedBuilder) String() string { return string(b.buf) }

// quote JSON-encodes a string value, including the surrounding quotes.
func quote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}

// boundTopic enforces the topic length cap. Inputs are bounded such that
// this never truncates in practice.
func boundTopic(topic string) string {
	if len(topic) > MaxTopicLen {
		return topic[:MaxTopicLen]
	}
	return topic
}
