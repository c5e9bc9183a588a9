// Package control handles remote assignment commands for the node: the
// tracking server assigns or clears the beacon identity over MQTT and can
// query state or request a restart.
package control

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taglink/config"
	"taglink/mqtt"
)

// Transport is the MQTT capability the controller needs. *mqtt.Service
// satisfies it.
type Transport interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Publish(topic, payload string) error
}

// command is the inbound control message. Location coordinates use
// pointers so an assign can update a subset of them.
type command struct {
	Command  string `json:"command"`
	BeaconID string `json:"beacon_id"`
	Location *struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		Z *float64 `json:"z"`
	} `json:"location"`
}

// Controller listens on scanners/<id>/control and reports on
// scanners/<id>/state.
type Controller struct {
	log       *logrus.Logger
	store     *config.Store
	transport Transport

	controlTopic string
	stateTopic   string

	// restart is invoked by the reset command. Wired by main; nil means
	// the command is acknowledged but refused.
	restart func()

	now func() time.Time
}

// New creates a controller for the given scanner ID. Start must be called
// to subscribe.
func New(store *config.Store, transport Transport, scannerID string, log *logrus.Logger) (*Controller, error) {
	if scannerID == "" {
		return nil, fmt.Errorf("scanner ID unavailable")
	}
	if log == nil {
		log = logrus.New()
	}
	return &Controller{
		log:          log,
		store:        store,
		transport:    transport,
		controlTopic: fmt.Sprintf("scanners/%s/control", scannerID),
		stateTopic:   fmt.Sprintf("scanners/%s/state", scannerID),
		now:          time.Now,
	}, nil
}

// SetRestartFunc installs the hook run by the reset command.
func (c *Controller) SetRestartFunc(fn func()) {
	c.restart = fn
}

// Start subscribes to the control topic.
func (c *Controller) Start() error {
	if err := c.transport.Subscribe(c.controlTopic, c.handleMessage); err != nil {
		return fmt.Errorf("subscribe control topic: %w", err)
	}
	c.log.WithField("topic", c.controlTopic).Info("beacon control listening")
	return nil
}

func (c *Controller) handleMessage(topic string, payload []byte) {
	if topic != c.controlTopic {
		return
	}

	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.log.WithError(err).Warn("failed to parse control payload")
		return
	}
	if cmd.Command == "" {
		c.log.Warn("control payload missing command")
		return
	}

	switch cmd.Command {
	case "assign":
		c.handleAssign(cmd)
	case "clear":
		c.handleClear()
	case "state":
		c.publishState("state", "")
	case "reset":
		c.handleReset()
	default:
		c.log.WithField("command", cmd.Command).Warn("unknown control command")
	}
}

func (c *Controller) handleAssign(cmd command) {
	if cmd.BeaconID == "" {
		c.log.Warn("assign command missing beacon_id")
		return
	}

	err := c.store.Update(func(cfg *config.Config) {
		cfg.Identity.BeaconID = cmd.BeaconID
		if cmd.Location != nil {
			if cmd.Location.X != nil {
				cfg.Identity.Location.X = float32(*cmd.Location.X)
			}
			if cmd.Location.Y != nil {
				cfg.Identity.Location.Y = float32(*cmd.Location.Y)
			}
			if cmd.Location.Z != nil {
				cfg.Identity.Location.Z = float32(*cmd.Location.Z)
			}
		}
	})
	if err != nil {
		c.log.WithError(err).Error("failed to persist assigned identity")
		c.publishState("error", "persist_failed")
		return
	}

	c.log.WithField("beacon_id", c.store.Identity().BeaconID).Info("beacon identity assigned")
	c.publishState("assigned", "")
}

func (c *Controller) handleClear() {
	if c.store.Identity().BeaconID == "" {
		c.log.Info("beacon identity already cleared")
		c.publishState("cleared", "")
		return
	}

	err := c.store.Update(func(cfg *config.Config) {
		cfg.Identity.BeaconID = ""
	})
	if err != nil {
		c.log.WithError(err).Error("failed to persist cleared identity")
		c.publishState("error", "clear_failed")
		return
	}

	c.log.Info("beacon identity cleared; returning to discovery mode")
	c.publishState("cleared", "")
}

func (c *Controller) handleReset() {
	c.publishState("rebooting", "")

	if c.restart == nil {
		c.log.Warn("reset command received but no restart hook is wired")
		return
	}
	c.log.Warn("reset command received; restarting")
	c.restart()
}

// publishState emits the node state. Field order is a wire contract.
func (c *Controller) publishState(status, errMsg string) {
	id := c.store.Identity()
	timestamp := c.now().UTC().Format("2006-01-02T15:04:05Z")

	var b strings.Builder
	fmt.Fprintf(&b, `{"status":%s,"timestamp":%s,"beacon_id":%s`,
		jsonString(status), jsonString(timestamp), jsonString(id.BeaconID))
	if errMsg != "" {
		fmt.Fprintf(&b, `,"error":%s`, jsonString(errMsg))
	}
	fmt.Fprintf(&b, `,"location":{"x":%.2f,"y":%.2f,"z":%.2f}}`,
		id.Location.X, id.Location.Y, id.Location.Z)

	if err := c.transport.Publish(c.stateTopic, b.String()); err != nil {
		c.log.WithError(err).Warn("failed to publish state")
	}
}

func jsonString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
