// Package config handles configuration persistence for the taglink node.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxBeaconIDLen is the maximum length of a beacon identifier in bytes.
// Longer values are truncated on load and on update so the wire payloads
// stay within their size contracts.
const MaxBeaconIDLen = 31

// DefaultReportingIntervalMS is the per-tag publish rate limit applied when
// no interval has been configured.
const DefaultReportingIntervalMS = 5000

// Location is the physical position of this node in the site coordinate frame.
type Location struct {
	X float32 `yaml:"x" json:"x"`
	Y float32 `yaml:"y" json:"y"`
	Z float32 `yaml:"z" json:"z"`
}

// Identity is the beacon identity snapshot consumed by the scan pipeline.
// It is always replaced as a whole, never mutated field by field.
type Identity struct {
	BeaconID            string   `yaml:"beacon_id"`
	Location            Location `yaml:"location"`
	ReportingIntervalMS uint32   `yaml:"reporting_interval_ms"`
}

// Interval returns the reporting interval as a duration. Zero means
// duplicate suppression is disabled.
func (id Identity) Interval() time.Duration {
	return time.Duration(id.ReportingIntervalMS) * time.Millisecond
}

// MQTTConfig holds the outbound broker settings. An empty URI means the node
// relies on mDNS discovery to locate a broker.
type MQTTConfig struct {
	URI           string `yaml:"uri"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify,omitempty"`
}

// ScanConfig holds the radio scan parameters. Two presets exist in the
// field (duplicate filtering on and off); the knob is explicit here rather
// than baked in.
type ScanConfig struct {
	IntervalMS       uint32 `yaml:"interval_ms"`
	WindowMS         uint32 `yaml:"window_ms"`
	FilterPolicy     uint8  `yaml:"filter_policy"`
	Passive          bool   `yaml:"passive"`
	FilterDuplicates bool   `yaml:"filter_duplicates"`
}

// WebConfig holds the read-only status HTTP server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Config is the complete persisted node configuration. It is a plain data
// struct; concurrency and persistence are handled by Store.
type Config struct {
	Identity Identity   `yaml:"identity"`
	MQTT     MQTTConfig `yaml:"mqtt"`
	Scan     ScanConfig `yaml:"scan"`
	Web      WebConfig  `yaml:"web"`
	Debug    bool       `yaml:"debug,omitempty"`
	LogLevel string     `yaml:"log_level,omitempty"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taglink.yaml"
	}
	return filepath.Join(home, ".config", "taglink", "taglink.yaml")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Identity: Identity{
			ReportingIntervalMS: DefaultReportingIntervalMS,
		},
		Scan: ScanConfig{
			IntervalMS:       80,
			WindowMS:         80,
			FilterPolicy:     0,
			Passive:          false,
			FilterDuplicates: false,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		LogLevel: "info",
	}
}

// sanitize enforces field bounds after load or update.
func (c *Config) sanitize() {
	if len(c.Identity.BeaconID) > MaxBeaconIDLen {
		c.Identity.BeaconID = c.Identity.BeaconID[:MaxBeaconIDLen]
	}
	if c.Scan.IntervalMS == 0 {
		c.Scan.IntervalMS = 80
	}
	if c.Scan.WindowMS == 0 || c.Scan.WindowMS > c.Scan.IntervalMS {
		c.Scan.WindowMS = c.Scan.IntervalMS
	}
}

// load reads and parses the config file at path. A missing file yields the
// defaults rather than an error so a fresh node can boot unprovisioned.
func load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.sanitize()
	return cfg, nil
}

// write marshals cfg and writes it to path, creating parent directories.
func write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
