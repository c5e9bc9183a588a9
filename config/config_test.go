package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, uint32(DefaultReportingIntervalMS), cfg.Identity.ReportingIntervalMS)
	assert.Empty(t, cfg.Identity.BeaconID)
	assert.Equal(t, uint32(80), cfg.Scan.IntervalMS)
	assert.Equal(t, uint32(80), cfg.Scan.WindowMS)
	assert.False(t, cfg.Scan.FilterDuplicates)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, 8080, cfg.Web.Port)
}

func TestIdentityInterval(t *testing.T) {
	tests := []struct {
		name     string
		ms       uint32
		expected time.Duration
	}{
		{"default", 5000, 5 * time.Second},
		{"zero disables suppression", 0, 0},
		{"sub-second", 250, 250 * time.Millisecond},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id := Identity{ReportingIntervalMS: tc.ms}
			assert.Equal(t, tc.expected, id.Interval())
		})
	}
}

func TestSanitize(t *testing.T) {
	t.Run("beacon id truncated to bound", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Identity.BeaconID = strings.Repeat("b", 50)
		cfg.sanitize()
		assert.Len(t, cfg.Identity.BeaconID, MaxBeaconIDLen)
	})

	t.Run("window clamped to interval", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Scan.IntervalMS = 100
		cfg.Scan.WindowMS = 200
		cfg.sanitize()
		assert.Equal(t, uint32(100), cfg.Scan.WindowMS)
	})
}

func TestStoreLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taglink.yaml")

	store, err := Open(path)
	require.NoError(t, err)

	cfg := store.Get()
	assert.Equal(t, uint32(DefaultReportingIntervalMS), cfg.Identity.ReportingIntervalMS)
	assert.False(t, store.HasBrokerURI())
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taglink.yaml")

	store, err := Open(path)
	require.NoError(t, err)

	err = store.Update(func(c *Config) {
		c.Identity.BeaconID = "b1"
		c.Identity.Location = Location{X: 1.5, Y: 2.0}
		c.MQTT.URI = "mqtt://broker.local:1883"
	})
	require.NoError(t, err)
	assert.True(t, store.HasBrokerURI())

	// Reopen from disk and confirm persistence.
	reloaded, err := Open(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, "b1", cfg.Identity.BeaconID)
	assert.Equal(t, float32(1.5), cfg.Identity.Location.X)
	assert.Equal(t, "mqtt://broker.local:1883", cfg.MQTT.URI)
}

func TestStoreLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taglink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity: [not a map"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestStoreListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taglink.yaml")

	store, err := Open(path)
	require.NoError(t, err)

	var got []Config
	id := store.AddListener(func(cfg Config) {
		got = append(got, cfg)
	})

	// Registration delivers the current snapshot immediately.
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Identity.BeaconID)

	require.NoError(t, store.Update(func(c *Config) {
		c.Identity.BeaconID = "b2"
	}))
	require.Len(t, got, 2)
	assert.Equal(t, "b2", got[1].Identity.BeaconID)

	store.RemoveListener(id)
	require.NoError(t, store.Update(func(c *Config) {
		c.Identity.BeaconID = "b3"
	}))
	assert.Len(t, got, 2)
}

func TestStoreUpdateIsWholeValueSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taglink.yaml")

	store, err := Open(path)
	require.NoError(t, err)

	before := store.Identity()
	_ = store.Update(func(c *Config) {
		c.Identity.BeaconID = "swap"
	})

	// The snapshot taken before the update is unaffected.
	assert.Empty(t, before.BeaconID)
	assert.Equal(t, "swap", store.Identity().BeaconID)
}
