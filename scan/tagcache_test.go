package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"taglink/radio"
)

func tagAddr(i int) radio.Addr {
	return radio.Addr{byte(i), byte(i >> 8), 0x00, 0x00, 0xAA, 0x02}
}

func TestTagCacheAdmit(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := 5 * time.Second

	t.Run("first sighting admitted", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
	})

	t.Run("suppressed within interval", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
		assert.False(t, c.Admit(tagAddr(1), base.Add(time.Second), interval))
		assert.False(t, c.Admit(tagAddr(1), base.Add(interval-time.Millisecond), interval))
	})

	t.Run("admitted after interval elapses", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
		assert.True(t, c.Admit(tagAddr(1), base.Add(interval), interval))
	})

	t.Run("suppression window restarts on admit", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
		assert.True(t, c.Admit(tagAddr(1), base.Add(interval), interval))
		assert.False(t, c.Admit(tagAddr(1), base.Add(interval+time.Second), interval))
	})

	t.Run("burst at the same instant collapses to one", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
		assert.False(t, c.Admit(tagAddr(1), base, interval))
		assert.False(t, c.Admit(tagAddr(1), base, interval))
	})

	t.Run("zero interval disables suppression", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, 0))
		assert.True(t, c.Admit(tagAddr(1), base, 0))
		assert.True(t, c.Admit(tagAddr(1), base.Add(time.Millisecond), 0))
	})

	t.Run("independent per address", func(t *testing.T) {
		c := NewTagCache()
		assert.True(t, c.Admit(tagAddr(1), base, interval))
		assert.True(t, c.Admit(tagAddr(2), base, interval))
		assert.False(t, c.Admit(tagAddr(1), base.Add(time.Second), interval))
		assert.False(t, c.Admit(tagAddr(2), base.Add(time.Second), interval))
	})
}

func TestTagCacheEviction(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := time.Minute

	t.Run("fills to capacity", func(t *testing.T) {
		c := NewTagCache()
		for i := 0; i < TagCacheSize; i++ {
			assert.True(t, c.Admit(tagAddr(i), base.Add(time.Duration(i)*time.Second), interval))
		}
		assert.Equal(t, TagCacheSize, c.inUseCount())
	})

	t.Run("new address evicts the oldest publisher", func(t *testing.T) {
		c := NewTagCache()
		for i := 0; i < TagCacheSize; i++ {
			c.Admit(tagAddr(i), base.Add(time.Duration(i)*time.Second), interval)
		}

		assert.True(t, c.Admit(tagAddr(100), base.Add(time.Hour), interval))
		assert.Equal(t, TagCacheSize, c.inUseCount())
		assert.False(t, c.contains(tagAddr(0)), "oldest entry should be evicted")
		assert.True(t, c.contains(tagAddr(1)))
		assert.True(t, c.contains(tagAddr(100)))
	})

	t.Run("evicted address publishes immediately on return", func(t *testing.T) {
		c := NewTagCache()
		for i := 0; i < TagCacheSize; i++ {
			c.Admit(tagAddr(i), base.Add(time.Duration(i)*time.Second), interval)
		}
		c.Admit(tagAddr(100), base.Add(time.Minute), interval)

		// tagAddr(0) was evicted; its suppression history is gone even
		// though its interval has not elapsed.
		assert.True(t, c.Admit(tagAddr(0), base.Add(time.Minute+time.Second), interval))
		assert.False(t, c.contains(tagAddr(1)), "readmission claims the next-oldest slot")
	})
}
