package scan

import (
	"sync"
	"time"

	"taglink/radio"
)

// TagCacheSize is the fixed number of tracked tag addresses. When the table
// is full the entry with the oldest publish time is evicted and reused.
const TagCacheSize = 32

type tagEntry struct {
	addr        radio.Addr
	lastPublish time.Time
	inUse       bool
}

// TagCache rate-limits per-tag publishes. All observed deployments drive it
// from a single event context, but it is locked anyway so moving dispatch
// to another goroutine cannot corrupt it.
type TagCache struct {
	mu      sync.Mutex
	entries [TagCacheSize]tagEntry
}

// NewTagCache returns an empty cache.
func NewTagCache() *TagCache {
	return &TagCache{}
}

// Admit reports whether a sighting of addr at now should be published given
// the reporting interval, and on true records now as the address's publish
// time before returning. Recording before the caller enqueues prevents a
// burst of sightings from enqueueing duplicates.
//
// An interval of zero disables suppression entirely.
func (c *TagCache) Admit(addr radio.Addr, now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.lookup(addr)
	if entry == nil {
		entry = c.allocate(addr)
	}

	if interval > 0 && !entry.lastPublish.IsZero() && now.Sub(entry.lastPublish) < interval {
		return false
	}

	entry.lastPublish = now
	return true
}

// lookup returns the in-use entry for addr, or nil.
func (c *TagCache) lookup(addr radio.Addr) *tagEntry {
	for i := range c.entries {
		if c.entries[i].inUse && c.entries[i].addr == addr {
			return &c.entries[i]
		}
	}
	return nil
}

// allocate claims a slot for addr: the first free one, or the in-use entry
// with the oldest publish time (ties broken by lowest index).
func (c *TagCache) allocate(addr radio.Addr) *tagEntry {
	for i := range c.entries {
		if !c.entries[i].inUse {
			c.entries[i] = tagEntry{addr: addr, inUse: true}
			return &c.entries[i]
		}
	}

	oldest := 0
	for i := 1; i < len(c.entries); i++ {
		if c.entries[i].lastPublish.Before(c.entries[oldest].lastPublish) {
			oldest = i
		}
	}

	c.entries[oldest] = tagEntry{addr: addr, inUse: true}
	return &c.entries[oldest]
}

// contains reports whether addr currently occupies a slot.
func (c *TagCache) contains(addr radio.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(addr) != nil
}

// inUseCount returns the number of occupied slots.
func (c *TagCache) inUseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.entries {
		if c.entries[i].inUse {
			n++
		}
	}
	return n
}
