package cache

import "sync/atomic"

// Counters tracks cache activity for the lifetime of a Cache instance. They
// are owned by the instance rather than living as package globals, so tests
// and multiple caches stay isolated.
type Counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
	errors atomic.Uint64
}

// Stats is a point-in-time snapshot of the counters. No cross-counter
// atomicity is provided; the snapshot is consistent enough for reporting.
type Stats struct {
	Hits   uint64
	Misses uint64
	Writes uint64
	Errors uint64
}

// Snapshot reads the current counter values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
		Errors: c.errors.Load(),
	}
}

// Reset zeroes all counters. Called only together with an explicit Clear.
func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.writes.Store(0)
	c.errors.Store(0)
}
