package snapshot

import "sync/atomic"

// Cache holds the latest snapshot and health behind a single atomic pointer.
// Get never blocks and never fails; readers observe either the previous
// complete state or the next one, never a mix. Set and SetHealth are
// copy-on-write swaps and must only be called from the single refresh
// goroutine.
type Cache struct {
	state atomic.Pointer[cacheState]
}

type cacheState struct {
	snap   *Snapshot
	health Health
}

// NewCache returns a cache seeded with an empty snapshot and a down health
// state, so scrapes before the first refresh render cleanly.
func NewCache() *Cache {
	c := &Cache{}
	c.state.Store(&cacheState{snap: Empty()})
	return c
}

// Get returns the current snapshot and health.
func (c *Cache) Get() (*Snapshot, Health) {
	st := c.state.Load()
	return st.snap, st.health
}

// Update replaces the snapshot and health together in one swap, so a
// successful refresh becomes visible as a single consistent state.
func (c *Cache) Update(snap *Snapshot, h Health) {
	c.state.Store(&cacheState{snap: snap, health: h})
}

// Set replaces the snapshot, retaining the current health.
func (c *Cache) Set(snap *Snapshot) {
	cur := c.state.Load()
	c.state.Store(&cacheState{snap: snap, health: cur.health})
}

// SetHealth replaces the health, retaining the current snapshot.
func (c *Cache) SetHealth(h Health) {
	cur := c.state.Load()
	c.state.Store(&cacheState{snap: cur.snap, health: h})
}
