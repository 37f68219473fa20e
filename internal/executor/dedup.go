package executor

import (
	"sync"
	"time"
)

// Dedup prevents an instruction set from being handed to the order router
// more than once within a time-to-live window. Live submissions retry on
// transient bus errors, so the same set ID can reach the sink twice. It is
// safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // set ID -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a set a duplicate if it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if the set ID has been seen within the TTL window.
// If the set has not been seen (or has expired), it is recorded and false is
// returned.
func (d *Dedup) IsDuplicate(setID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[setID]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[setID] = now
	return false
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
