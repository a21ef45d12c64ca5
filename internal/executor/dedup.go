package executor

import (
	"sync"
	"time"
)

// Dedup remembers recently processed signal IDs so a replayed or mirrored
// signal cannot place a second order inside the TTL window. Safe for
// concurrent use.
type Dedup struct {
	mu       sync.Mutex
	deadline map[string]time.Time // signal ID -> entry expiry
	ttl      time.Duration
}

// NewDedup creates a Dedup with the given suppression window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		deadline: make(map[string]time.Time),
		ttl:      ttl,
	}
}

// IsDuplicate reports whether signalID was seen inside the window. A miss
// (or an expired entry) records the ID and returns false.
func (d *Dedup) IsDuplicate(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if until, ok := d.deadline[signalID]; ok && now.Before(until) {
		return true
	}
	d.deadline[signalID] = now.Add(d.ttl)
	return false
}

// Cleanup drops expired entries. The executor calls this on a ticker so the
// map cannot grow without bound.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, until := range d.deadline {
		if !now.Before(until) {
			delete(d.deadline, id)
		}
	}
}
