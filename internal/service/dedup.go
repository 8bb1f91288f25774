package service

import (
	"sync"
	"time"
)

// Dedup suppresses repeated order submissions carrying the same client key
// within a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // client key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a client key as a duplicate when it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether the key was recorded within the TTL window.
// Checking never records; a key enters the window only through Record, so a
// request that was rejected or failed upstream stays retryable.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	lastSeen, ok := d.seen[key]
	return ok && time.Since(lastSeen) < d.ttl
}

// Record marks the key as seen, starting its TTL window.
func (d *Dedup) Record(key string) {
	d.mu.Lock()
	d.seen[key] = time.Now()
	d.mu.Unlock()
}

// Forget drops the key before its TTL expires. Called when the order behind
// it reaches a terminal state, so an identical follow-up placement is not
// mistaken for a duplicate of a finished order.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries. Called periodically to prevent unbounded
// memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
