package webhook

import (
	"sync"
	"time"
)

// Dedup drops transaction signatures that were already processed within a
// time-to-live window. Webhook providers redeliver on slow responses, so a
// replay is normal operation, not an error. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // signature -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a signature as a duplicate when it
// was seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether the signature was seen within the TTL window.
// An unseen or expired signature is recorded and false is returned.
func (d *Dedup) IsDuplicate(signature string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[signature]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[signature] = now
	return false
}

// Cleanup removes entries that have expired beyond the TTL. Called
// periodically to keep the map bounded.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for sig, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, sig)
		}
	}
}
