package session

import (
	"context"
	"sync"
	"time"
)

// MemoryDedup is the in-process DedupStore used when redis is not
// configured. Entries expire after ttl; pruning happens inline.
type MemoryDedup struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// NewMemoryDedup creates an in-memory dedup store.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryDedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen marks the event id and reports whether it was already present.
func (d *MemoryDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[eventID]; ok && now.Sub(at) < d.ttl {
		return true, nil
	}
	d.seen[eventID] = now

	if len(d.seen)%1024 == 0 {
		d.pruneLocked(now)
	}
	return false, nil
}

func (d *MemoryDedup) pruneLocked(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
