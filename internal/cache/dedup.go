package cache

import "time"

// Dedup remembers event identifiers for a fixed window. An identifier is
// recorded before any work on it starts, so a redelivery that arrives while
// the first delivery is still processing is already seen.
type Dedup struct {
	seen *LRUCache[time.Time]
}

// NewDedup creates a dedup window of ttl holding at most maxEntries ids.
func NewDedup(maxEntries int, ttl time.Duration) *Dedup {
	return &Dedup{seen: NewLRUCache[time.Time](maxEntries, ttl)}
}

// MarkIfNew records id and reports true when it was not seen within the
// window. Empty ids are never deduplicated.
func (d *Dedup) MarkIfNew(id string) bool {
	if id == "" {
		return true
	}
	return d.seen.SetIfAbsent(id, d.seen.now())
}

// CleanExpired implements Cleaner.
func (d *Dedup) CleanExpired() int {
	return d.seen.CleanExpired()
}

// Size returns the number of remembered ids.
func (d *Dedup) Size() int {
	return d.seen.Size()
}
