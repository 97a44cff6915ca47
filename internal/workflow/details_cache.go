package workflow

import (
	"sync"
	"time"
)

// detailsTTL is how long memoized workflow details stay valid before
// the whole cache is dropped.
const detailsTTL = time.Hour

// detailsCache memoizes raw workflow details by id. Expiry is
// wholesale: once the TTL elapses since the last clear, the entire map
// is dropped before the next round of lookups. Entries are never
// evicted individually. The clock is injected for tests.
type detailsCache struct {
	mu          sync.Mutex
	entries     map[string]any
	ttl         time.Duration
	lastCleared time.Time
	now         func() time.Time
}

func newDetailsCache(ttl time.Duration, now func() time.Time) *detailsCache {
	return &detailsCache{
		entries:     make(map[string]any),
		ttl:         ttl,
		lastCleared: now(),
		now:         now,
	}
}

// maybeClear drops everything if the TTL has elapsed since the last
// clear. Called once per discovery round, before any lookups.
func (c *detailsCache) maybeClear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastCleared) > c.ttl {
		c.entries = make(map[string]any)
		c.lastCleared = c.now()
	}
}

// clear drops everything unconditionally.
func (c *detailsCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any)
	c.lastCleared = c.now()
}

func (c *detailsCache) get(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	return v, ok
}

func (c *detailsCache) put(id string, details any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = details
}

func (c *detailsCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
