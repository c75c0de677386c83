package quote

import (
	"sync"
	"time"

	"BourseCast/internal/model"
)

type cacheEntry struct {
	quote    model.Quote
	expireAt time.Time
}

// ttlCache is a per-symbol quote cache. Sessions sharing one Fetcher
// share the cache, so access is serialized by the mutex.
type ttlCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

func newTTLCache(ttl time.Duration, now func() time.Time) *ttlCache {
	if now == nil {
		now = time.Now
	}
	return &ttlCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  now,
	}
}

func (c *ttlCache) get(symbol string) (model.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[symbol]
	if !ok {
		return model.Quote{}, false
	}
	if c.now().After(entry.expireAt) {
		delete(c.data, symbol)
		return model.Quote{}, false
	}
	return entry.quote, true
}

func (c *ttlCache) put(symbol string, q model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[symbol] = cacheEntry{quote: q, expireAt: c.now().Add(c.ttl)}
}

func (c *ttlCache) evict(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, symbol)
}
