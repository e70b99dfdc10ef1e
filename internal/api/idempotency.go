package api

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const replayTTL = 10 * time.Minute

type replay struct {
	status int
	body   any
	at     time.Time
}

// replayCache remembers responses by Idempotency-Key so a retried request
// returns the first answer instead of running twice. Concurrent duplicates
// share one execution.
type replayCache struct {
	mu      sync.Mutex
	entries map[string]replay
	group   singleflight.Group
	now     func() time.Time
}

func newReplayCache() *replayCache {
	return &replayCache{entries: make(map[string]replay), now: time.Now}
}

func (c *replayCache) do(key string, fn func() (int, any)) (int, any) {
	if key == "" {
		return fn()
	}
	if r, ok := c.lookup(key); ok {
		return r.status, r.body
	}
	v, _, _ := c.group.Do(key, func() (any, error) {
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		status, body := fn()
		r := replay{status: status, body: body, at: c.now()}
		c.mu.Lock()
		c.entries[key] = r
		c.mu.Unlock()
		return r, nil
	})
	r := v.(replay)
	return r.status, r.body
}

func (c *replayCache) lookup(key string) (replay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, r := range c.entries {
		if now.Sub(r.at) > replayTTL {
			delete(c.entries, k)
		}
	}
	r, ok := c.entries[key]
	return r, ok
}
