package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/logsync/internal/indexing/metrics"
)

// HeadSource returns the latest chain head.
type HeadSource interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
}

// HeadCache caches the chain head for a short TTL and collapses
// concurrent lookups into one remote call.
type HeadCache struct {
	source HeadSource
	ttl    time.Duration
	group  singleflight.Group

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source HeadSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// GetLatestBlock returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.ttl {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("head", func() (interface{}, error) {
		head, err := c.source.GetLatestBlock(ctx)
		if err != nil {
			return uint64(0), err
		}

		c.mu.Lock()
		// The head never moves backwards within one process.
		if head > c.cached || c.cachedAt.IsZero() {
			c.cached = head
		}
		c.cachedAt = time.Now()
		head = c.cached
		c.mu.Unlock()

		metrics.ChainHead.Set(float64(head))
		return head, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Peek returns the last known head without a remote call.
func (c *HeadCache) Peek() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached, !c.cachedAt.IsZero()
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
