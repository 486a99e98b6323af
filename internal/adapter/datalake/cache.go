package datalake

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CachedFetcher wraps a Fetcher with an in-memory LRU cache of per-region
// results. Regions are fetched from the inner fetcher one at a time so a
// partially cached request only pays for the regions it is missing. Entries
// expire ttl after they were stored, so revisions published by the data lake
// reach later runs.
type CachedFetcher struct {
	inner   domain.Fetcher
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedFetcher creates a cache decorator around a fetcher. A ttl of zero
// keeps entries until they are evicted.
func NewCachedFetcher(inner domain.Fetcher, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *CachedFetcher {
	return &CachedFetcher{
		inner:   inner,
		cache:   newLRUCache(maxEntries, ttl, clockwork.NewRealClock()),
		metrics: metrics,
	}
}

// SetClock replaces the clock used to expire entries.
func (c *CachedFetcher) SetClock(clock clockwork.Clock) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.clock = clock
}

func (c *CachedFetcher) Fetch(ctx context.Context, dataset string, regions []string, r domain.DateRange) ([]domain.TimeSeriesPoint, error) {
	var out []domain.TimeSeriesPoint
	for _, region := range regions {
		key := CacheKey(dataset, region, r)
		if points, ok := c.cache.get(key); ok {
			c.metrics.FetchCache.WithLabelValues("memory", "hit").Inc()
			out = append(out, points...)
			continue
		}
		c.metrics.FetchCache.WithLabelValues("memory", "miss").Inc()

		points, err := c.inner.Fetch(ctx, dataset, []string{region}, r)
		if err != nil {
			return nil, err
		}
		// Only cache non-empty results so a region the lake has not published yet is retried.
		if len(points) > 0 {
			c.cache.put(key, slices.Clone(points))
		}
		out = append(out, points...)
	}
	return out, nil
}

// CacheKey identifies the result of one region's fetch.
func CacheKey(dataset, region string, r domain.DateRange) string {
	return strings.Join([]string{dataset, region, r.String()}, "|")
}

// lruCache is a thread-safe LRU cache of fetched series with per-entry expiry.
type lruCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key       string
	value     []domain.TimeSeriesPoint
	expiresAt time.Time // zero when the cache has no ttl
	prev      *entry
	next      *entry
}

func newLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(c.ttl)
}

// get returns a copy of the cached series so callers cannot mutate the entry.
func (c *lruCache) get(key string) ([]domain.TimeSeriesPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.remove(e)
		return nil, false
	}
	c.moveToFront(e)
	return slices.Clone(e.value), true
}

func (c *lruCache) put(key string, value []domain.TimeSeriesPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.expiry()
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: c.expiry()}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
