package aws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/berkguzel/iamguard/pkg/types"
)

// Cache configuration
const (
	cacheExpiration = 15 * time.Minute
	maxCacheSize    = 1000
)

type cacheEntry struct {
	document   types.PolicyDocument
	timestamp  time.Time
	lastAccess time.Time
}

// Cache holds decoded policy documents keyed by ARN and version, with TTL
// and LRU eviction. Policy versions are immutable, so the TTL only bounds
// memory held by long-running processes.
type Cache struct {
	sync.Mutex
	items   map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
	evicted int64
}

func NewCache(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		items:   make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func cacheKey(arn, versionID string) string {
	return arn + "@" + versionID
}

func (c *Cache) Get(key string) (types.PolicyDocument, bool) {
	c.Lock()
	defer c.Unlock()

	entry, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return types.PolicyDocument{}, false
	}

	if time.Since(entry.timestamp) > c.ttl {
		atomic.AddInt64(&c.evicted, 1)
		atomic.AddInt64(&c.misses, 1)
		delete(c.items, key)
		return types.PolicyDocument{}, false
	}

	entry.lastAccess = time.Now()
	c.items[key] = entry
	atomic.AddInt64(&c.hits, 1)

	return entry.document, true
}

func (c *Cache) Set(key string, doc types.PolicyDocument) {
	c.Lock()
	defer c.Unlock()

	// If cache is full, remove the least recently used entry
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		var lruKey string
		var lru time.Time
		for k, v := range c.items {
			if lruKey == "" || v.lastAccess.Before(lru) {
				lru = v.lastAccess
				lruKey = k
			}
		}
		delete(c.items, lruKey)
		atomic.AddInt64(&c.evicted, 1)
	}

	now := time.Now()
	c.items[key] = cacheEntry{
		document:   doc,
		timestamp:  now,
		lastAccess: now,
	}
}

func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.items)
}

func (c *Cache) GetMetrics() map[string]int64 {
	return map[string]int64{
		"size":    int64(c.Len()),
		"hits":    atomic.LoadInt64(&c.hits),
		"misses":  atomic.LoadInt64(&c.misses),
		"evicted": atomic.LoadInt64(&c.evicted),
	}
}

// Metrics records the latency of every AWS API call made by a Client.
type Metrics struct {
	sync.Mutex
	apiLatencies  map[string][]time.Duration
	totalAPICalls int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiLatencies: make(map[string][]time.Duration),
	}
}

func (m *Metrics) recordAPILatency(operation string, duration time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.apiLatencies[operation] = append(m.apiLatencies[operation], duration)
	m.totalAPICalls++
}

func (m *Metrics) GetMetrics() map[string]interface{} {
	m.Lock()
	defer m.Unlock()

	metrics := make(map[string]interface{})
	for op, latencies := range m.apiLatencies {
		var total time.Duration
		for _, d := range latencies {
			total += d
		}
		if len(latencies) > 0 {
			metrics[op+"_calls"] = len(latencies)
			metrics[op+"_avg_latency"] = total / time.Duration(len(latencies))
		}
	}
	metrics["total_api_calls"] = m.totalAPICalls

	return metrics
}
