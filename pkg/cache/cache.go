package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry represents a cached response body with its insertion timestamp
type Entry struct {
	Value     []byte
	Timestamp time.Time
}

// Stats is a point-in-time snapshot of cache counters, reported on /health
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Keys      int   `json:"keys"`
	SizeBytes int64 `json:"size_bytes"`
}

// Cache provides a thread-safe TTL cache for serialized response bodies.
// The proxy runs two instances: a short-TTL one keyed by method+params and a
// long-TTL one keyed by coin type.
type Cache struct {
	data   map[string]*Entry
	mutex  sync.RWMutex
	ttl    time.Duration
	sweep  time.Duration
	stopCh chan struct{}

	hits   int64
	misses int64
}

// New creates a Cache with the given TTL. Expired entries are also swept
// periodically so the map does not grow unbounded between lookups.
func New(ttl, sweepInterval time.Duration) *Cache {
	c := &Cache{
		data:   make(map[string]*Entry),
		ttl:    ttl,
		sweep:  sweepInterval,
		stopCh: make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves a value if it exists and hasn't expired
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()

	if !exists || time.Since(entry.Timestamp) > c.ttl {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.Value, true
}

// Set stores a value with the current timestamp. Callers must only store
// bodies that already passed JSON validation.
func (c *Cache) Set(key string, value []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &Entry{
		Value:     value,
		Timestamp: time.Now(),
	}
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, key)
}

// Keys returns all non-expired keys
func (c *Cache) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]string, 0, len(c.data))
	now := time.Now()
	for key, entry := range c.data {
		if now.Sub(entry.Timestamp) <= c.ttl {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.data)
}

// GetStats returns hit/miss counters and size information
func (c *Cache) GetStats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var bytes int64
	for _, entry := range c.data {
		bytes += int64(len(entry.Value))
	}

	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Keys:      len(c.data),
		SizeBytes: bytes,
	}
}

// cleanup runs periodically to remove expired entries
func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

// removeExpired removes all expired entries from the cache
func (c *Cache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.Sub(entry.Timestamp) > c.ttl {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *Cache) Stop() {
	close(c.stopCh)
}
