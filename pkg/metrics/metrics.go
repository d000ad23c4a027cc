package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds performance counters for the proxy
type Metrics struct {
	// Request metrics
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	ActiveRequests     int64 `json:"active_requests"`

	// Response time metrics
	AverageResponseTime time.Duration `json:"average_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Upstream metrics
	UpstreamCalls    int64 `json:"upstream_calls"`
	UpstreamFailures int64 `json:"upstream_failures"`
	FallbackCalls    int64 `json:"fallback_calls"`
	FallbackFailures int64 `json:"fallback_failures"`
	MetadataLookups  int64 `json:"metadata_lookups"`

	totalResponseTime time.Duration
	mutex             sync.Mutex
}

// Collector provides thread-safe metrics collection
type Collector struct {
	metrics   *Metrics
	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		metrics:   &Metrics{},
		startTime: time.Now(),
	}
}

// RecordRequest records a new inbound request
func (c *Collector) RecordRequest() {
	atomic.AddInt64(&c.metrics.TotalRequests, 1)
	atomic.AddInt64(&c.metrics.ActiveRequests, 1)
}

// RecordRequestComplete records request completion
func (c *Collector) RecordRequestComplete(duration time.Duration, success bool) {
	atomic.AddInt64(&c.metrics.ActiveRequests, -1)

	if success {
		atomic.AddInt64(&c.metrics.SuccessfulRequests, 1)
	} else {
		atomic.AddInt64(&c.metrics.FailedRequests, 1)
	}

	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	c.metrics.totalResponseTime += duration
	if duration > c.metrics.MaxResponseTime {
		c.metrics.MaxResponseTime = duration
	}

	total := atomic.LoadInt64(&c.metrics.TotalRequests)
	if total > 0 {
		c.metrics.AverageResponseTime = c.metrics.totalResponseTime / time.Duration(total)
	}
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit() {
	atomic.AddInt64(&c.metrics.CacheHits, 1)
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss() {
	atomic.AddInt64(&c.metrics.CacheMisses, 1)
}

// RecordUpstreamCall records a forward to the primary node
func (c *Collector) RecordUpstreamCall(success bool) {
	atomic.AddInt64(&c.metrics.UpstreamCalls, 1)
	if !success {
		atomic.AddInt64(&c.metrics.UpstreamFailures, 1)
	}
}

// RecordFallbackCall records a direct call to the secondary node
func (c *Collector) RecordFallbackCall(success bool) {
	atomic.AddInt64(&c.metrics.FallbackCalls, 1)
	if !success {
		atomic.AddInt64(&c.metrics.FallbackFailures, 1)
	}
}

// RecordMetadataLookup records a metadata API lookup
func (c *Collector) RecordMetadataLookup() {
	atomic.AddInt64(&c.metrics.MetadataLookups, 1)
}

// GetMetrics returns a copy of the current metrics
func (c *Collector) GetMetrics() Metrics {
	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	return Metrics{
		TotalRequests:       atomic.LoadInt64(&c.metrics.TotalRequests),
		SuccessfulRequests:  atomic.LoadInt64(&c.metrics.SuccessfulRequests),
		FailedRequests:      atomic.LoadInt64(&c.metrics.FailedRequests),
		ActiveRequests:      atomic.LoadInt64(&c.metrics.ActiveRequests),
		AverageResponseTime: c.metrics.AverageResponseTime,
		MaxResponseTime:     c.metrics.MaxResponseTime,
		CacheHits:           atomic.LoadInt64(&c.metrics.CacheHits),
		CacheMisses:         atomic.LoadInt64(&c.metrics.CacheMisses),
		UpstreamCalls:       atomic.LoadInt64(&c.metrics.UpstreamCalls),
		UpstreamFailures:    atomic.LoadInt64(&c.metrics.UpstreamFailures),
		FallbackCalls:       atomic.LoadInt64(&c.metrics.FallbackCalls),
		FallbackFailures:    atomic.LoadInt64(&c.metrics.FallbackFailures),
		MetadataLookups:     atomic.LoadInt64(&c.metrics.MetadataLookups),
	}
}

// GetUptime returns the time since the collector was created
func (c *Collector) GetUptime() time.Duration {
	return time.Since(c.startTime)
}

// Reset clears all counters
func (c *Collector) Reset() {
	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	atomic.StoreInt64(&c.metrics.TotalRequests, 0)
	atomic.StoreInt64(&c.metrics.SuccessfulRequests, 0)
	atomic.StoreInt64(&c.metrics.FailedRequests, 0)
	atomic.StoreInt64(&c.metrics.ActiveRequests, 0)
	atomic.StoreInt64(&c.metrics.CacheHits, 0)
	atomic.StoreInt64(&c.metrics.CacheMisses, 0)
	atomic.StoreInt64(&c.metrics.UpstreamCalls, 0)
	atomic.StoreInt64(&c.metrics.UpstreamFailures, 0)
	atomic.StoreInt64(&c.metrics.FallbackCalls, 0)
	atomic.StoreInt64(&c.metrics.FallbackFailures, 0)
	atomic.StoreInt64(&c.metrics.MetadataLookups, 0)
	c.metrics.totalResponseTime = 0
	c.metrics.AverageResponseTime = 0
	c.metrics.MaxResponseTime = 0
}
