package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jake1318/sui-rpc-proxy/internal/services"
	"github.com/jake1318/sui-rpc-proxy/pkg/cache"
	"github.com/jake1318/sui-rpc-proxy/pkg/metrics"
	"github.com/jake1318/sui-rpc-proxy/pkg/queue"
	"github.com/jake1318/sui-rpc-proxy/pkg/ratelimiter"
)

// HealthHandler serves the operational endpoints, all exempt from rate
// limiting.
type HealthHandler struct {
	responseCache *cache.Cache
	metadataCache *cache.Cache
	metadata      *services.MetadataService
	queue         *queue.AdmissionQueue
	limiter       *ratelimiter.RateLimiter
	collector     *metrics.Collector
	store         *services.MetadataStore
}

// NewHealthHandler creates the health handler. store may be nil.
func NewHealthHandler(responseCache, metadataCache *cache.Cache, metadata *services.MetadataService, admission *queue.AdmissionQueue, limiter *ratelimiter.RateLimiter, collector *metrics.Collector, store *services.MetadataStore) *HealthHandler {
	return &HealthHandler{
		responseCache: responseCache,
		metadataCache: metadataCache,
		metadata:      metadata,
		queue:         admission,
		limiter:       limiter,
		collector:     collector,
		store:         store,
	}
}

// GetHealth reports cache statistics, queue state, and rate-limit counters
func (h *HealthHandler) GetHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": h.collector.GetUptime().String(),
		"caches": gin.H{
			"responses": h.responseCache.GetStats(),
			"metadata":  h.metadataCache.GetStats(),
		},
		"queue":      h.queue.GetSnapshot(),
		"rate_limit": h.limiter.Snapshot(),
	}

	if h.store != nil {
		latency, err := h.store.CheckHealth()
		mongo := gin.H{"status": "healthy", "response_time": latency.String()}
		if err != nil {
			mongo["status"] = "unhealthy"
			mongo["message"] = err.Error()
		}
		body["mongodb"] = mongo
	}

	c.JSON(http.StatusOK, body)
}

// GetMetadataCache dumps the entire metadata cache
func (h *HealthHandler) GetMetadataCache(c *gin.Context) {
	dump := h.metadata.DumpCache()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(dump),
		"metadata": dump,
	})
}

// GetMetrics reports the performance counters
func (h *HealthHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "sui-rpc-proxy",
		"uptime":  h.collector.GetUptime().String(),
		"metrics": h.collector.GetMetrics(),
	})
}
