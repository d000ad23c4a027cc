package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jake1318/sui-rpc-proxy/internal/models"
	"github.com/jake1318/sui-rpc-proxy/internal/services"
	"github.com/jake1318/sui-rpc-proxy/pkg/cache"
	"github.com/jake1318/sui-rpc-proxy/pkg/logger"
	"github.com/jake1318/sui-rpc-proxy/pkg/metrics"
	"github.com/jake1318/sui-rpc-proxy/pkg/queue"
)

// maxRequestBytes bounds inbound request bodies
const maxRequestBytes = 1 << 20

// RPCHandler serves POST /sui: cache lookup, admission, forwarding to the
// primary node, and the direct fallback when the primary path fails or the
// system is overloaded.
type RPCHandler struct {
	responseCache *cache.Cache
	metadata      *services.MetadataService
	forwarder     *services.ProxyForwarder
	direct        *services.DirectClient
	queue         *queue.AdmissionQueue
	collector     *metrics.Collector
}

// NewRPCHandler creates the RPC handler
func NewRPCHandler(responseCache *cache.Cache, metadata *services.MetadataService, forwarder *services.ProxyForwarder, direct *services.DirectClient, admission *queue.AdmissionQueue, collector *metrics.Collector) *RPCHandler {
	return &RPCHandler{
		responseCache: responseCache,
		metadata:      metadata,
		forwarder:     forwarder,
		direct:        direct,
		queue:         admission,
		collector:     collector,
	}
}

// HandleRPC processes one JSON-RPC request
func (h *RPCHandler) HandleRPC(c *gin.Context) {
	start := time.Now()
	h.collector.RecordRequest()

	success := false
	defer func() {
		h.collector.RecordRequestComplete(time.Since(start), success)
	}()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		models.RespondBadRequest(c, "Failed to read request body")
		return
	}

	var req models.RPCRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		models.RespondBadRequest(c, "Invalid JSON-RPC request body")
		return
	}

	log := logger.GetLogger().WithContext(c.Request.Context())
	cacheKey := req.CacheKey()

	// The coin-metadata method gets a long-TTL namespace keyed by coin type.
	if req.Method == models.CoinMetadataMethod {
		if coinType, ok := req.CoinType(); ok {
			if meta, source, found := h.metadata.GetCached(coinType); found {
				if out, err := h.metadata.BuildResponse(req.ID, meta); err == nil {
					h.collector.RecordCacheHit()
					c.Header("X-Cache", "HIT")
					c.Header("X-Metadata-Source", source)
					success = true
					c.Data(http.StatusOK, "application/json", out)
					return
				}
			}
		}
	}

	if cached, found := h.responseCache.Get(cacheKey); found {
		h.collector.RecordCacheHit()
		c.Header("X-Cache", "HIT")
		success = true
		c.Data(http.StatusOK, "application/json", cached)
		return
	}
	h.collector.RecordCacheMiss()

	// Under overload the primary path is skipped entirely; availability over
	// strict ordering.
	if h.queue.Overloaded() {
		log.Warn("System overloaded, bypassing primary path",
			zap.String("method", req.Method),
		)
		success = h.serveDirect(c, &req, cacheKey)
		return
	}

	h.queue.Admit()
	defer h.queue.Release()

	h.queue.IncActive()
	respBody, err := h.forwarder.Forward(body)
	h.queue.DecActive()
	h.collector.RecordUpstreamCall(err == nil)

	if err != nil {
		log.Warn("Primary proxy path failed, falling back",
			zap.String("method", req.Method),
			zap.Error(err),
		)
		success = h.serveDirect(c, &req, cacheKey)
		return
	}

	out, metaSource := h.postProcess(respBody, &req)
	if metaSource != "" {
		c.Header("X-Metadata-Source", metaSource)
	}
	h.cacheResponse(cacheKey, out)
	success = true
	c.Data(http.StatusOK, "application/json", out)
}

// serveDirect issues the fallback call and writes its outcome. Reports
// whether the client got a successful response.
func (h *RPCHandler) serveDirect(c *gin.Context, req *models.RPCRequest, cacheKey string) bool {
	respBody, err := h.direct.Call(req.Method, req.Params, req.ID)
	h.collector.RecordFallbackCall(err == nil)

	if err != nil {
		logger.GetLogger().WithContext(c.Request.Context()).Error("Fallback RPC call failed",
			zap.String("method", req.Method),
			zap.Error(err),
		)
		if services.IsRateLimitSymptom(err) {
			models.RespondUpstreamRateLimited(c, "Upstream rate limited, please retry shortly")
		} else {
			models.RespondBadGateway(c, "Both primary and fallback RPC endpoints failed")
		}
		return false
	}

	out, metaSource := h.postProcess(respBody, req)
	if metaSource != "" {
		c.Header("X-Metadata-Source", metaSource)
	}
	c.Header("X-Source", "fallback-rpc")
	h.cacheResponse(cacheKey, out)
	c.Data(http.StatusOK, "application/json", out)
	return true
}

// postProcess hands null-result coin-metadata responses to the enricher.
// Everything else passes through untouched.
func (h *RPCHandler) postProcess(body []byte, req *models.RPCRequest) ([]byte, string) {
	if req.Method != models.CoinMetadataMethod {
		return body, ""
	}

	var resp models.RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return body, ""
	}
	if !resp.HasNullResult() {
		return body, ""
	}

	coinType, ok := req.CoinType()
	if !ok {
		return body, ""
	}

	out, source, err := h.metadata.EnrichResponse(&resp, coinType)
	if err != nil {
		return body, ""
	}
	return out, source
}

// cacheResponse stores a validated body unless it is a JSON-RPC error
// envelope; retrying an upstream error should not be suppressed for a full
// TTL.
func (h *RPCHandler) cacheResponse(key string, body []byte) {
	var resp models.RPCResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil {
		return
	}
	h.responseCache.Set(key, body)
}
