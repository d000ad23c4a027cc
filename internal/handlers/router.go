package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/jake1318/sui-rpc-proxy/pkg/ratelimiter"
)

// Router handles HTTP routing setup
type Router struct {
	rpcHandler    *RPCHandler
	healthHandler *HealthHandler
	limiter       *ratelimiter.RateLimiter
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(rpcHandler *RPCHandler, healthHandler *HealthHandler, limiter *ratelimiter.RateLimiter) *Router {
	return &Router{
		rpcHandler:    rpcHandler,
		healthHandler: healthHandler,
		limiter:       limiter,
	}
}

// SetupRoutes configures all routes. Only the RPC route sits behind the
// rate limiter; operational endpoints are exempt.
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.POST("/sui", r.limiter.Middleware(), r.rpcHandler.HandleRPC)

	engine.GET("/health", r.healthHandler.GetHealth)
	engine.GET("/metadata-cache", r.healthHandler.GetMetadataCache)
	engine.GET("/metrics", r.healthHandler.GetMetrics)
}
