package ratelimiter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware enforcing the server-wide limit.
// Operational endpoints are not behind it; the router only attaches it to the
// RPC route.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := rl.Allow()
		info := rl.Snapshot()

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(info.ResetIn))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(info.ResetIn))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":     "Too Many Requests",
				"message":   "Rate limit exceeded. Please slow down.",
				"limit":     info.Limit,
				"current":   info.Current,
				"remaining": info.Remaining,
				"resetIn":   info.ResetIn,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
