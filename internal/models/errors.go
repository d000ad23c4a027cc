package models

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RespondBadGateway writes the standard 502 body used when both the primary
// proxy path and the direct fallback failed.
func RespondBadGateway(c *gin.Context, message string) {
	c.JSON(http.StatusBadGateway, gin.H{
		"error":     "Bad Gateway",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RespondUpstreamRateLimited writes a 429 for failures whose signature points
// at upstream rate limiting rather than an outage.
func RespondUpstreamRateLimited(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":     "Too Many Requests",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RespondBadRequest writes a 400 for malformed inbound payloads.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     "Bad Request",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
