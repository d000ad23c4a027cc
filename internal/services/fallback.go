package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
	"github.com/jake1318/sui-rpc-proxy/internal/models"
	"github.com/jake1318/sui-rpc-proxy/pkg/logger"
)

// DirectClient issues JSON-RPC calls straight to the secondary endpoint,
// bypassing the admission queue and the primary proxy path. Used proactively
// under overload and reactively when the primary path fails.
type DirectClient struct {
	client   *http.Client
	endpoint string

	// own in-flight counter; not a queue, just a proportional self-throttle
	active    int64
	maxActive int64
}

// NewDirectClient creates a client for the fallback endpoint
func NewDirectClient(cfg *config.RPCConfig) *DirectClient {
	return &DirectClient{
		client:    &http.Client{Timeout: cfg.DirectTimeout},
		endpoint:  cfg.FallbackEndpoint,
		maxActive: int64(cfg.MaxConcurrent),
	}
}

// Call issues a single JSON-RPC POST to the secondary endpoint and returns
// the validated response body.
func (d *DirectClient) Call(method string, params json.RawMessage, id models.ID) ([]byte, error) {
	over := atomic.AddInt64(&d.active, 1) - d.maxActive
	defer atomic.AddInt64(&d.active, -1)

	if wait := selfThrottleDelay(over); wait > 0 {
		logger.GetLogger().Debug("Direct client self-throttling",
			zap.Int64("overage", over),
			zap.Duration("wait", wait),
		)
		time.Sleep(wait)
	}

	envelope := models.RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal direct call: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build direct request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct RPC call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read direct response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("direct RPC returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	if len(raw) == 0 || !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}

	return raw, nil
}

// selfThrottleDelay converts in-flight overage into a pause before the call
// goes out, 100ms per excess request capped at 2s.
func selfThrottleDelay(over int64) time.Duration {
	if over <= 0 {
		return 0
	}
	wait := time.Duration(over) * 100 * time.Millisecond
	if wait > 2*time.Second {
		wait = 2 * time.Second
	}
	return wait
}

// IsRateLimitSymptom reports whether a fallback failure looks like rate
// limiting (connection reset or an embedded 429 indicator) rather than an
// outage. Such failures surface to the client as 429 instead of 502.
func IsRateLimitSymptom(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "connection reset")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
