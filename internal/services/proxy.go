package services

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
)

var (
	// ErrHTMLResponse marks an upstream body that is an HTML error page
	// (edge/CDN misrouting), treated the same as an upstream failure.
	ErrHTMLResponse = errors.New("upstream returned an HTML error page")

	// ErrInvalidJSON marks an upstream body that failed JSON validation
	ErrInvalidJSON = errors.New("upstream response failed JSON validation")
)

// maxResponseBytes bounds upstream bodies read into memory
const maxResponseBytes = 16 << 20

// ProxyForwarder forwards admitted requests to the primary RPC endpoint and
// normalizes the response body before it is cached.
type ProxyForwarder struct {
	client   *http.Client
	endpoint string
}

// NewProxyForwarder creates a forwarder for the primary endpoint
func NewProxyForwarder(cfg *config.RPCConfig) *ProxyForwarder {
	return &ProxyForwarder{
		client:   &http.Client{Timeout: cfg.ForwardTimeout},
		endpoint: cfg.PrimaryEndpoint,
	}
}

// Forward POSTs the buffered request body to the primary node and returns the
// validated JSON response body. Compression is declined on the outbound leg,
// but some edges compress anyway, so the response is decompressed according
// to its Content-Encoding before validation.
func (p *ProxyForwarder) Forward(body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return nil, ErrHTMLResponse
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	decoded, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	if len(decoded) == 0 || !json.Valid(decoded) {
		return nil, ErrInvalidJSON
	}

	return decoded, nil
}

// decompress decodes gzip, deflate, and brotli bodies. Anything else passes
// through untouched when the encoding is identity, or fails loudly.
func decompress(data []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(data))
		defer reader.Close()
		return io.ReadAll(reader)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
