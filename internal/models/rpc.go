package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CoinMetadataMethod is the one RPC method the proxy special-cases: responses
// with a null result are routed through metadata enrichment before caching.
const CoinMetadataMethod = "suix_getCoinMetadata"

// RPCRequest is the inbound JSON-RPC 2.0 envelope. Params are kept raw so the
// proxy stays method-agnostic; they are only inspected for the coin-metadata
// special case and for cache-key derivation.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// CacheKey derives the cache lookup key from the method name and the
// serialized params. Requests differing only in ID share a key.
func (r *RPCRequest) CacheKey() string {
	return r.Method + ":" + string(r.Params)
}

// CoinType extracts the coin type identifier from the first params element of
// a coin-metadata request, e.g. "0x2::sui::SUI".
func (r *RPCRequest) CoinType() (string, bool) {
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil || len(params) == 0 {
		return "", false
	}
	var coinType string
	if err := json.Unmarshal(params[0], &coinType); err != nil || coinType == "" {
		return "", false
	}
	return coinType, true
}

// RPCResponse is the outbound JSON-RPC 2.0 envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HasNullResult reports whether the envelope carries an explicit null (or
// absent) result with no error, the signature of a token the full node does
// not know about.
func (r *RPCResponse) HasNullResult() bool {
	if r.Error != nil {
		return false
	}
	trimmed := strings.TrimSpace(string(r.Result))
	return trimmed == "" || trimmed == "null"
}

// ID is a JSON-RPC request identifier. JSON-RPC 2.0 allows strings, numbers,
// and null; whatever the client sent must be echoed back verbatim.
type ID struct {
	intID *int64
	strID *string
}

// NewIntID builds a numeric ID. Used by the direct-call client and tests.
func NewIntID(v int64) ID {
	return ID{intID: &v}
}

// String renders the ID for logging.
func (id ID) String() string {
	if id.intID != nil {
		return fmt.Sprintf("%d", *id.intID)
	}
	if id.strID != nil {
		return *id.strID
	}
	return "null"
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.intID != nil {
		return json.Marshal(*id.intID)
	}
	if id.strID != nil {
		return json.Marshal(*id.strID)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts numbers, strings, and
// null; anything else is a malformed request.
func (id *ID) UnmarshalJSON(data []byte) error {
	id.intID = nil
	id.strID = nil

	if string(data) == "null" {
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		id.intID = &n
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.strID = &s
		return nil
	}

	return fmt.Errorf("invalid JSON-RPC id: %s", string(data))
}

// CoinMetadata is the canonical token metadata shape, whether it came from the
// full node, the Birdeye API, the cache, or was synthesized as a last resort.
type CoinMetadata struct {
	Decimals    int    `json:"decimals"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Metadata provenance markers, surfaced via the X-Metadata-Source header.
const (
	MetadataSourceBirdeyeDirect = "birdeye-direct"
	MetadataSourceBirdeye       = "birdeye"
	MetadataSourceFallback      = "fallback"
)

// DefaultDecimals is assumed when no source reports a decimal count.
const DefaultDecimals = 9

// CoinTypeSuffix returns the trailing component of a Move type path,
// e.g. "0xabc::mod::COIN" -> "COIN". Used to synthesize symbol and name.
func CoinTypeSuffix(coinType string) string {
	parts := strings.Split(coinType, "::")
	return parts[len(parts)-1]
}

// SynthesizeMetadata builds last-resort placeholder metadata for a token that
// neither the full node nor the metadata API knows about. Cached like real
// metadata so the token is not re-queried on every request.
func SynthesizeMetadata(coinType string) *CoinMetadata {
	suffix := CoinTypeSuffix(coinType)
	return &CoinMetadata{
		Decimals:    DefaultDecimals,
		Symbol:      suffix,
		Name:        suffix,
		Description: "Metadata unavailable for this token",
	}
}
