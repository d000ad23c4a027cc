package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
	"github.com/jake1318/sui-rpc-proxy/internal/models"
	"github.com/jake1318/sui-rpc-proxy/pkg/cache"
	"github.com/jake1318/sui-rpc-proxy/pkg/logger"
	"github.com/jake1318/sui-rpc-proxy/pkg/metrics"
	"github.com/jake1318/sui-rpc-proxy/pkg/throttle"
)

// metadataRecord is what the metadata cache namespace actually stores: the
// canonical shape plus where it came from.
type metadataRecord struct {
	models.CoinMetadata
	Source string `json:"source,omitempty"`
}

// birdeyeResponse is the subset of the Birdeye token metadata payload the
// enricher consumes.
type birdeyeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals *int   `json:"decimals"`
	} `json:"data"`
}

// birdeyeDescription fills the description field for tokens Birdeye knows
// about; the API itself does not return one.
const birdeyeDescription = "Token from Birdeye API"

// MetadataService resolves token metadata: cache first, then one coalesced
// Birdeye lookup per coin type, scheduled through the API rate limiter. A
// Birdeye failure is absorbed and resolves to nil so the caller can fall back
// to synthesized metadata.
type MetadataService struct {
	cache     *cache.Cache
	scheduler *throttle.Scheduler
	group     singleflight.Group
	client    *http.Client
	config    *config.BirdeyeConfig
	store     *MetadataStore
	collector *metrics.Collector
}

// NewMetadataService creates the metadata service. store may be nil when
// persistence is not configured.
func NewMetadataService(cfg *config.BirdeyeConfig, metadataCache *cache.Cache, scheduler *throttle.Scheduler, store *MetadataStore, collector *metrics.Collector) *MetadataService {
	return &MetadataService{
		cache:     metadataCache,
		scheduler: scheduler,
		client:    &http.Client{Timeout: cfg.Timeout},
		config:    cfg,
		store:     store,
		collector: collector,
	}
}

// GetCached returns cached metadata and the provenance marker to report for a
// cache-served result.
func (m *MetadataService) GetCached(coinType string) (*models.CoinMetadata, string, bool) {
	raw, found := m.cache.Get(coinType)
	if !found {
		return nil, "", false
	}

	var record metadataRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		m.cache.Delete(coinType)
		return nil, "", false
	}

	source := models.MetadataSourceBirdeye
	if record.Source == models.MetadataSourceFallback {
		source = models.MetadataSourceFallback
	}
	return &record.CoinMetadata, source, true
}

// GetTokenMetadata resolves metadata for a coin type. Concurrent callers for
// the same coin type share one upstream lookup. Returns nil when neither the
// cache nor Birdeye has an answer; the error from Birdeye is never
// propagated.
func (m *MetadataService) GetTokenMetadata(coinType string) (*models.CoinMetadata, string) {
	if meta, source, ok := m.GetCached(coinType); ok {
		return meta, source
	}

	result, _, _ := m.group.Do(coinType, func() (interface{}, error) {
		value, err := m.scheduler.Schedule(func() (interface{}, error) {
			return m.fetchFromBirdeye(coinType)
		})
		if err != nil {
			logger.GetLogger().Warn("Birdeye metadata lookup failed",
				zap.String("coin_type", coinType),
				zap.Error(err),
			)
			return (*models.CoinMetadata)(nil), nil
		}
		meta := value.(*models.CoinMetadata)
		if meta != nil {
			m.storeMetadata(coinType, meta, models.MetadataSourceBirdeyeDirect)
		}
		return meta, nil
	})

	meta := result.(*models.CoinMetadata)
	if meta == nil {
		return nil, ""
	}
	return meta, models.MetadataSourceBirdeyeDirect
}

// EnrichResponse splices metadata into a coin-metadata envelope whose result
// came back null, and returns the serialized response plus the provenance
// marker for the X-Metadata-Source header. When no source has metadata, a
// placeholder is synthesized and cached so the token is not re-queried.
func (m *MetadataService) EnrichResponse(resp *models.RPCResponse, coinType string) ([]byte, string, error) {
	meta, source := m.GetTokenMetadata(coinType)
	if meta == nil {
		meta = models.SynthesizeMetadata(coinType)
		source = models.MetadataSourceFallback
		m.storeMetadata(coinType, meta, models.MetadataSourceFallback)
	}

	resultBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal metadata result: %w", err)
	}
	resp.Result = resultBytes

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal enriched response: %w", err)
	}

	return body, source, nil
}

// BuildResponse constructs a full envelope from cached metadata, used when a
// coin-metadata request hits the metadata namespace directly.
func (m *MetadataService) BuildResponse(id models.ID, meta *models.CoinMetadata) ([]byte, error) {
	resultBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.RPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultBytes,
	})
}

// DumpCache returns every cached token's metadata, keyed by coin type
func (m *MetadataService) DumpCache() map[string]models.CoinMetadata {
	dump := make(map[string]models.CoinMetadata)
	for _, key := range m.cache.Keys() {
		raw, found := m.cache.Get(key)
		if !found {
			continue
		}
		var record metadataRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		dump[key] = record.CoinMetadata
	}
	return dump
}

// WarmLoad seeds the in-memory cache from the persistence layer at startup
func (m *MetadataService) WarmLoad() {
	if m.store == nil {
		return
	}

	records, err := m.store.LoadAll()
	if err != nil {
		logger.GetLogger().Warn("Failed to warm metadata cache from store", zap.Error(err))
		return
	}

	for i := range records {
		record := metadataRecord{
			CoinMetadata: *records[i].Metadata(),
			Source:       records[i].Source,
		}
		if raw, err := json.Marshal(record); err == nil {
			m.cache.Set(records[i].CoinType, raw)
		}
	}

	logger.GetLogger().Info("Metadata cache warmed from store", zap.Int("tokens", len(records)))
}

// storeMetadata writes a record into the cache and, when configured, the
// persistence layer.
func (m *MetadataService) storeMetadata(coinType string, meta *models.CoinMetadata, source string) {
	record := metadataRecord{CoinMetadata: *meta, Source: source}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	m.cache.Set(coinType, raw)

	if m.store != nil {
		go func() {
			if err := m.store.Save(coinType, meta, source); err != nil {
				logger.GetLogger().Warn("Failed to persist token metadata",
					zap.String("coin_type", coinType),
					zap.Error(err),
				)
			}
		}()
	}
}

// fetchFromBirdeye performs one metadata API call and normalizes the result.
// A miss (unsuccessful response) returns nil metadata and no error.
func (m *MetadataService) fetchFromBirdeye(coinType string) (*models.CoinMetadata, error) {
	if !m.config.HasAPIKey() {
		logger.GetLogger().Debug("Birdeye API key not configured, skipping lookup",
			zap.String("coin_type", coinType),
		)
		return nil, nil
	}

	if m.collector != nil {
		m.collector.RecordMetadataLookup()
	}

	endpoint := fmt.Sprintf("%s/defi/v3/token/meta-data/single?address=%s",
		m.config.BaseURL, url.QueryEscape(coinType))

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", m.config.APIKey)
	req.Header.Set("x-chain", "sui")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("birdeye returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var payload birdeyeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid birdeye response: %w", err)
	}
	if !payload.Success {
		return nil, nil
	}

	suffix := models.CoinTypeSuffix(coinType)
	meta := &models.CoinMetadata{
		Decimals:    models.DefaultDecimals,
		Symbol:      payload.Data.Symbol,
		Name:        payload.Data.Name,
		Description: birdeyeDescription,
	}
	if payload.Data.Decimals != nil {
		meta.Decimals = *payload.Data.Decimals
	}
	if meta.Symbol == "" {
		meta.Symbol = suffix
	}
	if meta.Name == "" {
		meta.Name = suffix
	}

	return meta, nil
}
