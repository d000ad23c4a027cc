package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	RPC       RPCConfig       `json:"rpc"`
	Birdeye   BirdeyeConfig   `json:"birdeye"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Queue     QueueConfig     `json:"queue"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RPCConfig holds the Sui full-node endpoints. Primary is overridable via
// environment; Fallback is a fixed secondary node used when the primary path
// fails or the service is overloaded.
type RPCConfig struct {
	PrimaryEndpoint  string        `json:"primary_endpoint"`
	FallbackEndpoint string        `json:"fallback_endpoint"`
	ForwardTimeout   time.Duration `json:"forward_timeout"`
	DirectTimeout    time.Duration `json:"direct_timeout"`
	MaxConcurrent    int           `json:"max_concurrent"`
}

// BirdeyeConfig holds the token-metadata API configuration
type BirdeyeConfig struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"api_key"`
	Timeout      time.Duration `json:"timeout"`
	MaxPerSecond int           `json:"max_per_second"`
}

// HasAPIKey reports whether a usable API key is configured. The templated
// placeholder left in deployment manifests counts as unset.
func (b *BirdeyeConfig) HasAPIKey() bool {
	return b.APIKey != "" && b.APIKey != "YOUR_API_KEY"
}

// CacheConfig holds TTLs for the two cache namespaces
type CacheConfig struct {
	ResponseTTL     time.Duration `json:"response_ttl"`
	MetadataTTL     time.Duration `json:"metadata_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// RateLimitConfig holds the server-wide inbound rate limit
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	WindowSize        time.Duration `json:"window_size"`
}

// QueueConfig tunes the admission queue that paces forwarding to the
// primary node
type QueueConfig struct {
	QueueLimit  int           `json:"queue_limit"`
	SettleDelay time.Duration `json:"settle_delay"`
	StepDelay   time.Duration `json:"step_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// MongoDBConfig holds the optional metadata persistence configuration.
// Persistence is disabled when URI is empty.
type MongoDBConfig struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	Collection     string        `json:"collection"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	MaxPoolSize    uint64        `json:"max_pool_size"`
}

// Enabled reports whether metadata persistence is configured.
func (m *MongoDBConfig) Enabled() bool {
	return m.URI != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `json:"level"`
	Environment string   `json:"environment"`
	OutputPaths []string `json:"output_paths"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "3001"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		RPC: RPCConfig{
			PrimaryEndpoint:  getEnv("SUI_RPC_ENDPOINT", "https://fullnode.mainnet.sui.io:443"),
			FallbackEndpoint: getEnv("SUI_RPC_FALLBACK_ENDPOINT", "https://sui-mainnet.public.blastapi.io"),
			ForwardTimeout:   getDurationEnv("SUI_RPC_FORWARD_TIMEOUT", 15*time.Second),
			DirectTimeout:    getDurationEnv("SUI_RPC_DIRECT_TIMEOUT", 10*time.Second),
			MaxConcurrent:    getIntEnv("SUI_RPC_MAX_CONCURRENT", 3),
		},
		Birdeye: BirdeyeConfig{
			BaseURL:      getEnv("BIRDEYE_BASE_URL", "https://public-api.birdeye.so"),
			APIKey:       getEnv("BIRDEYE_API_KEY", "YOUR_API_KEY"),
			Timeout:      getDurationEnv("BIRDEYE_TIMEOUT", 5*time.Second),
			MaxPerSecond: getIntEnv("BIRDEYE_MAX_PER_SECOND", 45),
		},
		Cache: CacheConfig{
			ResponseTTL:     getDurationEnv("CACHE_RESPONSE_TTL", 5*time.Minute),
			MetadataTTL:     getDurationEnv("CACHE_METADATA_TTL", 24*time.Hour),
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", 500),
			WindowSize:        getDurationEnv("RATE_LIMIT_WINDOW_SIZE", time.Minute),
		},
		Queue: QueueConfig{
			QueueLimit:  getIntEnv("QUEUE_LIMIT", 10),
			SettleDelay: getDurationEnv("QUEUE_SETTLE_DELAY", 200*time.Millisecond),
			StepDelay:   getDurationEnv("QUEUE_STEP_DELAY", 50*time.Millisecond),
			MaxDelay:    getDurationEnv("QUEUE_MAX_DELAY", time.Second),
		},
		MongoDB: MongoDBConfig{
			URI:            getEnv("MONGODB_URI", ""),
			Database:       getEnv("MONGODB_DATABASE", "sui_rpc_proxy"),
			Collection:     getEnv("MONGODB_METADATA_COLLECTION", "token_metadata"),
			ConnectTimeout: getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:    getUint64Env("MONGODB_MAX_POOL_SIZE", 20),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
			OutputPaths: getStringSliceEnv("LOG_OUTPUT_PATHS", []string{"stdout"}),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}
