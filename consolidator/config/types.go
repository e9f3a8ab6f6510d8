package config

import "time"

// ServiceConfig configures the consolidator service
type ServiceConfig struct {
	// http server
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	// CORS
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// rate limiting
	RatePerMinute         int `mapstructure:"rate_per_minute"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`

	// OpenTelemetry
	ServiceName     string `mapstructure:"service_name"`
	ServiceVersion  string `mapstructure:"service_version"`
	Environment     string `mapstructure:"environment"`
	EnableTracing   bool   `mapstructure:"enable_tracing"`
	UseOTLPTraces   bool   `mapstructure:"use_otlp_traces"`
	OTLPTracesURL   string `mapstructure:"otlp_traces_url"`
	EnableMetrics   bool   `mapstructure:"enable_metrics"`
	UsePrometheus   bool   `mapstructure:"use_prometheus"`
	UseOTLPMetrics  bool   `mapstructure:"use_otlp_metrics"`
	OTLPMetricsURL  string `mapstructure:"otlp_metrics_url"`
	EnableLogs      bool   `mapstructure:"enable_logs"`
	UseOTLPLogs     bool   `mapstructure:"use_otlp_logs"`
	OTLPLogsURL     string `mapstructure:"otlp_logs_url"`
	InsecureOTLP    bool   `mapstructure:"insecure_otlp"`
	DevelopmentMode bool   `mapstructure:"development_mode"`

	// ProvidersFile is the providers.toml with upstream urls, limits and rpc endpoints
	ProvidersFile string `mapstructure:"providers_file"`

	// state store, "memory" or "redis"
	Store         string `mapstructure:"store"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// planning
	MinValueUsd      float64       `mapstructure:"min_value_usd"`
	MinTokenValueUsd float64       `mapstructure:"min_token_value_usd"`
	QuoteTimeout     time.Duration `mapstructure:"quote_timeout"`
	PlanTTL          time.Duration `mapstructure:"plan_ttl"`

	// execution
	MaxConcurrentChains int           `mapstructure:"max_concurrent_chains"`
	StatusPollInterval  time.Duration `mapstructure:"status_poll_interval"`
	BridgeTimeout       time.Duration `mapstructure:"bridge_timeout"`
}

// Store kinds
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ProvidersConfig is the providers.toml file
type ProvidersConfig struct {
	Bridges map[string]ProviderConfig `toml:"bridges"`
	Dexes   map[string]ProviderConfig `toml:"dexes"`
	// RPC holds the relayer endpoint per chain name
	RPC      map[string]string `toml:"rpc"`
	RPCLimit RateLimit         `toml:"rpc_limit"`
}

// ProviderConfig tunes one bridge provider or dex aggregator
type ProviderConfig struct {
	Enabled bool   `toml:"enabled"`
	APIURL  string `toml:"api_url"`
	// ScanURL is the delivery status api, stargate only
	ScanURL string `toml:"scan_url"`
	APIKey  string `toml:"api_key"`
	// APIKeyEnv names an environment variable holding the api key
	APIKeyEnv      string    `toml:"api_key_env"`
	TimeoutSeconds int       `toml:"timeout_seconds"`
	Limit          RateLimit `toml:"limit"`
}

// RateLimit is a token bucket, zero values use the ratelimit defaults
type RateLimit struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}
