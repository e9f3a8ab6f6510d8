package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadServiceConfig loads the service config from a toml file, or from
// SWEEP_ prefixed environment variables when configPath is nil
func LoadServiceConfig(configPath *string) (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("host", "localhost")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("max_concurrent_requests", 200)
	v.SetDefault("service_name", "spectra-sweep")
	v.SetDefault("service_version", "1.0.0")
	v.SetDefault("environment", "development")
	v.SetDefault("providers_file", "providers.toml")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("min_value_usd", 1.0)
	v.SetDefault("quote_timeout", 20*time.Second)
	v.SetDefault("plan_ttl", 30*time.Minute)
	v.SetDefault("max_concurrent_chains", 3)
	v.SetDefault("status_poll_interval", 15*time.Second)
	v.SetDefault("bridge_timeout", time.Hour)
}

func loadEnv(v *viper.Viper) (*ServiceConfig, error) {
	// the .env file is optional, variables may come from docker or systemd
	_ = godotenv.Load()
	v.SetEnvPrefix("SWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each key to its env var so Unmarshal sees env values
// when no config file is loaded
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "development_mode", "providers_file",
		"store", "redis_addr", "redis_password", "redis_db",
		"min_value_usd", "min_token_value_usd", "quote_timeout", "plan_ttl",
		"max_concurrent_chains", "status_poll_interval", "bridge_timeout",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*ServiceConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *ServiceConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}
	if config.ProvidersFile == "" {
		return fmt.Errorf("providers_file is required")
	}

	switch config.Store {
	case StoreMemory:
	case StoreRedis:
		if config.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StoreMemory, StoreRedis, config.Store)
	}

	if config.MinValueUsd < 0 || config.MinTokenValueUsd < 0 {
		return fmt.Errorf("min_value_usd and min_token_value_usd must not be negative")
	}
	if config.QuoteTimeout <= 0 || config.PlanTTL <= 0 {
		return fmt.Errorf("quote_timeout and plan_ttl must be positive")
	}
	if config.MaxConcurrentChains <= 0 {
		return fmt.Errorf("max_concurrent_chains must be positive")
	}
	if config.StatusPollInterval <= 0 || config.BridgeTimeout <= config.StatusPollInterval {
		return fmt.Errorf("bridge_timeout must exceed a positive status_poll_interval")
	}
	return nil
}
