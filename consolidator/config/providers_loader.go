package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/pelletier/go-toml/v2"
)

// Known provider names, matching the adapters' Name constants
var (
	KnownBridges = []string{"across", "stargate", "cbridge", "hop", "socket"}
	KnownDexes   = []string{"1inch", "jupiter"}
)

// LoadProviders reads and validates a providers.toml file
func LoadProviders(path string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes and validates providers.toml content
func ParseProviders(data []byte) (*ProvidersConfig, error) {
	var config ProvidersConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers TOML: %w", err)
	}
	if err := verifyProviders(&config); err != nil {
		return nil, fmt.Errorf("invalid providers config: %w", err)
	}
	return &config, nil
}

func verifyProviders(config *ProvidersConfig) error {
	if err := verifyGroup("bridge", config.Bridges, KnownBridges); err != nil {
		return err
	}
	if err := verifyGroup("dex", config.Dexes, KnownDexes); err != nil {
		return err
	}
	if len(config.RPC) == 0 {
		return fmt.Errorf("at least one rpc endpoint is required")
	}
	for name, endpoint := range config.RPC {
		info, ok := chains.Lookup(chains.Chain(name))
		if !ok || !info.EVM {
			return fmt.Errorf("rpc endpoint for unsupported or non EVM chain %q", name)
		}
		if err := verifyURL(endpoint); err != nil {
			return fmt.Errorf("rpc endpoint of %s: %w", name, err)
		}
	}
	return verifyLimit("rpc", config.RPCLimit)
}

func verifyGroup(kind string, group map[string]ProviderConfig, known []string) error {
	enabled := 0
	for name, p := range group {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown %s %q, expected one of %v", kind, name, known)
		}
		if !p.Enabled {
			continue
		}
		enabled++
		if p.APIURL != "" {
			if err := verifyURL(p.APIURL); err != nil {
				return fmt.Errorf("%s %s api_url: %w", kind, name, err)
			}
		}
		if p.ScanURL != "" {
			if err := verifyURL(p.ScanURL); err != nil {
				return fmt.Errorf("%s %s scan_url: %w", kind, name, err)
			}
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("%s %s timeout_seconds must not be negative", kind, name)
		}
		if err := verifyLimit(name, p.Limit); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one %s must be enabled", kind)
	}
	return nil
}

func verifyLimit(name string, l RateLimit) error {
	if l.PerSecond < 0 || l.Burst < 0 {
		return fmt.Errorf("%s limit must not be negative", name)
	}
	return nil
}

func verifyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Timeout returns the request timeout, zero keeps the adapter default
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Key returns the api key, reading APIKeyEnv when APIKey is empty
func (p ProviderConfig) Key() string {
	if p.APIKey != "" || p.APIKeyEnv == "" {
		return p.APIKey
	}
	return os.Getenv(p.APIKeyEnv)
}

// Bridge returns the settings of an enabled bridge provider
func (c *ProvidersConfig) Bridge(name string) (ProviderConfig, bool) {
	p, ok := c.Bridges[name]
	return p, ok && p.Enabled
}

// Dex returns the settings of an enabled dex aggregator
func (c *ProvidersConfig) Dex(name string) (ProviderConfig, bool) {
	p, ok := c.Dexes[name]
	return p, ok && p.Enabled
}

// Limits builds the rate limits keyed the way ratelimit.Registry expects.
// Unset limits are left out so the registry default applies.
func (c *ProvidersConfig) Limits() map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit)
	add := func(name string, l RateLimit) {
		if l.PerSecond > 0 {
			limits[name] = ratelimit.Limit{PerSecond: l.PerSecond, Burst: l.Burst}
		}
	}
	for name, p := range c.Bridges {
		add(name, p.Limit)
	}
	for name, p := range c.Dexes {
		add(name, p.Limit)
	}
	add(evm.RateLimitKey, c.RPCLimit)
	return limits
}

// Endpoints returns the rpc endpoints keyed by chain
func (c *ProvidersConfig) Endpoints() map[chains.Chain]string {
	out := make(map[chains.Chain]string, len(c.RPC))
	for name, endpoint := range c.RPC {
		out[chains.Chain(name)] = endpoint
	}
	return out
}
