package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/across"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/cbridge"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/hop"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/socket"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges/stargate"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/comparator"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/config"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex/jupiter"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex/oneinch"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/executor"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/planner"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/rpc"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/tracker"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// share the logger with the rpc package
	rpc.SetLogger(log)
}

func main() {
	configFile := flag.String("config", "", "service config toml, SWEEP_ environment variables are used when empty")
	providersFile := flag.String("providers", "", "providers toml, overrides providers_file from the service config")
	flag.Parse()

	var configPath *string
	if *configFile != "" {
		configPath = configFile
	}
	cfg, err := config.LoadServiceConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load service config")
	}
	if *providersFile != "" {
		cfg.ProvidersFile = *providersFile
	}

	log.Info().
		Str("config", defaultString(*configFile, "env")).
		Str("providers", cfg.ProvidersFile).
		Str("store", cfg.Store).
		Msg("Starting Spectra Sweep")

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load providers config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limits := ratelimit.NewRegistry(providers.Limits())
	collector := metrics.NewCollector("sweep")

	registry, err := bridges.NewRegistry(time.Now, buildBridges(providers, limits)...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register bridge providers")
	}
	aggregators := dex.NewRouter(buildAggregators(providers, limits)...)
	log.Info().
		Strs("bridges", registry.Names()).
		Int("dexes", len(aggregators.Aggregators())).
		Msg("Providers initialized")

	submitter, err := evm.Dial(ctx, providers.Endpoints(), limits)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to relayer rpc endpoints")
	}
	defer submitter.Close()

	quotePlanner := planner.New(aggregators, comparator.New(registry, comparator.Config{Metrics: collector}), planner.Config{
		MinValueUsd:         decimal.NewFromFloat(cfg.MinValueUsd),
		MinTokenValueUsd:    decimal.NewFromFloat(cfg.MinTokenValueUsd),
		MaxConcurrentChains: cfg.MaxConcurrentChains,
		QuoteTimeout:        cfg.QuoteTimeout,
		PlanTTL:             cfg.PlanTTL,
		Metrics:             collector,
		ExecutableChains:    submitter.Chains(),
	})

	exec := executor.New(aggregators, registry, submitter, executor.Config{
		MaxConcurrentChains: int64(cfg.MaxConcurrentChains),
		StatusPollInterval:  cfg.StatusPollInterval,
		BridgeTimeout:       cfg.BridgeTimeout,
		Limits:              limits,
		Metrics:             collector,
	})

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close state store")
		}
	}()

	server, err := rpc.NewServer(ctx, buildServerConfig(cfg), rpc.Dependencies{
		Planner:  quotePlanner,
		Executor: exec,
		Tracker:  tracker.New(store, nil),
		Bridges:  registry,
		Dexes:    aggregators,
		Metrics:  collector,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	// running consolidations finish the chains they started but schedule no more
	cancel()
}

func buildBridges(cfg *config.ProvidersConfig, limits *ratelimit.Registry) []bridges.Provider {
	var out []bridges.Provider
	if p, ok := cfg.Bridge(across.Name); ok {
		out = append(out, across.New(across.Config{APIURL: p.APIURL, Timeout: p.Timeout(), Limits: limits}))
	}
	if p, ok := cfg.Bridge(stargate.Name); ok {
		out = append(out, stargate.New(stargate.Config{APIURL: p.APIURL, ScanURL: p.ScanURL, Timeout: p.Timeout(), Limits: limits}))
	}
	if p, ok := cfg.Bridge(cbridge.Name); ok {
		out = append(out, cbridge.New(cbridge.Config{APIURL: p.APIURL, Timeout: p.Timeout(), Limits: limits}))
	}
	if p, ok := cfg.Bridge(hop.Name); ok {
		out = append(out, hop.New(hop.Config{APIURL: p.APIURL, Timeout: p.Timeout(), Limits: limits}))
	}
	if p, ok := cfg.Bridge(socket.Name); ok {
		out = append(out, socket.New(socket.Config{APIURL: p.APIURL, APIKey: p.Key(), Timeout: p.Timeout(), Limits: limits}))
	}
	return out
}

func buildAggregators(cfg *config.ProvidersConfig, limits *ratelimit.Registry) []dex.Aggregator {
	var out []dex.Aggregator
	if p, ok := cfg.Dex(oneinch.Name); ok {
		if p.Key() == "" {
			log.Warn().Msg("1inch enabled without an api key, requests will likely be rejected")
		}
		out = append(out, oneinch.New(oneinch.Config{APIURL: p.APIURL, APIKey: p.Key(), Timeout: p.Timeout(), Limits: limits}))
	}
	if p, ok := cfg.Dex(jupiter.Name); ok {
		out = append(out, jupiter.New(jupiter.Config{APIURL: p.APIURL, Timeout: p.Timeout(), Limits: limits}))
	}
	return out
}

func buildStore(ctx context.Context, cfg *config.ServiceConfig) (tracker.Store, error) {
	if cfg.Store == config.StoreRedis {
		return tracker.NewRedisStore(ctx, tracker.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return tracker.NewMemoryStore(), nil
}

// buildServerConfig converts the service config to rpc.ServerConfig
func buildServerConfig(cfg *config.ServiceConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        cfg.Host + ":" + strconv.Itoa(cfg.Port),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  true,
	}

	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     defaultString(cfg.ServiceName, "spectra-sweep"),
			ServiceVersion:  defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}

	return serverConfig
}

// defaultString returns the default value if s is empty
func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
