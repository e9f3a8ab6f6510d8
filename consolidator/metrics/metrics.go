// Package metrics holds the Prometheus collectors of the consolidator:
// planning latency, provider quote outcomes and execution results.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider quote outcomes
const (
	ResultOK      = "ok"
	ResultNoQuote = "no_quote"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Collector provides consolidator metrics collection.
type Collector struct {
	registry *prometheus.Registry

	quoteLatency     *prometheus.HistogramVec
	providerQuotes   *prometheus.CounterVec
	executions       *prometheus.CounterVec
	activeExecutions prometheus.Gauge
	chainOutcomes    *prometheus.CounterVec
	chainRetries     *prometheus.CounterVec
}

// NewCollector creates a collector on its own registry
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "sweep"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.quoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "quote_duration_seconds",
			Help:      "Time taken to build a consolidation plan",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"operation", "result"},
	)

	c.providerQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comparator",
			Name:      "provider_quotes_total",
			Help:      "Bridge provider quote attempts by outcome",
		},
		[]string{"provider", "result"},
	)

	c.executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Finished consolidations by final status",
		},
		[]string{"status"},
	)

	c.activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "active_executions",
			Help:      "Consolidations currently executing",
		},
	)

	c.chainOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "chain_operations_total",
			Help:      "Finished chain operations by chain and status",
		},
		[]string{"chain", "status"},
	)

	c.chainRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "chain_retries_total",
			Help:      "Retried chain steps by chain and stage",
		},
		[]string{"chain", "stage"},
	)

	c.registry.MustRegister(
		c.quoteLatency,
		c.providerQuotes,
		c.executions,
		c.activeExecutions,
		c.chainOutcomes,
		c.chainRetries,
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector registry together with the process defaults
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, c.registry},
		promhttp.HandlerOpts{},
	)
}

// ObserveQuote records how long a plan or simulation took
func (c *Collector) ObserveQuote(operation string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	c.quoteLatency.WithLabelValues(operation, result).Observe(d.Seconds())
}

// ProviderQuote counts one provider quote attempt
func (c *Collector) ProviderQuote(provider, result string) {
	if c == nil {
		return
	}
	c.providerQuotes.WithLabelValues(provider, result).Inc()
}

// ExecutionStarted marks a consolidation as running
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.activeExecutions.Inc()
}

// ExecutionFinished records the final status of a consolidation
func (c *Collector) ExecutionFinished(status string) {
	if c == nil {
		return
	}
	c.activeExecutions.Dec()
	c.executions.WithLabelValues(status).Inc()
}

// ChainFinished records the terminal status of one chain operation
func (c *Collector) ChainFinished(chain, status string) {
	if c == nil {
		return
	}
	c.chainOutcomes.WithLabelValues(chain, status).Inc()
}

// ChainRetry counts a retried swap or bridge step
func (c *Collector) ChainRetry(chain, stage string) {
	if c == nil {
		return
	}
	c.chainRetries.WithLabelValues(chain, stage).Inc()
}
