package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/zeebo/assert"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector
	c.ObserveQuote("plan", time.Second, nil)
	c.ProviderQuote("across", metrics.ResultOK)
	c.ExecutionStarted()
	c.ExecutionFinished("COMPLETED")
	c.ChainFinished("base", "COMPLETED")
	c.ChainRetry("base", "swap")
	assert.True(t, c.Registry() == nil)
}

func TestHandlerExposesCollectors(t *testing.T) {
	c := metrics.NewCollector("test")
	c.ProviderQuote("across", metrics.ResultTimeout)
	c.ObserveQuote("plan", 200*time.Millisecond, errors.New("boom"))
	c.ExecutionStarted()
	c.ExecutionFinished("PARTIAL_SUCCESS")
	c.ChainRetry("arbitrum", "bridge")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	assert.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `test_comparator_provider_quotes_total{provider="across",result="timeout"} 1`))
	assert.True(t, strings.Contains(text, `test_executor_executions_total{status="PARTIAL_SUCCESS"} 1`))
	assert.True(t, strings.Contains(text, `test_executor_active_executions 0`))
	assert.True(t, strings.Contains(text, `test_executor_chain_retries_total{chain="arbitrum",stage="bridge"} 1`))
	assert.True(t, strings.Contains(text, `test_planner_quote_duration_seconds_count{operation="plan",result="error"} 1`))
}
