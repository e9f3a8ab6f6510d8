// Package upstream is the HTTP client shared by bridge and DEX integrations.
// Every call waits on the provider+chain rate limiter and runs through a per provider
// circuit breaker so a failing API is skipped quickly instead of stalling planning.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "upstream").Logger()
}

// maximum response body we are willing to read from a provider
const maxBodyBytes = 4 << 20

// Config configures one provider client
type Config struct {
	// Name is the provider name, used for limiter keys, breaker name and errors
	Name    string
	BaseURL string
	Timeout time.Duration
	// Headers are added to every request (api keys, accept)
	Headers map[string]string
	Limits  *ratelimit.Registry
	// HTTPClient overrides the default client, mostly for tests
	HTTPClient *http.Client
}

// Client performs rate limited, circuit broken JSON requests against one provider
type Client struct {
	name       string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	limits     *ratelimit.Registry
	breaker    *gobreaker.CircuitBreaker
}

// New creates a client for cfg
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors say nothing about the provider's health
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsTransient()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		httpClient: httpClient,
		limits:     cfg.Limits,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the configured base url without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET for path and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, chain chains.Chain, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, chain, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.name, err)
	}
	return nil
}

// PostJSON sends in as JSON body and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, chain chains.Chain, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", c.name, err)
	}
	body, err := c.do(ctx, chain, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.name, err)
	}
	return nil
}

// Get issues a GET for path relative to the base url and returns the raw body
func (c *Client) Get(ctx context.Context, chain chains.Chain, path string, query url.Values) ([]byte, error) {
	return c.GetURL(ctx, chain, c.baseURL+path, query)
}

// GetURL issues a GET against an absolute url. Some providers split quoting and
// tracking across different hosts.
func (c *Client) GetURL(ctx context.Context, chain chains.Chain, rawURL string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	return c.do(ctx, chain, http.MethodGet, rawURL, nil)
}

func (c *Client) do(ctx context.Context, chain chains.Chain, method, fullURL string, payload []byte) ([]byte, error) {
	if err := c.limits.Wait(ctx, c.name, chain); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = strings.NewReader(string(payload))
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.name)
		}
		log.Debug().Err(err).Str("provider", c.name).Str("chain", string(chain)).Str("method", method).Msg("Upstream request failed")
		return nil, err
	}
	return result.([]byte), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
