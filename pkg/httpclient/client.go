package httpclient

import (
	"net/http"
	"time"

	"sre_assistant/internal/config"
	"sre_assistant/pkg/circuitbreaker"
)

// Client is a custom HTTP client that wraps the standard http.Client
// and provides built-in support for circuit breaking. Each telemetry
// backend gets its own Client so one dead backend cannot trip the
// breaker for the others.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// New creates a Client for one downstream backend.
// timeout bounds a single round trip; retries live above this layer.
func New(cfg config.CircuitBreakerConfig, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if !cfg.Enabled {
		return &Client{httpClient: httpClient}, nil
	}

	breakerTimeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient: httpClient,
		breaker:    circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, breakerTimeout),
	}, nil
}

// Do executes an HTTP request with circuit breaker protection.
// Transport errors count as failures; HTTP status handling is left to the
// caller, since a 404 from a list endpoint is not a backend failure.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Execute(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
