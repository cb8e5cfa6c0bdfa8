package client

import (
	"log/slog"
	"net/http"

	"github.com/ConvoSphere/DataExtract/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer API key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom http.Client, e.g. for proxying or
// custom TLS configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry sets the retry policy for idempotent reads. A maxRetries of
// zero disables retries.
func WithRetry(maxRetries int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = strategy
	}
}
