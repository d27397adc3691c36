package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for a new Client.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second

	// MaxRetryBackoff caps the wait between two attempts.
	MaxRetryBackoff = 5 * time.Minute
)

// Metrics receives request counters. Implemented by metrics.Recorder.
type Metrics interface {
	RequestCompleted(method, route string, status int, d time.Duration)
	RequestRetried(method, route string)
}

// Client provides access to the matches REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Metrics

	timeout    time.Duration // per attempt
	maxRetries int
	retryDelay time.Duration

	// sleep waits between attempts. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
		timeout:    DefaultTimeout,
		maxRetries: DefaultRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// WithTimeout sets the timeout applied to each attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets how many times a failed attempt is retried and the
// initial delay, which doubles after every attempt. A negative max disables
// retries.
func WithRetries(max int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
