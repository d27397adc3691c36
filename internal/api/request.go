package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sportzy/internal/model"
)

// User-facing messages substituted for some statuses.
const (
	msgTooManyRequests = "Too many requests. Please try again later."
	msgForbidden       = "Access forbidden. Request was blocked by security."
	msgUnavailable     = "Service temporarily unavailable. Please try again later."
)

// APIError is the only error type returned by Client methods. Status is
// zero when no response was received.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Details []model.FieldError
	Err     error
}

func (e *APIError) Error() string {
	prefix := ""
	if e.Method != "" {
		prefix = e.Method + " " + e.Path + ": "
	}
	if e.Status == 0 {
		return prefix + "request failed: " + e.Message
	}
	return fmt.Sprintf("%sapi error %d: %s", prefix, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsTransport reports whether the request never got a response.
func (e *APIError) IsTransport() bool {
	return e.Status == 0
}

// RequestOptions describes one call. Zero values fall back to the client's
// defaults.
type RequestOptions struct {
	Method     string // default GET
	Query      url.Values
	Body       any
	Timeout    time.Duration
	Retries    *int // nil uses the client default; 0 disables retry
	RetryDelay time.Duration

	// Route labels metrics, e.g. "/matches/{id}". Defaults to the path.
	Route string
}

// Retries is a helper for RequestOptions.Retries.
func Retries(n int) *int { return &n }

type response struct {
	status      int
	contentType string
	body        []byte
}

func (r *response) isJSON() bool {
	return strings.Contains(r.contentType, "application/json")
}

// Do issues a request and decodes a successful response into T.
func Do[T any](ctx context.Context, c *Client, path string, opts RequestOptions) (T, error) {
	var out T

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Route == "" {
		opts.Route = path
	}

	resp, err := c.doWithRetry(ctx, path, opts)
	if err != nil {
		return out, err
	}

	if resp.status < 200 || resp.status > 299 {
		apiErr := parseError(resp)
		apiErr.Method, apiErr.Path = opts.Method, path
		return out, apiErr
	}

	if err := decodeSuccess(resp, &out); err != nil {
		return out, &APIError{
			Method:  opts.Method,
			Path:    path,
			Status:  resp.status,
			Message: err.Error(),
			Err:     err,
		}
	}
	return out, nil
}

// doWithRetry runs attempts until one gets a response. Only transport
// failures and attempt timeouts are retried; any HTTP response is returned.
func (c *Client) doWithRetry(ctx context.Context, path string, opts RequestOptions) (*response, error) {
	retries := c.maxRetries
	if opts.Retries != nil {
		retries = *opts.Retries
	}
	retries = max(retries, 0)
	delay := c.retryDelay
	if opts.RetryDelay > 0 {
		delay = opts.RetryDelay
	}
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var payload []byte
	if opts.Body != nil {
		b, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, &APIError{Method: opts.Method, Path: path, Message: "encode request: " + err.Error(), Err: err}
		}
		payload = b
	}

	fullURL := c.baseURL + path
	if len(opts.Query) > 0 {
		fullURL += "?" + opts.Query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		start := time.Now()
		resp, err := c.doRequest(ctx, opts.Method, fullURL, payload, timeout)
		if err == nil {
			if c.metrics != nil {
				c.metrics.RequestCompleted(opts.Method, opts.Route, resp.status, time.Since(start))
			}
			return resp, nil
		}

		lastErr = err
		if c.metrics != nil {
			c.metrics.RequestCompleted(opts.Method, opts.Route, 0, time.Since(start))
		}

		// Caller gave up; no point retrying.
		if ctx.Err() != nil {
			break
		}
		if attempt == retries {
			break
		}

		wait := backoff(delay, attempt)
		c.logger.Debug("retrying request",
			"attempt", attempt+1,
			"backoff", wait,
			"method", opts.Method,
			"path", path,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RequestRetried(opts.Method, opts.Route)
		}
		if err := c.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	c.logger.Warn("request failed",
		"method", opts.Method,
		"path", path,
		"error", lastErr,
	)
	return nil, &APIError{
		Method:  opts.Method,
		Path:    path,
		Message: lastErr.Error(),
		Err:     lastErr,
	}
}

// backoff returns delay doubled attempt times, capped at MaxRetryBackoff.
func backoff(delay time.Duration, attempt int) time.Duration {
	wait := delay
	for i := 0; i < attempt && wait < MaxRetryBackoff; i++ {
		wait *= 2
	}
	return min(wait, MaxRetryBackoff)
}

// doRequest performs one attempt bounded by timeout. The body is read before
// the attempt's context is released.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, payload []byte, timeout time.Duration) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, attemptError("do request", attemptCtx, ctx, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attemptError("read response", attemptCtx, ctx, timeout, err)
	}

	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

func attemptError(op string, attemptCtx, parent context.Context, timeout time.Duration, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: attempt timed out after %s: %w", op, timeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// decodeSuccess unwraps a {data: T} envelope when present. Non-JSON bodies
// only decode into strings.
func decodeSuccess[T any](resp *response, out *T) error {
	if !resp.isJSON() {
		if s, ok := any(out).(*string); ok {
			*s = string(resp.body)
			return nil
		}
		if len(bytes.TrimSpace(resp.body)) == 0 {
			return nil
		}
		return fmt.Errorf("unexpected content type %q", resp.contentType)
	}

	body := resp.body
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var env map[string]json.RawMessage
	if json.Unmarshal(body, &env) == nil {
		if data, ok := env["data"]; ok {
			if _, hasErr := env["error"]; !hasErr {
				body = data
			}
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// parseError builds an APIError from a non-2xx response.
func parseError(resp *response) *APIError {
	apiErr := &APIError{
		Status:  resp.status,
		Message: fmt.Sprintf("HTTP %d", resp.status),
	}

	if resp.isJSON() {
		var env struct {
			Error   *string            `json:"error"`
			Details []model.FieldError `json:"details"`
		}
		var text string
		switch {
		case json.Unmarshal(resp.body, &env) == nil && env.Error != nil:
			apiErr.Message = *env.Error
			apiErr.Details = env.Details
		case json.Unmarshal(resp.body, &text) == nil && text != "":
			apiErr.Message = text
		}
	} else if text := strings.TrimSpace(string(resp.body)); text != "" {
		apiErr.Message = text
	}

	switch resp.status {
	case http.StatusTooManyRequests:
		apiErr.Message = msgTooManyRequests
	case http.StatusForbidden:
		apiErr.Message = msgForbidden
	case http.StatusServiceUnavailable:
		apiErr.Message = msgUnavailable
	}

	return apiErr
}

// validationError converts a client-side validation failure into the same
// shape the server uses for 400 responses.
func validationError(method, path string, err error) error {
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		return &APIError{Method: method, Path: path, Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}
	return &APIError{
		Method:  method,
		Path:    path,
		Status:  http.StatusBadRequest,
		Message: "Validation failed",
		Details: verr.Details,
		Err:     err,
	}
}
