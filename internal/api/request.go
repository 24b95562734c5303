package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

// ErrTimeout means no response arrived before the deadline. The venue may
// still have processed the request.
var ErrTimeout = errors.New("request timed out")

// APIError represents an HTTP error from a venue API.
type APIError struct {
	Venue      string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Venue, e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// doRequest performs one signed HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, fmt.Errorf("rate limit wait: %w", err))
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	headers, err := c.signer.SignREST(method, c.basePath+path, body, c.now())
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Venue:      c.venue,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// classify wraps deadline and network timeouts in ErrTimeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// doWithRetry retries idempotent requests on retryable API errors with
// jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	retries := c.maxRetries
	if method == http.MethodPost {
		retries = 0
	}

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"venue", c.venue,
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, classify(ctx, ctx.Err())
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		respBody, err := c.doRequest(ctx, method, path, query, body)
		if err == nil {
			return respBody, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	if retries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Get performs a GET request with retries and decodes the JSON response.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, result)
}

// Post sends a JSON body once, without retries.
func (c *Client) Post(ctx context.Context, path string, payload, result any) error {
	return c.call(ctx, http.MethodPost, path, nil, payload, result)
}

// Delete performs a DELETE request with an optional JSON body.
func (c *Client) Delete(ctx context.Context, path string, payload, result any) error {
	return c.call(ctx, http.MethodDelete, path, nil, payload, result)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload, result any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	respBody, err := c.doWithRetry(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
