package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/marketsync/internal/auth"
)

// Client provides signed access to one venue's REST API.
type Client struct {
	venue      string
	baseURL    string
	basePath   string // path component of baseURL, part of the signed path
	signer     auth.Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client. signer may be auth.NopSigner{} for
// public-only access.
func NewClient(venue, baseURL string, signer auth.Signer, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	basePath := ""
	if u, err := url.Parse(baseURL); err == nil {
		basePath = u.Path
	}
	if signer == nil {
		signer = auth.NopSigner{}
	}

	c := &Client{
		venue:    venue,
		baseURL:  baseURL,
		basePath: basePath,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration for idempotent requests.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithRateLimit caps requests per second with the given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
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

// Signer returns the signer used for requests.
func (c *Client) Signer() auth.Signer {
	return c.signer
}
