package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/auth"
)

// recordingSigner stamps the signed method+path into a header.
type recordingSigner struct {
	auth.NopSigner
	err error
}

func (s recordingSigner) SignREST(method, path string, body []byte, ts time.Time) (http.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	h := http.Header{}
	h.Set("X-Signed", method+" "+path+" "+string(body))
	return h, nil
}

func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("kalshi", "https://api.example.com/trade-api/v2/", nil)

		if c.baseURL != "https://api.example.com/trade-api/v2" {
			t.Errorf("baseURL = %q", c.baseURL)
		}
		if c.basePath != "/trade-api/v2" {
			t.Errorf("basePath = %q, want %q", c.basePath, "/trade-api/v2")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if _, ok := c.Signer().(auth.NopSigner); !ok {
			t.Errorf("Signer() = %T, want auth.NopSigner", c.Signer())
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{}
		c := NewClient("polymarket", "https://clob.example.com", auth.NopSigner{},
			WithHTTPClient(hc),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithRateLimit(5, 2),
			WithLogger(logger),
		)
		if c.httpClient != hc || hc.Timeout != 15*time.Second {
			t.Error("HTTP client options not applied")
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
		}
		if c.limiter.Limit() != 5 || c.limiter.Burst() != 2 {
			t.Errorf("limiter = %v/%d, want 5/2", c.limiter.Limit(), c.limiter.Burst())
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})
}

func TestClient_SignsFullPath(t *testing.T) {
	type request struct {
		signed, query, body string
	}
	requests := make(chan request, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		requests <- request{signed: r.Header.Get("X-Signed"), query: r.URL.RawQuery, body: string(b)}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient("kalshi", server.URL+"/trade-api/v2", recordingSigner{})

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.Get(context.Background(), "/markets", map[string][]string{"limit": {"5"}}, &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	got := <-requests
	if got.signed != "GET /trade-api/v2/markets " {
		t.Errorf("signed = %q, want query excluded and base path included", got.signed)
	}
	if got.query != "limit=5" {
		t.Errorf("query = %q", got.query)
	}

	if err := c.Post(context.Background(), "/portfolio/orders", map[string]int{"count": 1}, nil); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	got = <-requests
	if got.signed != `POST /trade-api/v2/portfolio/orders {"count":1}` {
		t.Errorf("signed = %q", got.signed)
	}
	if got.body != `{"count":1}` {
		t.Errorf("body = %q", got.body)
	}
}

func TestClient_SignerErrorSurfaces(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	c := NewClient("kalshi", server.URL, recordingSigner{err: auth.ErrAuthConfig})
	err := c.Get(context.Background(), "/portfolio/balance", nil, nil)
	if !errors.Is(err, auth.ErrAuthConfig) {
		t.Errorf("err = %v, want ErrAuthConfig", err)
	}
	if calls.Load() != 0 {
		t.Error("request sent without signature")
	}
}

func TestClient_RetriesIdempotentOnly(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method == http.MethodGet && n >= 3 {
			w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient("kalshi", server.URL, nil, WithRetries(3, time.Millisecond))

	if err := c.Get(context.Background(), "/x", nil, nil); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("GET calls = %d, want 3", calls.Load())
	}

	calls.Store(0)
	err := c.Post(context.Background(), "/x", map[string]string{}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("err = %v, want 502 APIError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("POST calls = %d, want 1", calls.Load())
	}
}

func TestClient_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer server.Close()

	c := NewClient("kalshi", server.URL, nil, WithRetries(3, time.Millisecond))
	err := c.Get(context.Background(), "/markets/NOPE", nil, nil)
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && string(apiErr.Body) != `{"error":"not found"}` {
		t.Errorf("Body = %q", apiErr.Body)
	}
}

func TestClient_TimeoutClassification(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	t.Run("context deadline", func(t *testing.T) {
		c := NewClient("kalshi", server.URL, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := c.Post(ctx, "/portfolio/orders", map[string]int{"count": 1}, nil)
		if !IsTimeout(err) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	})

	t.Run("http client timeout", func(t *testing.T) {
		c := NewClient("kalshi", server.URL, nil, WithTimeout(30*time.Millisecond))
		err := c.Post(context.Background(), "/portfolio/orders", map[string]int{"count": 1}, nil)
		if !IsTimeout(err) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &APIError{Venue: "kalshi", StatusCode: tt.status}
		if e.IsRetryable() != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, e.IsRetryable(), tt.retryable)
		}
	}

	e := &APIError{Venue: "polymarket", StatusCode: 500, Message: "Internal Server Error"}
	if e.Error() != "polymarket api error 500: Internal Server Error" {
		t.Errorf("Error() = %q", e.Error())
	}
}
