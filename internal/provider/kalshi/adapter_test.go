package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func testCredentials(t *testing.T) *auth.KalshiCredentials {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return &auth.KalshiCredentials{KeyID: "test-key", PrivateKey: testKey}
}

func newTestAdapter(t *testing.T, restURL string) *Adapter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RESTURL = restURL + "/trade-api/v2"
	cfg.StreamURL = "ws://127.0.0.1:1/unused"
	cfg.Credentials = testCredentials(t)
	cfg.MaxRetries = 0
	cfg.RateLimit = 0

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(cfg, nil)
	if !errors.Is(err, auth.ErrAuthConfig) {
		t.Errorf("err = %v, want ErrAuthConfig", err)
	}
}

func TestAdapter_Capabilities(t *testing.T) {
	a := newTestAdapter(t, "http://127.0.0.1:1")
	caps := a.Capabilities()
	if !caps.Supports(provider.CapPlaceOrder | provider.CapGTD | provider.CapOrderStream) {
		t.Errorf("caps = %s", caps)
	}
	if caps.Supports(provider.CapMarketCreation) {
		t.Error("kalshi adapter should not support market creation")
	}
}

func TestFetchSnapshot(t *testing.T) {
	var unsigned atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderKalshiSignature) == "" || r.Header.Get(auth.HeaderKalshiKey) != "test-key" {
			unsigned.Add(1)
		}
		if r.URL.Path != "/trade-api/v2/markets/KXTEST/orderbook" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"orderbook":{
			"yes_dollars":[["0.40",10],["0.45",5]],
			"no_dollars":[["0.50",7]]
		}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	// Stream has delivered seq 12 for this market.
	if _, err := a.DecodeStreamMessage([]byte(`{"type":"orderbook_delta","sid":1,"seq":12,
		"msg":{"market_ticker":"KXTEST","price_dollars":"0.45","delta":5,"side":"yes"}}`)); err != nil {
		t.Fatalf("decode: %v", err)
	}

	snap, err := a.FetchSnapshot(context.Background(), bookKey("KXTEST", OutcomeYes))
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if unsigned.Load() != 0 {
		t.Error("request was not signed")
	}
	if snap.Sequence != 12 {
		t.Errorf("Sequence = %d, want 12", snap.Sequence)
	}
	if len(snap.Bids) != 2 || !snap.Bids[0].Price.Equal(dec("0.45")) {
		t.Errorf("Bids = %v, want descending from 0.45", snap.Bids)
	}
	if len(snap.Asks) != 1 || !snap.Asks[0].Price.Equal(dec("0.50")) || !snap.Asks[0].Size.Equal(dec("7")) {
		t.Errorf("Asks = %v, want [0.50 x 7]", snap.Asks)
	}

	noSnap, err := a.FetchSnapshot(context.Background(), bookKey("KXTEST", OutcomeNo))
	if err != nil {
		t.Fatalf("FetchSnapshot(no) failed: %v", err)
	}
	if len(noSnap.Asks) != 2 || !noSnap.Asks[0].Price.Equal(dec("0.55")) {
		t.Errorf("no Asks = %v, want ascending from 0.55", noSnap.Asks)
	}
}

func TestFetchSnapshot_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trade-api/v2/markets/GONE/orderbook":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.FetchSnapshot(context.Background(), bookKey("GONE", OutcomeYes))
	if !errors.Is(err, provider.ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound", err)
	}

	_, err = a.FetchSnapshot(context.Background(), bookKey("BUSY", OutcomeYes))
	if !errors.Is(err, provider.ErrSnapshotUnavailable) {
		t.Errorf("err = %v, want ErrSnapshotUnavailable", err)
	}

	_, err = a.FetchSnapshot(context.Background(), bookKey("BUSY", "maybe"))
	if !errors.Is(err, provider.ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound for unknown outcome", err)
	}
}

func TestListMarkets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "open" {
			t.Errorf("status filter = %q", r.URL.Query().Get("status"))
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write([]byte(`{"markets":[{"ticker":"A","title":"Alpha","status":"active","close_time":"2026-11-03T00:00:00Z"}],"cursor":"next"}`))
		case "next":
			w.Write([]byte(`{"markets":[{"ticker":"B","title":"Beta","status":"settled"}],"cursor":""}`))
		}
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)
	markets, err := a.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}

	m := markets[0]
	if m.ExternalID != "A" || m.Status != model.MarketActive || m.CloseTime == nil {
		t.Errorf("markets[0] = %+v", m)
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0] != OutcomeYes {
		t.Errorf("Outcomes = %v", m.Outcomes)
	}
	if markets[1].Status != model.MarketSettled {
		t.Errorf("markets[1].Status = %s, want SETTLED", markets[1].Status)
	}
}
