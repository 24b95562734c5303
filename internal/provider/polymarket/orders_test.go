package polymarket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

type fakeOrderSigner struct {
	last OrderRequest
}

func (s *fakeOrderSigner) SignOrder(_ context.Context, req OrderRequest) (SignedOrder, error) {
	s.last = req
	return SignedOrder{
		Order:   map[string]string{"tokenId": req.TokenID, "signature": "0xsig"},
		OrderID: "0xhash",
	}, nil
}

func gtcOrder() model.Order {
	p := decimal.RequireFromString("0.45")
	return model.Order{
		Venue:   model.VenuePolymarket,
		Market:  "COND",
		Outcome: "Yes",
		Side:    model.Buy,
		Type:    model.OrderGTC,
		Size:    decimal.RequireFromString("10.5"),
		Price:   &p,
	}
}

func tradingAdapter(t *testing.T, url string, signer OrderSigner) *Adapter {
	t.Helper()
	a := newTestAdapter(t, url, func(c *Config) {
		c.Credentials = testCredentials(t)
		c.OrderSigner = signer
	})
	a.rememberTokens(&apiMarket{
		ConditionID: "COND",
		Tokens:      []apiToken{{TokenID: "111", Outcome: "Yes"}, {TokenID: "222", Outcome: "No"}},
	})
	return a
}

func TestPlaceOrder(t *testing.T) {
	type request struct {
		body   string
		signed bool
	}
	requests := make(chan request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		requests <- request{
			body:   string(b),
			signed: r.Header.Get(auth.HeaderPolySignature) != "" && r.Header.Get(auth.HeaderPolyAPIKey) == "api-key",
		}
		w.Write([]byte(`{"success":true,"errorMsg":"","orderID":"0xhash","status":"live"}`))
	}))
	defer server.Close()

	signer := &fakeOrderSigner{}
	a := tradingAdapter(t, server.URL, signer)

	resp, err := a.PlaceOrder(context.Background(), gtcOrder())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if resp.OrderID != "0xhash" || resp.Status != model.OrderConfirmed {
		t.Errorf("resp = %+v", resp)
	}
	if signer.last.TokenID != "111" || !signer.last.Size.Equal(dec("10.5")) {
		t.Errorf("sign request = %+v", signer.last)
	}
	req := <-requests
	if !strings.Contains(req.body, `"owner":"api-key"`) || !strings.Contains(req.body, `"orderType":"GTC"`) {
		t.Errorf("body = %s", req.body)
	}
	if !req.signed {
		t.Error("order post was not L2-signed")
	}
}

func TestPlaceOrder_TimeoutKeepsHash(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a := tradingAdapter(t, server.URL, &fakeOrderSigner{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := a.PlaceOrder(ctx, gtcOrder())
	if !errors.Is(err, provider.ErrOrderTimeout) {
		t.Fatalf("err = %v, want ErrOrderTimeout", err)
	}
	if resp.Status != model.OrderPending || resp.OrderID != "0xhash" {
		t.Errorf("resp = %+v, want PENDING with hash", resp)
	}
}

func TestPlaceOrder_VenueRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	}))
	defer server.Close()

	a := tradingAdapter(t, server.URL, &fakeOrderSigner{})
	resp, err := a.PlaceOrder(context.Background(), gtcOrder())
	if !errors.Is(err, provider.ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	if resp.Status != model.OrderFailed {
		t.Errorf("Status = %s, want FAILED", resp.Status)
	}
}

func TestPlaceOrder_MarketOrdersUnsupported(t *testing.T) {
	a := tradingAdapter(t, "http://127.0.0.1:1", &fakeOrderSigner{})
	o := gtcOrder()
	o.Type = model.OrderMarket
	o.Price = nil

	_, err := a.PlaceOrder(context.Background(), o)
	if !errors.Is(err, provider.ErrUnsupportedOperation) {
		t.Errorf("err = %v, want ErrUnsupportedOperation", err)
	}
}

func TestCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		switch {
		case r.Method != http.MethodDelete || r.URL.Path != "/order":
			w.WriteHeader(http.StatusNotFound)
		case strings.Contains(string(b), `"0xlive"`):
			w.Write([]byte(`{"canceled":["0xlive"],"not_canceled":{}}`))
		default:
			w.Write([]byte(`{"canceled":[],"not_canceled":{"0xdone":"order already matched"}}`))
		}
	}))
	defer server.Close()

	a := tradingAdapter(t, server.URL, nil)

	ok, err := a.CancelOrder(context.Background(), "0xlive")
	if err != nil || !ok {
		t.Errorf("CancelOrder = %v, %v", ok, err)
	}

	ok, err = a.CancelOrder(context.Background(), "0xdone")
	if ok || !errors.Is(err, provider.ErrOrderRejected) {
		t.Errorf("CancelOrder(matched) = %v, %v", ok, err)
	}
}

func TestOrderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/order/0xpart":
			w.Write([]byte(`{"id":"0xpart","status":"LIVE","market":"COND","original_size":"10","size_matched":"4","price":"0.45"}`))
		case "/data/order/0xfull":
			w.Write([]byte(`{"id":"0xfull","status":"MATCHED","original_size":"10","size_matched":"10","price":"0.45"}`))
		default:
			w.Write([]byte(`null`))
		}
	}))
	defer server.Close()

	a := tradingAdapter(t, server.URL, nil)

	resp, err := a.OrderStatus(context.Background(), model.OrderRef{OrderID: "0xpart"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != model.OrderPartiallyFilled || !resp.FilledSize.Equal(dec("4")) {
		t.Errorf("resp = %+v", resp)
	}

	resp, err = a.OrderStatus(context.Background(), model.OrderRef{OrderID: "0xfull"})
	if err != nil || resp.Status != model.OrderFilled {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}

	_, err = a.OrderStatus(context.Background(), model.OrderRef{OrderID: "0xnone"})
	if !errors.Is(err, provider.ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}
