package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketsync/internal/aggregator"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/publish"
	"github.com/rickgao/marketsync/internal/reconcile"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/store"
)

type fakeSource struct {
	books  []aggregator.BookStatus
	orders []orders.Tracked
}

func (fakeSource) Venues() []model.Venue {
	return []model.Venue{model.VenueKalshi, model.VenuePolymarket}
}

func (fakeSource) Adapter(model.Venue) (provider.Adapter, error) {
	return nil, errors.New("no adapters in this test")
}

func (fakeSource) SessionStatus(v model.Venue) (model.SessionState, error) {
	if v == model.VenueKalshi {
		return model.StateSubscribed, nil
	}
	return model.StateDegraded, nil
}

func (s fakeSource) BookStatuses(bool) []aggregator.BookStatus { return s.books }

func (fakeSource) RouterStats() router.RouterStats {
	return router.RouterStats{EventsReceived: 10, EventsRouted: 8, Unrouted: 2, Resets: 1}
}

func (s fakeSource) OpenOrders() []orders.Tracked { return s.orders }

// gather returns every sample keyed by name{label=value,...} in label order.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace) {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestCollector(t *testing.T) {
	key := model.BookKey{Venue: model.VenueKalshi, Market: "KXBTC", Outcome: "yes"}
	src := fakeSource{
		books: []aggregator.BookStatus{{
			Key:      key,
			Synced:   true,
			Sequence: 42,
			Stats:    reconcile.Stats{Applied: 40, Gaps: 1, Resyncs: 2, Fetches: 2, Buffered: 3},
		}},
		orders: []orders.Tracked{
			{Order: model.Order{Venue: model.VenueKalshi}, Response: model.OrderResponse{Status: model.OrderPending}},
			{Order: model.Order{Venue: model.VenueKalshi}, Response: model.OrderResponse{Status: model.OrderPending}},
		},
	}
	c := NewCollector(src,
		WithArchive(func() store.Stats { return store.Stats{Inserts: 5, Conflicts: 1} }),
		WithPublisher(func() publish.Stats { return publish.Stats{Books: 7} }),
	)
	got := gather(t, NewRegistry(c))

	bookLabels := "{market=KXBTC,outcome=yes,venue=kalshi}"
	assert.Equal(t, 1.0, got["marketsync_session_state{state=SUBSCRIBED,venue=kalshi}"])
	assert.Equal(t, 0.0, got["marketsync_session_state{state=DISCONNECTED,venue=kalshi}"])
	assert.Equal(t, 1.0, got["marketsync_session_state{state=DEGRADED,venue=polymarket}"])
	assert.Equal(t, 1.0, got["marketsync_books_watched{venue=kalshi}"])
	assert.Equal(t, 0.0, got["marketsync_books_watched{venue=polymarket}"])
	assert.Equal(t, 1.0, got["marketsync_book_synced"+bookLabels])
	assert.Equal(t, 42.0, got["marketsync_book_sequence"+bookLabels])
	assert.Equal(t, 3.0, got["marketsync_book_buffered_deltas"+bookLabels])
	assert.Equal(t, 40.0, got["marketsync_book_deltas_applied_total"+bookLabels])
	assert.Equal(t, 1.0, got["marketsync_book_gaps_total"+bookLabels])
	assert.Equal(t, 2.0, got["marketsync_book_resyncs_total"+bookLabels])
	assert.Equal(t, 2.0, got["marketsync_router_events_unrouted_total{}"])
	assert.Equal(t, 2.0, got["marketsync_orders_open{status=PENDING,venue=kalshi}"])
	assert.Equal(t, 5.0, got["marketsync_archive_rows_total{result=inserted}"])
	assert.Equal(t, 7.0, got["marketsync_published_total{kind=book}"])
}

func TestHandler(t *testing.T) {
	reg := NewRegistry(NewCollector(fakeSource{}))
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
