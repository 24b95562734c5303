// Package metrics exposes the runtime's state as Prometheus metrics.
//
// Nothing is counted on the hot path here. The Collector reads the
// aggregator's book, session, router and order state at scrape time, so a
// scrape costs one pass over the watched books.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/marketsync/internal/aggregator"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/publish"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/store"
)

const namespace = "marketsync"

// Source is the read side of the aggregator.
type Source interface {
	Venues() []model.Venue
	Adapter(venue model.Venue) (provider.Adapter, error)
	SessionStatus(venue model.Venue) (model.SessionState, error)
	BookStatuses(includeBooks bool) []aggregator.BookStatus
	RouterStats() router.RouterStats
	OpenOrders() []orders.Tracked
}

var sessionStates = []model.SessionState{
	model.StateDisconnected,
	model.StateConnecting,
	model.StateAuthenticating,
	model.StateSubscribed,
	model.StateDegraded,
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var (
	sessionStateDesc = desc("session_state", "1 for the current transport session state of each venue.", "venue", "state")
	eventQueueDesc   = desc("event_queue_length", "Events decoded but not yet routed.", "venue")
	eventResizeDesc  = desc("event_queue_resizes_total", "Times the venue event queue grew.", "venue")

	booksDesc       = desc("books_watched", "Watched books per venue.", "venue")
	bookSyncedDesc  = desc("book_synced", "1 when the book is synced with the venue stream.", "venue", "market", "outcome")
	bookSeqDesc     = desc("book_sequence", "Last applied sequence number.", "venue", "market", "outcome")
	bookBufferDesc  = desc("book_buffered_deltas", "Deltas held while the book resyncs.", "venue", "market", "outcome")
	appliedDesc     = desc("book_deltas_applied_total", "Deltas applied.", "venue", "market", "outcome")
	duplicateDesc   = desc("book_deltas_duplicate_total", "Deltas dropped as already applied.", "venue", "market", "outcome")
	gapDesc         = desc("book_gaps_total", "Sequence gaps detected.", "venue", "market", "outcome")
	corruptionDesc  = desc("book_corruptions_total", "Updates that would have corrupted the book.", "venue", "market", "outcome")
	resyncDesc      = desc("book_resyncs_total", "Completed resyncs.", "venue", "market", "outcome")
	fetchDesc       = desc("book_snapshot_fetches_total", "REST snapshot fetch cycles started.", "venue", "market", "outcome")
	fetchErrorsDesc = desc("book_snapshot_fetch_errors_total", "REST snapshot fetch cycles that failed.", "venue", "market", "outcome")

	routerEventsDesc   = desc("router_events_received_total", "Events read from venue queues.")
	routerRoutedDesc   = desc("router_events_routed_total", "Events delivered to a target.")
	routerUnroutedDesc = desc("router_events_unrouted_total", "Book events with no watching engine.")
	routerResetsDesc   = desc("router_resets_total", "Session resets fanned out to books.")
	routerRejectDesc   = desc("router_rejected_total", "Events refused by a stopped engine.")

	openOrdersDesc = desc("orders_open", "Tracked orders not yet final.", "venue", "status")

	archiveDesc = desc("archive_rows_total", "Archive rows by outcome.", "result")
	publishDesc = desc("published_total", "Events published to NATS by kind.", "kind")
)

// Option configures a Collector.
type Option func(*Collector)

// WithArchive reports the trade archive's counters.
func WithArchive(stats func() store.Stats) Option {
	return func(c *Collector) { c.archive = stats }
}

// WithPublisher reports the NATS publisher's counters.
func WithPublisher(stats func() publish.Stats) Option {
	return func(c *Collector) { c.publisher = stats }
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src       Source
	archive   func() store.Stats
	publisher func() publish.Stats
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from src.
func NewCollector(src Source, opts ...Option) *Collector {
	c := &Collector{src: src}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		sessionStateDesc, eventQueueDesc, eventResizeDesc,
		booksDesc, bookSyncedDesc, bookSeqDesc, bookBufferDesc,
		appliedDesc, duplicateDesc, gapDesc, corruptionDesc, resyncDesc, fetchDesc, fetchErrorsDesc,
		routerEventsDesc, routerRoutedDesc, routerUnroutedDesc, routerResetsDesc, routerRejectDesc,
		openOrdersDesc,
	} {
		ch <- d
	}
	if c.archive != nil {
		ch <- archiveDesc
	}
	if c.publisher != nil {
		ch <- publishDesc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectSessions(ch)
	c.collectBooks(ch)
	c.collectRouter(ch)
	c.collectOrders(ch)

	if c.archive != nil {
		s := c.archive()
		ch <- counter(archiveDesc, s.Inserts, "inserted")
		ch <- counter(archiveDesc, s.Conflicts, "conflict")
		ch <- counter(archiveDesc, s.Dropped, "dropped")
		ch <- counter(archiveDesc, s.Errors, "error_batch")
	}
	if c.publisher != nil {
		s := c.publisher()
		ch <- counter(publishDesc, s.Books, "book")
		ch <- counter(publishDesc, s.Trades, "trade")
		ch <- counter(publishDesc, s.Orders, "order")
		ch <- counter(publishDesc, s.Errors, "error")
	}
}

func (c *Collector) collectSessions(ch chan<- prometheus.Metric) {
	for _, venue := range c.src.Venues() {
		v := string(venue)
		if cur, err := c.src.SessionStatus(venue); err == nil {
			for _, st := range sessionStates {
				val := 0.0
				if st == cur {
					val = 1
				}
				ch <- prometheus.MustNewConstMetric(sessionStateDesc, prometheus.GaugeValue, val, v, st.String())
			}
		}
		if ad, err := c.src.Adapter(venue); err == nil {
			qs := ad.Events().Stats()
			ch <- prometheus.MustNewConstMetric(eventQueueDesc, prometheus.GaugeValue, float64(qs.Len), v)
			ch <- prometheus.MustNewConstMetric(eventResizeDesc, prometheus.CounterValue, float64(qs.Resizes), v)
		}
	}
}

func (c *Collector) collectBooks(ch chan<- prometheus.Metric) {
	perVenue := make(map[model.Venue]int)
	for _, venue := range c.src.Venues() {
		perVenue[venue] = 0
	}

	for _, st := range c.src.BookStatuses(false) {
		perVenue[st.Key.Venue]++
		labels := []string{string(st.Key.Venue), st.Key.Market, st.Key.Outcome}

		synced := 0.0
		if st.Synced {
			synced = 1
		}
		ch <- prometheus.MustNewConstMetric(bookSyncedDesc, prometheus.GaugeValue, synced, labels...)
		ch <- prometheus.MustNewConstMetric(bookSeqDesc, prometheus.GaugeValue, float64(st.Sequence), labels...)
		ch <- prometheus.MustNewConstMetric(bookBufferDesc, prometheus.GaugeValue, float64(st.Stats.Buffered), labels...)
		ch <- counter(appliedDesc, st.Stats.Applied, labels...)
		ch <- counter(duplicateDesc, st.Stats.Duplicates, labels...)
		ch <- counter(gapDesc, st.Stats.Gaps, labels...)
		ch <- counter(corruptionDesc, st.Stats.Corruptions, labels...)
		ch <- counter(resyncDesc, st.Stats.Resyncs, labels...)
		ch <- counter(fetchDesc, st.Stats.Fetches, labels...)
		ch <- counter(fetchErrorsDesc, st.Stats.FetchErrors, labels...)
	}

	for venue, n := range perVenue {
		ch <- prometheus.MustNewConstMetric(booksDesc, prometheus.GaugeValue, float64(n), string(venue))
	}
}

func (c *Collector) collectRouter(ch chan<- prometheus.Metric) {
	s := c.src.RouterStats()
	ch <- counter(routerEventsDesc, s.EventsReceived)
	ch <- counter(routerRoutedDesc, s.EventsRouted)
	ch <- counter(routerUnroutedDesc, s.Unrouted)
	ch <- counter(routerResetsDesc, s.Resets)
	ch <- counter(routerRejectDesc, s.Rejected)
}

func (c *Collector) collectOrders(ch chan<- prometheus.Metric) {
	type key struct {
		venue  model.Venue
		status model.OrderStatus
	}
	counts := make(map[key]int)
	for _, tr := range c.src.OpenOrders() {
		counts[key{tr.Order.Venue, tr.Response.Status}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(openOrdersDesc, prometheus.GaugeValue, float64(n), string(k.venue), string(k.status))
	}
}

func counter(d *prometheus.Desc, v int64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}
