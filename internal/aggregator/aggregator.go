// Package aggregator is the single read/subscribe/order surface over every
// configured venue.
//
// It owns one reconciliation engine per watched book, routes adapter events
// to those engines and exposes copies of their published books. Starting the
// aggregator starts every adapter; stopping it stops them and waits for all
// background work to exit.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/market"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/reconcile"
	"github.com/rickgao/marketsync/internal/router"
)

var (
	// ErrUnknownVenue means no adapter is configured for the venue.
	ErrUnknownVenue = errors.New("unknown venue")

	// ErrNotWatched means the book has no engine. Watch or Subscribe first.
	ErrNotWatched = errors.New("book not watched")

	// ErrStopped means the aggregator has been stopped.
	ErrStopped = errors.New("aggregator stopped")
)

// BookSink receives every book an engine publishes. It runs on the engine
// goroutine and must not block.
type BookSink interface {
	PublishBook(book *model.OrderBook, resynced bool)
}

// Config holds aggregator settings.
type Config struct {
	Engine      reconcile.Config
	Router      router.RouterConfig
	Markets     market.Config
	Poller      orders.PollerConfig
	TradeWindow int           // trades kept per market
	StopTimeout time.Duration // per component during Stop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:      reconcile.DefaultConfig(),
		Router:      router.DefaultRouterConfig(),
		Markets:     market.DefaultConfig(),
		Poller:      orders.DefaultPollerConfig(),
		TradeWindow: 500,
		StopTimeout: 10 * time.Second,
	}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithBookSinks adds sinks that see every published book.
func WithBookSinks(sinks ...BookSink) Option {
	return func(a *Aggregator) { a.bookSinks = append(a.bookSinks, sinks...) }
}

// WithTradeSinks adds sinks that see every streamed trade, after the
// recent-trades window.
func WithTradeSinks(sinks ...router.TradeSink) Option {
	return func(a *Aggregator) { a.tradeSinks = append(a.tradeSinks, sinks...) }
}

// WithOrderListener is called after every accepted order update.
func WithOrderListener(fn orders.ChangeFunc) Option {
	return func(a *Aggregator) { a.orderListener = fn }
}

// Aggregator fans in every venue adapter.
type Aggregator struct {
	cfg      Config
	adapters map[model.Venue]provider.Adapter
	logger   *slog.Logger

	bookSinks     []BookSink
	tradeSinks    []router.TradeSink
	orderListener orders.ChangeFunc

	trades   *TradeWindow
	tracker  *orders.Tracker
	poller   *orders.Poller
	registry *market.Registry
	router   router.Router

	mu      sync.RWMutex
	books   map[model.BookKey]*bookEntry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New creates an aggregator over adapters. Venues must be unique.
func New(cfg Config, adapters []provider.Adapter, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		cfg:      cfg,
		adapters: make(map[model.Venue]provider.Adapter, len(adapters)),
		logger:   slog.Default(),
		books:    make(map[model.BookKey]*bookEntry),
	}
	for _, opt := range opts {
		opt(a)
	}

	listers := make(map[model.Venue]market.Lister)
	statuses := make(map[model.Venue]orders.StatusSource)
	for _, ad := range adapters {
		venue := ad.Venue()
		if _, dup := a.adapters[venue]; dup {
			return nil, fmt.Errorf("duplicate adapter for venue %s", venue)
		}
		a.adapters[venue] = ad

		caps := ad.Capabilities()
		if caps.Supports(provider.CapListMarkets) {
			listers[venue] = ad
		}
		if caps.Supports(provider.CapOrderStatus) {
			statuses[venue] = ad
		}
	}

	a.trades = NewTradeWindow(cfg.TradeWindow)
	a.tracker = orders.NewTracker(a.logger.With("component", "orders"), a.orderListener)
	a.poller = orders.NewPoller(cfg.Poller, a.tracker, statuses, a.logger.With("component", "order_poller"))
	a.registry = market.NewRegistry(cfg.Markets, listers, a.logger.With("component", "markets"))
	a.router = router.NewRouter(cfg.Router, router.Targets{
		Books:  a,
		Trades: append([]router.TradeSink{a.trades}, a.tradeSinks...),
		Orders: a.tracker,
	}, a.logger.With("component", "router"))

	return a, nil
}

// Start starts every adapter, then routing, market discovery and order
// polling. If any adapter fails to start, the ones already started are
// stopped again.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(a.ctx)
	for _, ad := range a.adapters {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := ad.Start(a.ctx); err != nil {
				return fmt.Errorf("start %s: %w", ad.Venue(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.stopAdapters()
		a.cancel()
		return err
	}

	sources := make([]router.Source, 0, len(a.adapters))
	for venue, ad := range a.adapters {
		sources = append(sources, router.Source{Venue: venue, Events: ad.Events()})
	}
	if err := a.router.Start(a.ctx, sources...); err != nil {
		return err
	}
	if err := a.registry.Start(a.ctx); err != nil {
		return err
	}
	if err := a.poller.Start(a.ctx); err != nil {
		return err
	}

	a.logger.Info("aggregator started", "venues", a.Venues())
	return nil
}

// Stop tears everything down top-down: adapters (and their sessions), then
// the router once their event queues drain, then every engine.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	errs := []error{a.stopAdapters()}

	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.StopTimeout)
	errs = append(errs, a.router.Stop(stopCtx))
	cancel()

	a.mu.Lock()
	books := a.books
	a.books = make(map[model.BookKey]*bookEntry)
	a.mu.Unlock()
	for _, b := range books {
		b.engine.Stop()
		b.closeSubscriptions()
	}

	stopCtx, cancel = context.WithTimeout(ctx, a.cfg.StopTimeout)
	errs = append(errs, a.poller.Stop(stopCtx), a.registry.Stop(stopCtx))
	cancel()

	a.cancel()
	a.logger.Info("aggregator stopped")
	return errors.Join(errs...)
}

func (a *Aggregator) stopAdapters() error {
	var g errgroup.Group
	for _, ad := range a.adapters {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StopTimeout)
			defer cancel()
			if err := ad.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s: %w", ad.Venue(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Venues returns the configured venues in name order.
func (a *Aggregator) Venues() []model.Venue {
	out := make([]model.Venue, 0, len(a.adapters))
	for v := range a.adapters {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Adapter returns the adapter of venue.
func (a *Aggregator) Adapter(venue model.Venue) (provider.Adapter, error) {
	ad, ok := a.adapters[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return ad, nil
}

// SessionStatus returns the stream session state of venue.
func (a *Aggregator) SessionStatus(venue model.Venue) (model.SessionState, error) {
	ad, err := a.Adapter(venue)
	if err != nil {
		return model.StateDisconnected, err
	}
	return ad.SessionState(), nil
}

// Capabilities returns what venue supports.
func (a *Aggregator) Capabilities(venue model.Venue) (provider.Capability, error) {
	ad, err := a.Adapter(venue)
	if err != nil {
		return 0, err
	}
	return ad.Capabilities(), nil
}

// Markets returns the discovered markets of venue, or of all venues when
// venue is empty.
func (a *Aggregator) Markets(venue model.Venue) []model.Market {
	return a.registry.Markets(venue)
}

// MarketChanges streams market discovery and status changes.
func (a *Aggregator) MarketChanges() <-chan market.MarketChange {
	return a.registry.Changes()
}

// RecentTrades returns up to limit of the latest trades of a market, newest
// first. limit <= 0 returns the whole window.
func (a *Aggregator) RecentTrades(venue model.Venue, marketID string, limit int) []model.Trade {
	return a.trades.Recent(venue, marketID, limit)
}

// RouterStats exposes event routing counters.
func (a *Aggregator) RouterStats() router.RouterStats {
	return a.router.Stats()
}
