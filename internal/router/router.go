// Package router moves decoded adapter events to their consumers: book
// events to the reconciliation engine of their key, trades to the trade
// sinks and order events to the order tracker.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketsync/internal/model"
)

// Router drains adapter event queues and dispatches each event.
type Router interface {
	// Start begins routing from every source. Each source gets its own
	// goroutine so one venue never waits on another.
	Start(ctx context.Context, sources ...Source) error

	// Stop waits for the routing goroutines to exit. They exit once their
	// source queue is closed and drained.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

type router struct {
	cfg     RouterConfig
	targets Targets
	logger  *slog.Logger

	wg sync.WaitGroup

	received atomic.Int64
	routed   atomic.Int64
	unrouted atomic.Int64
	resets   atomic.Int64
	rejected atomic.Int64
}

// NewRouter creates a new event router.
func NewRouter(cfg RouterConfig, targets Targets, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRouterConfig().BatchSize
	}
	return &router{
		cfg:     cfg,
		targets: targets,
		logger:  logger,
	}
}

func (r *router) Start(ctx context.Context, sources ...Source) error {
	for _, src := range sources {
		r.wg.Add(1)
		go r.routeLoop(src)
	}

	r.logger.Info("event router started", "sources", len(sources), "batch_size", r.cfg.BatchSize)
	return nil
}

func (r *router) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
		return ctx.Err()
	}
}

func (r *router) Stats() RouterStats {
	return RouterStats{
		EventsReceived: r.received.Load(),
		EventsRouted:   r.routed.Load(),
		Unrouted:       r.unrouted.Load(),
		Resets:         r.resets.Load(),
		Rejected:       r.rejected.Load(),
	}
}

func (r *router) routeLoop(src Source) {
	defer r.wg.Done()
	logger := r.logger.With("venue", src.Venue)

	for {
		batch := src.Events.PopBatch(r.cfg.BatchSize)
		if batch == nil {
			logger.Debug("event source closed")
			return
		}
		for _, ev := range batch {
			r.route(src.Venue, ev, logger)
		}
	}
}

// route dispatches a single event.
func (r *router) route(venue model.Venue, ev model.DeltaEvent, logger *slog.Logger) {
	r.received.Add(1)

	switch ev.Kind {
	case model.EventDelta, model.EventSnapshot:
		if r.targets.Books == nil {
			return
		}
		target, ok := r.targets.Books.Book(ev.Key)
		if !ok {
			r.unrouted.Add(1)
			return
		}
		r.submit(target, ev)

	case model.EventReset:
		r.resets.Add(1)
		if r.targets.Books == nil {
			return
		}
		targets := r.targets.Books.VenueBooks(venue)
		logger.Debug("stream reset", "books", len(targets))
		for _, target := range targets {
			r.submit(target, ev)
		}

	case model.EventTrade:
		if ev.Trade == nil {
			return
		}
		for _, sink := range r.targets.Trades {
			sink.AddTrade(*ev.Trade)
		}
		r.routed.Add(1)

	case model.EventOrder:
		if r.targets.Orders == nil {
			return
		}
		r.targets.Orders.ApplyStream(ev)
		r.routed.Add(1)

	default:
		logger.Debug("skipping event", "kind", ev.Kind.String())
	}
}

func (r *router) submit(target BookTarget, ev model.DeltaEvent) {
	if target.Submit(ev) {
		r.routed.Add(1)
		return
	}
	r.rejected.Add(1)
}
