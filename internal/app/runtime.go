// Package app owns process-wide state: venue adapters with their
// credentials and sessions, the aggregator, and the optional archive and
// publisher sinks. A Runtime is created once at startup, passed to whatever
// needs it and torn down with Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/marketsync/internal/aggregator"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/market"
	"github.com/rickgao/marketsync/internal/metrics"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/publish"
	"github.com/rickgao/marketsync/internal/reconcile"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/store"
)

// ErrNoVenues means every enabled venue was disabled during setup.
var ErrNoVenues = errors.New("no usable venues")

// Runtime is the RuntimeContext of the process.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	agg      *aggregator.Aggregator
	disabled map[model.Venue]error
	registry *prometheus.Registry

	pool      *pgxpool.Pool
	archive   *store.Archive
	nc        *nats.Conn
	publisher *publish.Publisher
}

// New builds everything cfg describes. Nothing is started. Database and NATS
// connections are opened here so misconfiguration fails fast.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	adapters, disabled, err := buildAdapters(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		errs := []error{ErrNoVenues}
		for _, e := range disabled {
			errs = append(errs, e)
		}
		return nil, errors.Join(errs...)
	}

	r := &Runtime{cfg: cfg, logger: logger, disabled: disabled}
	if err := r.openSinks(ctx); err != nil {
		r.closeSinks()
		return nil, err
	}

	if err := r.buildAggregator(adapters); err != nil {
		r.closeSinks()
		return nil, err
	}
	return r, nil
}

// NewWithAdapters builds a runtime over ready-made adapters with no
// database or NATS sinks.
func NewWithAdapters(cfg *config.Config, adapters []provider.Adapter, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{cfg: cfg, logger: logger, disabled: make(map[model.Venue]error)}
	if err := r.buildAggregator(adapters); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) openSinks(ctx context.Context) error {
	if db := r.cfg.Database; db.Enabled {
		r.logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)
		pool, err := database.Connect(ctx, db, r.cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		r.pool = pool

		if db.CreateSchema {
			if err := store.EnsureSchema(ctx, pool); err != nil {
				return err
			}
		}
		r.archive = store.NewArchive(store.Config{
			BatchSize:     db.BatchSize,
			FlushInterval: db.FlushInterval,
			BufferSize:    db.BufferSize,
		}, pool, r.logger)
	}

	if nc := r.cfg.NATS; nc.Enabled {
		conn, err := publish.Connect(publish.Config{
			URL:           nc.URL,
			Name:          nc.Name,
			Token:         nc.Token,
			SubjectPrefix: nc.SubjectPrefix,
			ReconnectWait: nc.ReconnectWait,
		}, r.logger)
		if err != nil {
			return err
		}
		r.nc = conn
		r.publisher = publish.NewPublisher(conn, nc.SubjectPrefix, r.logger)
	}
	return nil
}

func (r *Runtime) buildAggregator(adapters []provider.Adapter) error {
	cfg := r.cfg
	aggCfg := aggregator.Config{
		Engine: reconcile.Config{
			QueueSize:    cfg.Reconcile.QueueSize,
			BatchSize:    cfg.Reconcile.BatchSize,
			MaxBuffered:  cfg.Reconcile.MaxBuffered,
			FetchTimeout: cfg.Reconcile.FetchTimeout,
			FetchTries:   cfg.Reconcile.FetchTries,
			RetryInitial: cfg.Reconcile.RetryInitial,
			RetryMax:     cfg.Reconcile.RetryMax,
		},
		Router: router.DefaultRouterConfig(),
		Markets: market.Config{
			ReconcileInterval:  cfg.Markets.ReconcileInterval,
			InitialLoadTimeout: cfg.Markets.InitialLoadTimeout,
			ChangeBuffer:       market.DefaultConfig().ChangeBuffer,
		},
		Poller: orders.PollerConfig{
			Interval:      cfg.Orders.PollInterval,
			Concurrency:   cfg.Orders.PollConcurrency,
			Timeout:       cfg.Orders.PollTimeout,
			NotFoundGrace: cfg.Orders.NotFoundGrace,
			Retention:     cfg.Orders.Retention,
		},
		TradeWindow: cfg.Trades.Window,
		StopTimeout: 10 * time.Second,
	}

	opts := []aggregator.Option{aggregator.WithLogger(r.logger)}
	var listeners []orders.ChangeFunc
	var collectorOpts []metrics.Option

	if r.archive != nil {
		opts = append(opts, aggregator.WithTradeSinks(r.archive))
		listeners = append(listeners, r.archive.RecordOrder)
		collectorOpts = append(collectorOpts, metrics.WithArchive(r.archive.Stats))
	}
	if r.publisher != nil {
		opts = append(opts,
			aggregator.WithBookSinks(r.publisher),
			aggregator.WithTradeSinks(r.publisher),
		)
		listeners = append(listeners, r.publisher.RecordOrder)
		collectorOpts = append(collectorOpts, metrics.WithPublisher(r.publisher.Stats))
	}
	if len(listeners) > 0 {
		opts = append(opts, aggregator.WithOrderListener(func(tr orders.Tracked) {
			for _, fn := range listeners {
				fn(tr)
			}
		}))
	}

	agg, err := aggregator.New(aggCfg, adapters, opts...)
	if err != nil {
		return err
	}
	r.agg = agg
	r.registry = metrics.NewRegistry(metrics.NewCollector(agg, collectorOpts...))
	return nil
}

// Start starts the sinks, the aggregator, and watches every configured
// subscription. A subscription that fails is logged and skipped.
func (r *Runtime) Start(ctx context.Context) error {
	if r.archive != nil {
		if err := r.archive.Start(ctx); err != nil {
			return err
		}
	}
	if err := r.agg.Start(ctx); err != nil {
		return err
	}

	for _, sub := range r.cfg.Subscriptions {
		key := model.BookKey{Venue: model.Venue(sub.Venue), Market: sub.Market, Outcome: sub.Outcome}
		if err, off := r.disabled[key.Venue]; off {
			r.logger.Warn("skipping subscription on disabled venue", "book", key, "err", err)
			continue
		}
		if err := r.agg.Watch(ctx, key); err != nil {
			r.logger.Error("watch failed", "book", key, "err", err)
			continue
		}
		r.logger.Info("watching book", "book", key)
	}
	return nil
}

// Close stops the aggregator, flushes the archive and releases connections.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.agg != nil {
		if err := r.agg.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("aggregator: %w", err))
		}
	}
	if r.archive != nil {
		if err := r.archive.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	r.closeSinks()
	return errors.Join(errs...)
}

func (r *Runtime) closeSinks() {
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
		}
		r.nc = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

// Aggregator returns the read/subscribe/order surface.
func (r *Runtime) Aggregator() *aggregator.Aggregator { return r.agg }

// Metrics returns the Prometheus registry.
func (r *Runtime) Metrics() *prometheus.Registry { return r.registry }

// Disabled returns the venues dropped at setup and why.
func (r *Runtime) Disabled() map[model.Venue]error {
	out := make(map[model.Venue]error, len(r.disabled))
	for v, err := range r.disabled {
		out[v] = err
	}
	return out
}
