package orders

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

// StatusSource looks up an order at its venue. Provider adapters implement it.
type StatusSource interface {
	OrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderResponse, error)
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval      time.Duration // Poll interval (default: 5s)
	Concurrency   int           // Max concurrent requests (default: 8)
	Timeout       time.Duration // Per-request timeout (default: 10s)
	NotFoundGrace time.Duration // How long a PENDING order may be unknown to the venue before it is FAILED (default: 2m)
	Retention     time.Duration // How long final orders are kept (default: 1h)
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:      5 * time.Second,
		Concurrency:   8,
		Timeout:       10 * time.Second,
		NotFoundGrace: 2 * time.Minute,
		Retention:     time.Hour,
	}
}

// Poller periodically resolves open orders through venue status lookups.
type Poller struct {
	cfg     PollerConfig
	tracker *Tracker
	sources map[model.Venue]StatusSource
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new Poller.
func NewPoller(cfg PollerConfig, tracker *Tracker, sources map[model.Venue]StatusSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		tracker: tracker,
		sources: sources,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("order poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("order poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
			if p.cfg.Retention > 0 {
				p.tracker.Prune(time.Now().Add(-p.cfg.Retention))
			}
		}
	}
}

// pollAll looks up every open order concurrently.
func (p *Poller) pollAll() {
	open := p.tracker.Open()
	if len(open) == 0 {
		return
	}
	start := time.Now()

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var resolved, failures atomic.Int64

	for _, o := range open {
		src, ok := p.sources[o.Response.Venue]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(o Tracked) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			changed, err := p.pollOrder(src, o)
			if err != nil {
				p.logger.Warn("failed to poll order",
					"venue", o.Response.Venue,
					"order_id", o.Response.OrderID,
					"client_order_id", o.Response.ClientOrderID,
					"err", err,
				)
				failures.Add(1)
				return
			}
			if changed {
				resolved.Add(1)
			}
		}(o)
	}

	wg.Wait()

	p.logger.Debug("order poll cycle complete",
		"open", len(open),
		"changed", resolved.Load(),
		"errors", failures.Load(),
		"duration", time.Since(start),
	)
}

// pollOrder fetches one order's status and merges it into the tracker.
func (p *Poller) pollOrder(src StatusSource, o Tracked) (bool, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	ref := model.OrderRef{
		Market:        firstNonEmpty(o.Response.Market, o.Order.Market),
		OrderID:       o.Response.OrderID,
		ClientOrderID: o.Response.ClientOrderID,
	}
	resp, err := src.OrderStatus(ctx, ref)
	if errors.Is(err, provider.ErrOrderNotFound) {
		// A timed-out placement the venue never accepted.
		if o.Response.Status == model.OrderPending && time.Since(o.PlacedAt) > p.cfg.NotFoundGrace {
			return p.tracker.Fail(o.Response.Venue, o.Response.OrderID, o.Response.ClientOrderID), nil
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if resp.Venue == "" {
		resp.Venue = o.Response.Venue
	}
	if resp.ClientOrderID == "" {
		resp.ClientOrderID = o.Response.ClientOrderID
	}
	before := o.Response.Status
	after, err := p.tracker.ApplyPoll(resp)
	if err != nil {
		return false, err
	}
	return after.Response.Status != before, nil
}
