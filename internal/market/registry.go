// Package market keeps the set of markets discovered on each venue.
//
// Markets are never deleted. A market that drops out of its venue's listing
// is marked CLOSED and stays readable until the process exits.
package market

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// Lister lists a venue's currently tradable markets. Provider adapters
// implement it.
type Lister interface {
	ListMarkets(ctx context.Context) ([]model.Market, error)
}

// Config holds Market Registry configuration.
type Config struct {
	ReconcileInterval  time.Duration
	InitialLoadTimeout time.Duration
	ChangeBuffer       int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  5 * time.Minute,
		InitialLoadTimeout: 2 * time.Minute,
		ChangeBuffer:       1024,
	}
}

// ChangeKind classifies a MarketChange.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeStatus  ChangeKind = "status_change"
	ChangeClosed  ChangeKind = "closed" // dropped out of the venue listing
)

// MarketChange reports a market that appeared or changed status.
type MarketChange struct {
	Kind      ChangeKind
	OldStatus model.MarketStatus
	Market    model.Market
}

type marketKey struct {
	venue model.Venue
	id    string
}

// Registry tracks markets across venues.
type Registry struct {
	cfg     Config
	listers map[model.Venue]Lister
	logger  *slog.Logger

	mu       sync.RWMutex
	markets  map[marketKey]model.Market
	lastSync map[model.Venue]time.Time

	changes chan MarketChange

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a new Market Registry.
func NewRegistry(cfg Config, listers map[model.Venue]Lister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		listers:  listers,
		logger:   logger,
		markets:  make(map[marketKey]model.Market),
		lastSync: make(map[model.Venue]time.Time),
		changes:  make(chan MarketChange, cfg.ChangeBuffer),
	}
}

// Start loads every venue's listing, then keeps reconciling in the
// background. A venue whose initial load fails is logged and retried on the
// next reconcile; it never blocks the other venues.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	loadCtx, cancel := context.WithTimeout(r.ctx, r.cfg.InitialLoadTimeout)
	r.syncAll(loadCtx)
	cancel()

	if r.cfg.ReconcileInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.reconciliationLoop(r.ctx)
		}()
	}

	r.logger.Info("market registry started",
		"venues", len(r.listers),
		"active_markets", len(r.Active("")),
	)
	return nil
}

// Stop gracefully shuts down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("market registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a market by venue and external id.
func (r *Registry) Get(venue model.Venue, externalID string) (model.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[marketKey{venue, externalID}]
	return m, ok
}

// Markets returns every known market of venue, or of all venues when venue
// is empty, ordered by venue then id.
func (r *Registry) Markets(venue model.Venue) []model.Market {
	return r.filter(venue, func(model.Market) bool { return true })
}

// Active returns the ACTIVE markets of venue, or of all venues when venue is
// empty.
func (r *Registry) Active(venue model.Venue) []model.Market {
	return r.filter(venue, func(m model.Market) bool { return m.Status == model.MarketActive })
}

// Upsert records a market learned outside a listing, such as a direct
// lookup for a subscription.
func (r *Registry) Upsert(m model.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(m)
}

// Changes returns the stream of market changes. Changes are dropped when
// nobody keeps up.
func (r *Registry) Changes() <-chan MarketChange {
	return r.changes
}

// LastSync returns when venue was last listed successfully.
func (r *Registry) LastSync(venue model.Venue) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync[venue]
}

func (r *Registry) filter(venue model.Venue, keep func(model.Market) bool) []model.Market {
	r.mu.RLock()
	out := make([]model.Market, 0, len(r.markets))
	for k, m := range r.markets {
		if (venue == "" || k.venue == venue) && keep(m) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// applyLocked upserts one market and emits the matching change.
func (r *Registry) applyLocked(m model.Market) (created, changed bool) {
	k := marketKey{m.Venue, m.ExternalID}
	existing, ok := r.markets[k]
	r.markets[k] = m

	switch {
	case !ok:
		r.notify(MarketChange{Kind: ChangeCreated, Market: m})
		return true, false
	case existing.Status != m.Status:
		r.notify(MarketChange{Kind: ChangeStatus, OldStatus: existing.Status, Market: m})
		return false, true
	}
	return false, false
}

func (r *Registry) notify(c MarketChange) {
	select {
	case r.changes <- c:
	default:
		r.logger.Debug("market change dropped", "venue", c.Market.Venue, "market", c.Market.ExternalID, "kind", c.Kind)
	}
}
