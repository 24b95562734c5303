package market

import (
	"context"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// SyncResult summarizes one venue listing pass.
type SyncResult struct {
	Listed  int
	Created int
	Changed int
	Closed  int
}

func (r *Registry) syncAll(ctx context.Context) {
	for venue := range r.listers {
		if _, err := r.SyncVenue(ctx, venue); err != nil {
			r.logger.Error("market sync failed", "venue", venue, "err", err)
		}
	}
}

// SyncVenue lists venue once and folds the result into the registry.
// ACTIVE markets missing from the listing are marked CLOSED.
func (r *Registry) SyncVenue(ctx context.Context, venue model.Venue) (SyncResult, error) {
	lister, ok := r.listers[venue]
	if !ok {
		return SyncResult{}, nil
	}

	start := time.Now()
	markets, err := lister.ListMarkets(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Listed: len(markets)}
	seen := make(map[string]struct{}, len(markets))

	r.mu.Lock()
	for _, m := range markets {
		m.Venue = venue
		seen[m.ExternalID] = struct{}{}
		created, changed := r.applyLocked(m)
		if created {
			res.Created++
		}
		if changed {
			res.Changed++
		}
	}

	for k, m := range r.markets {
		if k.venue != venue || m.Status != model.MarketActive {
			continue
		}
		if _, ok := seen[k.id]; ok {
			continue
		}
		old := m.Status
		m.Status = model.MarketClosed
		r.markets[k] = m
		r.notify(MarketChange{Kind: ChangeClosed, OldStatus: old, Market: m})
		res.Closed++
	}
	r.lastSync[venue] = time.Now()
	r.mu.Unlock()

	if res.Created > 0 || res.Changed > 0 || res.Closed > 0 {
		r.logger.Info("market sync found changes",
			"venue", venue,
			"created", res.Created,
			"changed", res.Changed,
			"closed", res.Closed,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("market sync complete",
			"venue", venue,
			"total_markets", res.Listed,
			"duration", time.Since(start),
		)
	}
	return res, nil
}

// reconciliationLoop periodically re-lists every venue.
func (r *Registry) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.syncAll(ctx)
		}
	}
}
