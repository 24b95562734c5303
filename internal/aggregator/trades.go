package aggregator

import (
	"sync"

	"github.com/rickgao/marketsync/internal/model"
)

// TradeWindow keeps the most recent trades of each market. Trades replayed
// by the venue after a reconnect are recognized by id and dropped.
type TradeWindow struct {
	size int

	mu      sync.RWMutex
	markets map[tradeKey]*tradeRing
}

type tradeKey struct {
	venue  model.Venue
	market string
}

type tradeRing struct {
	trades []model.Trade // circular, len <= size
	next   int
	ids    map[string]struct{}
}

// NewTradeWindow creates a window holding size trades per market.
func NewTradeWindow(size int) *TradeWindow {
	if size <= 0 {
		size = 500
	}
	return &TradeWindow{size: size, markets: make(map[tradeKey]*tradeRing)}
}

// AddTrade records t. It implements router.TradeSink.
func (w *TradeWindow) AddTrade(t model.Trade) {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := tradeKey{t.Venue, t.Market}
	r, ok := w.markets[k]
	if !ok {
		r = &tradeRing{ids: make(map[string]struct{})}
		w.markets[k] = r
	}
	if t.TradeID != "" {
		if _, dup := r.ids[t.TradeID]; dup {
			return
		}
	}

	if len(r.trades) < w.size {
		r.trades = append(r.trades, t)
	} else {
		delete(r.ids, r.trades[r.next].TradeID)
		r.trades[r.next] = t
	}
	r.next = (r.next + 1) % w.size
	if t.TradeID != "" {
		r.ids[t.TradeID] = struct{}{}
	}
}

// Recent returns up to limit trades of a market, newest first.
func (w *TradeWindow) Recent(venue model.Venue, market string, limit int) []model.Trade {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r, ok := w.markets[tradeKey{venue, market}]
	if !ok {
		return nil
	}
	n := len(r.trades)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]model.Trade, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, r.trades[(r.next-i+w.size)%w.size])
	}
	return out
}
