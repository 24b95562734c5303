package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Venues and markets
// -----------------------------------------------------------------------------

// Venue identifies one external trading platform.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketActive  MarketStatus = "ACTIVE"
	MarketClosed  MarketStatus = "CLOSED"
	MarketSettled MarketStatus = "SETTLED"
)

// Market identifies one tradable contract. Only Status and CloseTime change after discovery.
type Market struct {
	Venue      Venue
	ExternalID string   // Kalshi ticker or Polymarket condition id
	Title      string   // Display title
	Outcomes   []string // Ordered outcome labels, at least two
	Status     MarketStatus
	CloseTime  *time.Time
}

// BookKey addresses one order book.
type BookKey struct {
	Venue   Venue
	Market  string
	Outcome string
}

func (k BookKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Venue, k.Market, k.Outcome)
}

// -----------------------------------------------------------------------------
// Order books
// -----------------------------------------------------------------------------

// Side is a book side.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// PriceLevel is the aggregated size resting at one price.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a consistent, fully-applied book state. Values handed out by the
// engine are never mutated afterwards.
type OrderBook struct {
	Key        BookKey      `json:"key"`
	Bids       []PriceLevel `json:"bids"` // descending price
	Asks       []PriceLevel `json:"asks"` // ascending price
	Sequence   int64        `json:"sequence"`
	LastUpdate time.Time    `json:"last_update"`

	// Stale is set while the engine is resyncing; the levels are the last
	// consistent state and may lag the venue.
	Stale bool `json:"stale"`
}

// BestBid returns the highest bid, if any.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether best bid >= best ask with both sides present.
func (b *OrderBook) Crossed() bool {
	bid, ok := b.BestBid()
	if !ok {
		return false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Clone returns a deep copy.
func (b *OrderBook) Clone() *OrderBook {
	if b == nil {
		return nil
	}
	out := *b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return &out
}

// Snapshot is a full book as returned by a venue, stamped with a sequence marker.
type Snapshot struct {
	Key      BookKey
	Bids     []PriceLevel
	Asks     []PriceLevel
	Sequence int64
	Time     time.Time
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Trade is an immutable executed trade. TradeID is unique per venue.
type Trade struct {
	Venue     Venue           `json:"venue"`
	Market    string          `json:"market"`
	Outcome   string          `json:"outcome"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      TradeSide       `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
	TradeID   string          `json:"trade_id"`
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// SessionState is the health of one streaming session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateDegraded
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateDegraded:
		return "DEGRADED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON health output.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
