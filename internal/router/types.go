package router

import (
	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
)

// RouterConfig holds configuration for the event router.
type RouterConfig struct {
	BatchSize int // Events taken from a source per wakeup. Default: 256
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BatchSize: 256,
	}
}

// Source is one adapter's decoded event queue.
type Source struct {
	Venue  model.Venue
	Events *buffer.Queue[model.DeltaEvent]
}

// BookTarget accepts book events for one BookKey. *reconcile.Engine
// implements it.
type BookTarget interface {
	Submit(ev model.DeltaEvent) bool
}

// Books resolves the engines events are delivered to.
type Books interface {
	// Book returns the target for key, if the key is subscribed.
	Book(key model.BookKey) (BookTarget, bool)

	// VenueBooks returns every target of venue. Resets fan out to all of them.
	VenueBooks(venue model.Venue) []BookTarget
}

// TradeSink consumes executed trades. Sinks must not block.
type TradeSink interface {
	AddTrade(t model.Trade)
}

// OrderSink consumes streamed order updates and fills.
type OrderSink interface {
	ApplyStream(ev model.DeltaEvent)
}

// Targets groups everything the router delivers to. Nil members drop
// their event kind.
type Targets struct {
	Books  Books
	Trades []TradeSink
	Orders OrderSink
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived int64
	EventsRouted   int64
	Unrouted       int64 // book events for keys nobody subscribed
	Resets         int64
	Rejected       int64 // Submit refused, target already stopped
}
