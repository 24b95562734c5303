// Package provider defines the contract every venue adapter implements.
//
// An adapter is the only code that knows a venue's wire formats. It owns the
// venue's streaming session and REST client and emits venue-neutral
// model.DeltaEvent values on a single queue, in stream order.
package provider

import (
	"context"
	"strings"

	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
)

// Capability is one optional adapter operation.
type Capability uint32

const (
	CapStream Capability = 1 << iota
	CapSnapshot
	CapListMarkets
	CapPlaceOrder
	CapCancelOrder
	CapOrderStatus
	CapMarketOrders
	CapGTD
	CapOrderStream // authoritative order updates arrive on the stream
	CapMarketCreation
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapStream, "stream"},
	{CapSnapshot, "snapshot"},
	{CapListMarkets, "list_markets"},
	{CapPlaceOrder, "place_order"},
	{CapCancelOrder, "cancel_order"},
	{CapOrderStatus, "order_status"},
	{CapMarketOrders, "market_orders"},
	{CapGTD, "gtd"},
	{CapOrderStream, "order_stream"},
	{CapMarketCreation, "market_creation"},
}

func (c Capability) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c&n.c != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Supports reports whether every capability in want is present.
func (c Capability) Supports(want Capability) bool {
	return c&want == want
}

// Adapter translates one venue to and from the unified model.
type Adapter interface {
	Venue() model.Venue

	// Capabilities may shrink at runtime, e.g. when credentials are absent.
	Capabilities() Capability

	// Start connects the stream. Stop is terminal and closes Events.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Events is the ordered output of the stream decoder plus
	// EventReset markers emitted on every (re)connect.
	Events() *buffer.Queue[model.DeltaEvent]

	SessionState() model.SessionState

	// Subscribe adds the book to the stream's desired set. It survives
	// reconnects until Unsubscribe.
	Subscribe(ctx context.Context, key model.BookKey) error
	Unsubscribe(ctx context.Context, key model.BookKey) error

	// FetchSnapshot returns the full REST book stamped with the last sequence
	// the stream decoder has seen for the key. Errors wrap
	// ErrSnapshotUnavailable or ErrMarketNotFound.
	FetchSnapshot(ctx context.Context, key model.BookKey) (model.Snapshot, error)

	// DecodeStreamMessage turns one raw frame into events. Malformed or
	// unknown frames return an error and no events.
	DecodeStreamMessage(raw []byte) ([]model.DeltaEvent, error)

	ListMarkets(ctx context.Context) ([]model.Market, error)

	// PlaceOrder returns a provisional response. On ErrOrderTimeout the
	// response is PENDING and carries whatever ids are known.
	PlaceOrder(ctx context.Context, order model.Order) (model.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	OrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderResponse, error)
}
