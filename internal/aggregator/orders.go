package aggregator

import (
	"context"
	"errors"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
	"github.com/rickgao/marketsync/internal/provider"
)

// PlaceOrder sends order to its venue and tracks the result. The returned
// response is provisional. On ErrOrderTimeout the order is tracked as
// PENDING and resolved later by the order poller or the venue stream.
func (a *Aggregator) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResponse, error) {
	ad, err := a.Adapter(order.Venue)
	if err != nil {
		return model.OrderResponse{}, err
	}
	if err := provider.ValidateOrder(order.Venue, ad.Capabilities(), order); err != nil {
		return model.OrderResponse{}, err
	}

	resp, err := ad.PlaceOrder(ctx, order)
	if resp.Status == "" {
		// Nothing reached the venue.
		return resp, err
	}
	if resp.ClientOrderID != "" {
		order.ClientOrderID = resp.ClientOrderID
	}

	tracked := a.tracker.Track(order, resp)
	logger := a.logger.With("venue", order.Venue, "market", order.Market, "order_id", tracked.Response.OrderID, "client_order_id", tracked.Response.ClientOrderID)
	switch {
	case errors.Is(err, provider.ErrOrderTimeout):
		logger.Warn("order placement timed out, tracking as pending")
	case err != nil:
		logger.Warn("order placement failed", "status", tracked.Response.Status, "err", err)
	default:
		logger.Info("order placed", "status", tracked.Response.Status)
	}
	return tracked.Response, err
}

// CancelOrder cancels an order at venue. A successful cancel is provisional
// like any REST response; a fill already reported on the stream wins.
func (a *Aggregator) CancelOrder(ctx context.Context, venue model.Venue, orderID string) (bool, error) {
	ad, err := a.Adapter(venue)
	if err != nil {
		return false, err
	}
	if err := provider.Require(venue, ad.Capabilities(), provider.CapCancelOrder); err != nil {
		return false, err
	}

	ok, err := ad.CancelOrder(ctx, orderID)
	if err != nil || !ok {
		return ok, err
	}
	if _, err := a.tracker.ApplyPoll(model.OrderResponse{Venue: venue, OrderID: orderID, Status: model.OrderCanceled}); err != nil && !errors.Is(err, orders.ErrUnknownOrder) {
		return ok, err
	}
	a.logger.Info("order canceled", "venue", venue, "order_id", orderID)
	return true, nil
}

// OrderStatus returns the locally tracked state of an order by venue order
// id or client order id.
func (a *Aggregator) OrderStatus(venue model.Venue, id string) (orders.Tracked, bool) {
	return a.tracker.Get(venue, id)
}

// OpenOrders returns every tracked order not yet final.
func (a *Aggregator) OpenOrders() []orders.Tracked {
	return a.tracker.Open()
}

// RefreshOrder asks the venue for the current state of a tracked order and
// merges it like a poll.
func (a *Aggregator) RefreshOrder(ctx context.Context, venue model.Venue, id string) (orders.Tracked, error) {
	ad, err := a.Adapter(venue)
	if err != nil {
		return orders.Tracked{}, err
	}
	if err := provider.Require(venue, ad.Capabilities(), provider.CapOrderStatus); err != nil {
		return orders.Tracked{}, err
	}
	cur, ok := a.tracker.Get(venue, id)
	if !ok {
		return orders.Tracked{}, orders.ErrUnknownOrder
	}

	resp, err := ad.OrderStatus(ctx, model.OrderRef{
		Market:        cur.Order.Market,
		OrderID:       cur.Response.OrderID,
		ClientOrderID: cur.Response.ClientOrderID,
	})
	if err != nil {
		return cur, err
	}
	resp.Venue = venue
	if resp.ClientOrderID == "" {
		resp.ClientOrderID = cur.Response.ClientOrderID
	}
	return a.tracker.ApplyPoll(resp)
}
