package kalshi

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

// PlaceOrder submits an order. The response is provisional: fills on the
// user stream are authoritative. Only a venue rejection yields FAILED;
// every other error leaves the order PENDING.
func (a *Adapter) PlaceOrder(ctx context.Context, o model.Order) (model.OrderResponse, error) {
	if err := provider.ValidateOrder(model.VenueKalshi, a.Capabilities(), o); err != nil {
		return model.OrderResponse{}, err
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = uuid.NewString()
	}

	req, err := buildOrderRequest(o)
	if err != nil {
		return model.OrderResponse{}, err
	}

	var resp orderResponse
	if err := a.rest.Post(ctx, "/portfolio/orders", req, &resp); err != nil {
		err = provider.OrderError(err)
		out := model.OrderResponse{
			Venue:         model.VenueKalshi,
			ClientOrderID: o.ClientOrderID,
			Market:        o.Market,
			Status:        model.OrderPending,
			UpdatedAt:     a.now().UTC(),
		}
		if errors.Is(err, provider.ErrOrderRejected) {
			out.Status = model.OrderFailed
		}
		a.logger.Warn("place order failed",
			"market", o.Market,
			"client_order_id", o.ClientOrderID,
			"status", out.Status,
			"error", err,
		)
		return out, err
	}

	out := resp.Order.toModel()
	if out.ClientOrderID == "" {
		out.ClientOrderID = o.ClientOrderID
	}
	if out.Market == "" {
		out.Market = o.Market
	}
	return out, nil
}

func buildOrderRequest(o model.Order) (createOrderRequest, error) {
	if o.Outcome != OutcomeYes && o.Outcome != OutcomeNo {
		return createOrderRequest{}, fmt.Errorf("%w: outcome must be yes or no, got %q", provider.ErrInvalidOrder, o.Outcome)
	}
	if !o.Size.IsInteger() {
		return createOrderRequest{}, fmt.Errorf("%w: kalshi sizes are whole contracts, got %s", provider.ErrInvalidOrder, o.Size)
	}

	req := createOrderRequest{
		Ticker:        o.Market,
		ClientOrderID: o.ClientOrderID,
		Side:          o.Outcome,
		Action:        "buy",
		Count:         o.Size.IntPart(),
		Type:          "limit",
	}
	if o.Side == model.Sell {
		req.Action = "sell"
	}

	switch o.Type {
	case model.OrderMarket:
		req.Type = "market"
	case model.OrderFOK:
		req.TimeInForce = "fill_or_kill"
	case model.OrderGTD:
		ts := o.ExpiresAt.Unix()
		req.ExpirationTS = &ts
	}

	if o.Price != nil {
		cents := o.Price.Mul(hundred)
		if !cents.IsInteger() {
			return createOrderRequest{}, fmt.Errorf("%w: kalshi prices are whole cents, got %s", provider.ErrInvalidOrder, o.Price)
		}
		c := cents.IntPart()
		if o.Outcome == OutcomeYes {
			req.YesPrice = &c
		} else {
			req.NoPrice = &c
		}
	}
	return req, nil
}

// CancelOrder cancels a resting order and reports whether the venue now
// shows it canceled.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is required", provider.ErrInvalidOrder)
	}

	var resp orderResponse
	if err := a.rest.Delete(ctx, "/portfolio/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		if api.IsNotFound(err) {
			return false, fmt.Errorf("%w: %s", provider.ErrOrderNotFound, orderID)
		}
		return false, provider.OrderError(err)
	}
	return orderStatus(&resp.Order) == model.OrderCanceled, nil
}

// OrderStatus looks an order up by id or, when the placement timed out
// before an id came back, by client order id within its market.
func (a *Adapter) OrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderResponse, error) {
	if ref.OrderID != "" {
		var resp orderResponse
		if err := a.rest.Get(ctx, "/portfolio/orders/"+url.PathEscape(ref.OrderID), nil, &resp); err != nil {
			if api.IsNotFound(err) {
				return model.OrderResponse{}, fmt.Errorf("%w: %s", provider.ErrOrderNotFound, ref.OrderID)
			}
			return model.OrderResponse{}, fmt.Errorf("get order %s: %w", ref.OrderID, err)
		}
		return resp.Order.toModel(), nil
	}

	if ref.ClientOrderID == "" || ref.Market == "" {
		return model.OrderResponse{}, fmt.Errorf("%w: need order id or client order id with market", provider.ErrInvalidOrder)
	}

	query := url.Values{}
	query.Set("ticker", ref.Market)
	for {
		var resp ordersResponse
		if err := a.rest.Get(ctx, "/portfolio/orders", query, &resp); err != nil {
			return model.OrderResponse{}, fmt.Errorf("list orders %s: %w", ref.Market, err)
		}
		for i := range resp.Orders {
			if resp.Orders[i].ClientOrderID == ref.ClientOrderID {
				return resp.Orders[i].toModel(), nil
			}
		}
		if resp.Cursor == "" {
			break
		}
		query.Set("cursor", resp.Cursor)
	}
	return model.OrderResponse{}, fmt.Errorf("%w: client order %s", provider.ErrOrderNotFound, ref.ClientOrderID)
}
