package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

// OrderRequest is what an OrderSigner needs to build a CLOB order.
type OrderRequest struct {
	TokenID    string
	Side       model.OrderSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	Expiration int64 // unix seconds, 0 for none
}

// SignedOrder is a venue-ready order. OrderID is the order hash, known
// before submission, so a timed-out placement can still be polled.
type SignedOrder struct {
	Order   any
	OrderID string
}

// OrderSigner signs CLOB orders with the funder's wallet key. Wallet
// signing lives outside this module.
type OrderSigner interface {
	SignOrder(ctx context.Context, req OrderRequest) (SignedOrder, error)
}

func orderType(t model.OrderType) string {
	switch t {
	case model.OrderFOK:
		return "FOK"
	case model.OrderGTD:
		return "GTD"
	default:
		return "GTC"
	}
}

// PlaceOrder signs and posts an order. Only a venue rejection yields
// FAILED; a timeout returns PENDING with the order hash.
func (a *Adapter) PlaceOrder(ctx context.Context, o model.Order) (model.OrderResponse, error) {
	if err := provider.ValidateOrder(model.VenuePolymarket, a.Capabilities(), o); err != nil {
		return model.OrderResponse{}, err
	}

	token, err := a.tokenFor(ctx, model.BookKey{Venue: model.VenuePolymarket, Market: o.Market, Outcome: o.Outcome})
	if err != nil {
		return model.OrderResponse{}, fmt.Errorf("%w: %v", provider.ErrInvalidOrder, err)
	}

	req := OrderRequest{TokenID: token, Side: o.Side, Price: *o.Price, Size: o.Size}
	if o.Type == model.OrderGTD {
		req.Expiration = o.ExpiresAt.Unix()
	}
	signed, err := a.cfg.OrderSigner.SignOrder(ctx, req)
	if err != nil {
		return model.OrderResponse{}, fmt.Errorf("sign order: %w", err)
	}

	pending := model.OrderResponse{
		Venue:         model.VenuePolymarket,
		OrderID:       signed.OrderID,
		ClientOrderID: o.ClientOrderID,
		Market:        o.Market,
		Status:        model.OrderPending,
		UpdatedAt:     a.now().UTC(),
	}

	body := postOrderRequest{Order: signed.Order, Owner: a.cfg.Credentials.APIKey, OrderType: orderType(o.Type)}
	var resp postOrderResponse
	if err := a.rest.Post(ctx, "/order", body, &resp); err != nil {
		err = provider.OrderError(err)
		if errors.Is(err, provider.ErrOrderRejected) {
			pending.Status = model.OrderFailed
		}
		a.logger.Warn("place order failed", "market", o.Market, "order_id", signed.OrderID, "status", pending.Status, "error", err)
		return pending, err
	}

	if !resp.Success {
		pending.Status = model.OrderFailed
		return pending, fmt.Errorf("%w: %s", provider.ErrOrderRejected, resp.ErrorMsg)
	}
	if resp.OrderID != "" {
		pending.OrderID = resp.OrderID
	}
	pending.Status = placementStatus(resp.Status)
	return pending, nil
}

// CancelOrder cancels one order by id.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := provider.Require(model.VenuePolymarket, a.Capabilities(), provider.CapCancelOrder); err != nil {
		return false, err
	}
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is required", provider.ErrInvalidOrder)
	}

	var resp cancelResponse
	if err := a.rest.Delete(ctx, "/order", cancelRequest{OrderID: orderID}, &resp); err != nil {
		return false, provider.OrderError(err)
	}
	for _, id := range resp.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	if reason, ok := resp.NotCanceled[orderID]; ok {
		return false, fmt.Errorf("%w: %s", provider.ErrOrderRejected, reason)
	}
	return false, nil
}

// OrderStatus looks an order up by id (the order hash).
func (a *Adapter) OrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderResponse, error) {
	if err := provider.Require(model.VenuePolymarket, a.Capabilities(), provider.CapOrderStatus); err != nil {
		return model.OrderResponse{}, err
	}
	if ref.OrderID == "" {
		return model.OrderResponse{}, fmt.Errorf("%w: polymarket orders are looked up by order id", provider.ErrInvalidOrder)
	}

	var resp *apiOrder
	if err := a.rest.Get(ctx, "/data/order/"+url.PathEscape(ref.OrderID), nil, &resp); err != nil {
		if api.IsNotFound(err) {
			return model.OrderResponse{}, fmt.Errorf("%w: %s", provider.ErrOrderNotFound, ref.OrderID)
		}
		return model.OrderResponse{}, fmt.Errorf("get order %s: %w", ref.OrderID, err)
	}
	if resp == nil || strings.TrimSpace(resp.ID) == "" {
		return model.OrderResponse{}, fmt.Errorf("%w: %s", provider.ErrOrderNotFound, ref.OrderID)
	}
	out := resp.toModel()
	out.ClientOrderID = ref.ClientOrderID
	return out, nil
}
