package provider

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

var one = decimal.NewFromInt(1)

// ValidateOrder checks an order against the fields every venue needs and
// against the adapter's capabilities.
func ValidateOrder(venue model.Venue, caps Capability, o model.Order) error {
	if err := Require(venue, caps, CapPlaceOrder); err != nil {
		return err
	}
	if o.Market == "" {
		return fmt.Errorf("%w: market is required", ErrInvalidOrder)
	}
	if o.Outcome == "" {
		return fmt.Errorf("%w: outcome is required", ErrInvalidOrder)
	}
	if o.Side != model.Buy && o.Side != model.Sell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	if !o.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}

	switch o.Type {
	case model.OrderMarket:
		if err := Require(venue, caps, CapMarketOrders); err != nil {
			return err
		}
		return nil
	case model.OrderGTD:
		if err := Require(venue, caps, CapGTD); err != nil {
			return err
		}
		if o.ExpiresAt == nil {
			return fmt.Errorf("%w: GTD order needs an expiry", ErrInvalidOrder)
		}
	case model.OrderLimit, model.OrderGTC, model.OrderFOK:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, o.Type)
	}

	if o.Price == nil {
		return fmt.Errorf("%w: %s order needs a price", ErrInvalidOrder, o.Type)
	}
	if !o.Price.IsPositive() || o.Price.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: price %s outside (0, 1)", ErrInvalidOrder, o.Price)
	}
	return nil
}
