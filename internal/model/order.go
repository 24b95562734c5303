package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType selects execution semantics.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderFOK    OrderType = "FOK" // fill or kill
	OrderGTC    OrderType = "GTC" // good till cancelled
	OrderGTD    OrderType = "GTD" // good till ExpiresAt
)

// OrderStatus is the locally tracked lifecycle state of an order.
type OrderStatus string

const (
	// OrderPending means the venue outcome is not known yet. A timed-out
	// placement stays here until a status poll or stream update resolves it.
	OrderPending         OrderStatus = "PENDING"
	OrderConfirmed       OrderStatus = "CONFIRMED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderFailed          OrderStatus = "FAILED"
)

// Final reports whether no further transitions are expected.
func (s OrderStatus) Final() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderFailed:
		return true
	}
	return false
}

// Order is a user order request.
type Order struct {
	Venue         Venue
	Market        string
	Outcome       string
	Side          OrderSide
	Type          OrderType
	Size          decimal.Decimal
	Price         *decimal.Decimal // nil for market orders
	ExpiresAt     *time.Time       // required for GTD
	ClientOrderID string           // assigned by the adapter when empty
}

// OrderResponse is a venue reply about an order.
type OrderResponse struct {
	Venue         Venue           `json:"venue"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Market        string          `json:"market,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderRef identifies an order for status lookups. Either field may be empty
// when the venue never returned it.
type OrderRef struct {
	Market        string
	OrderID       string
	ClientOrderID string
}

// Fill is one execution against an order, reported on the venue's user stream.
type Fill struct {
	Venue         Venue           `json:"venue"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Market        string          `json:"market"`
	Outcome       string          `json:"outcome"`
	Side          OrderSide       `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	TradeID       string          `json:"trade_id"`
	Timestamp     time.Time       `json:"timestamp"`
}
