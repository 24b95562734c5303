package kalshi

// REST

// marketsResponse from GET /markets
type marketsResponse struct {
	Markets []apiMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// singleMarketResponse from GET /markets/{ticker}
type singleMarketResponse struct {
	Market apiMarket `json:"market"`
}

type apiMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Status      string `json:"status"`
	MarketType  string `json:"market_type"`
	CloseTime   string `json:"close_time"`
	Result      string `json:"result"`
}

// orderbookResponse from GET /markets/{ticker}/orderbook
type orderbookResponse struct {
	Orderbook struct {
		// [price_cents, quantity]
		Yes [][]int `json:"yes"`
		No  [][]int `json:"no"`

		// ["0.52", quantity], sub-penny capable
		YesDollars [][]any `json:"yes_dollars"`
		NoDollars  [][]any `json:"no_dollars"`
	} `json:"orderbook"`
}

type createOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`   // yes | no
	Action        string `json:"action"` // buy | sell
	Count         int64  `json:"count"`
	Type          string `json:"type"` // limit | market
	YesPrice      *int64 `json:"yes_price,omitempty"`
	NoPrice       *int64 `json:"no_price,omitempty"`
	ExpirationTS  *int64 `json:"expiration_ts,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

type orderResponse struct {
	Order apiOrder `json:"order"`
}

type ordersResponse struct {
	Orders []apiOrder `json:"orders"`
	Cursor string     `json:"cursor"`
}

type apiOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Status         string `json:"status"` // resting | executed | canceled | pending
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	FillCount      int64  `json:"fill_count"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCost  int64  `json:"maker_fill_cost"`
	LastUpdateTime string `json:"last_update_time"`
}

// WebSocket

type subscribeCommand struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channels      []string `json:"channels,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []int64  `json:"sids,omitempty"`
}

// envelope is decoded first to route on type.
type envelope struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	SID  int64  `json:"sid"`
	Seq  int64  `json:"seq"`
}

type subscribedWire struct {
	ID  int64 `json:"id"`
	Msg struct {
		Channel string `json:"channel"`
		SID     int64  `json:"sid"`
	} `json:"msg"`
}

type errorWire struct {
	ID  int64 `json:"id"`
	Msg struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"msg"`
}

type orderbookSnapshotWire struct {
	SID int64 `json:"sid"`
	Seq int64 `json:"seq"`
	Msg struct {
		MarketTicker string  `json:"market_ticker"`
		Yes          [][]int `json:"yes"`
		No           [][]int `json:"no"`
		YesDollars   [][]any `json:"yes_dollars"`
		NoDollars    [][]any `json:"no_dollars"`
	} `json:"msg"`
}

type orderbookDeltaWire struct {
	SID int64 `json:"sid"`
	Seq int64 `json:"seq"`
	Msg struct {
		MarketTicker string `json:"market_ticker"`
		Price        int    `json:"price"`
		PriceDollars string `json:"price_dollars"`
		Delta        int64  `json:"delta"`
		Side         string `json:"side"`
	} `json:"msg"`
}

type tradeWire struct {
	SID int64 `json:"sid"`
	Msg struct {
		MarketTicker    string `json:"market_ticker"`
		TradeID         string `json:"trade_id"`
		Count           int64  `json:"count"`
		YesPrice        int    `json:"yes_price"`
		YesPriceDollars string `json:"yes_price_dollars"`
		TakerSide       string `json:"taker_side"`
		TS              int64  `json:"ts"` // unix seconds
	} `json:"msg"`
}

type fillWire struct {
	SID int64 `json:"sid"`
	Msg struct {
		TradeID         string `json:"trade_id"`
		OrderID         string `json:"order_id"`
		ClientOrderID   string `json:"client_order_id"`
		MarketTicker    string `json:"market_ticker"`
		Side            string `json:"side"`
		Action          string `json:"action"`
		YesPrice        int    `json:"yes_price"`
		YesPriceDollars string `json:"yes_price_dollars"`
		Count           int64  `json:"count"`
		TS              int64  `json:"ts"`
	} `json:"msg"`
}
