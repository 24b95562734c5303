package polymarket

// REST

type apiToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

type apiMarket struct {
	ConditionID string     `json:"condition_id"`
	Question    string     `json:"question"`
	Tokens      []apiToken `json:"tokens"`
	Active      bool       `json:"active"`
	Closed      bool       `json:"closed"`
	Archived    bool       `json:"archived"`
	EndDateISO  string     `json:"end_date_iso"`
}

// marketsPage from GET /markets
type marketsPage struct {
	Data       []apiMarket `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

type apiLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookResponse from GET /book?token_id=
type bookResponse struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Bids      []apiLevel `json:"bids"`
	Asks      []apiLevel `json:"asks"`
	Hash      string     `json:"hash"`
	Timestamp string     `json:"timestamp"`
}

type postOrderRequest struct {
	Order     any    `json:"order"`
	Owner     string `json:"owner"`
	OrderType string `json:"orderType"`
}

type postOrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // live | matched | delayed | unmatched
}

type cancelRequest struct {
	OrderID string `json:"orderID"`
}

type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

type apiOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Outcome      string `json:"outcome"`
}

// WebSocket

type subscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
}

// eventWire is the union of market channel events. Polymarket sends either
// one object or an array of them per frame.
type eventWire struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`

	// book
	Bids []apiLevel `json:"bids"`
	Asks []apiLevel `json:"asks"`

	// price_change, legacy shape
	Changes []changeWire `json:"changes"`

	// price_change, current shape
	PriceChanges []priceChangeWire `json:"price_changes"`

	// last_trade_price
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

type changeWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"` // BUY | SELL
}

type priceChangeWire struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}
