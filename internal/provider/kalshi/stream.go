package kalshi

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
)

var errUnknownMessage = errors.New("unknown message type")

// streamHandler is the connection.Handler view of the adapter.
type streamHandler Adapter

var _ connection.Handler = (*streamHandler)(nil)

// OnConnect restarts command ids and sequence tracking for the new socket
// and tells downstream that every book must resync.
func (h *streamHandler) OnConnect(_ context.Context, conn connection.Conn) error {
	a := (*Adapter)(h)

	a.mu.Lock()
	a.nextID = 0
	clear(a.pending)
	clear(a.sids)
	a.mu.Unlock()

	a.seqs.Reset()
	a.events.Push(model.DeltaEvent{
		Kind:       model.EventReset,
		Key:        model.BookKey{Venue: model.VenueKalshi},
		ReceivedAt: a.now(),
	})

	frame, err := json.Marshal(subscribeCommand{
		ID:     a.commandID(""),
		Cmd:    "subscribe",
		Params: subscribeParams{Channels: []string{channelFill}},
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// SubscribeMessages sends one command per ticker so that each orderbook
// subscription id, and therefore each seq stream, covers exactly one market.
func (h *streamHandler) SubscribeMessages(tickers []string) ([][]byte, error) {
	a := (*Adapter)(h)

	channels := []string{channelOrderbook}
	if a.cfg.Trades {
		channels = append(channels, channelTrade)
	}

	frames := make([][]byte, 0, len(tickers))
	for _, t := range tickers {
		frame, err := json.Marshal(subscribeCommand{
			ID:     a.commandID(t),
			Cmd:    "subscribe",
			Params: subscribeParams{Channels: channels, MarketTickers: []string{t}},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (h *streamHandler) UnsubscribeMessages(tickers []string) ([][]byte, error) {
	a := (*Adapter)(h)

	a.mu.Lock()
	var sids []int64
	for _, t := range tickers {
		sids = append(sids, a.sids[t]...)
		delete(a.sids, t)
	}
	a.mu.Unlock()

	if len(sids) == 0 {
		return nil, nil
	}
	frame, err := json.Marshal(subscribeCommand{
		ID:     a.commandID(""),
		Cmd:    "unsubscribe",
		Params: subscribeParams{SIDs: sids},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (h *streamHandler) HandleMessage(msg connection.TimestampedMessage) {
	a := (*Adapter)(h)

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		a.logger.Warn("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}

	switch env.Type {
	case "subscribed":
		var sub subscribedWire
		if err := json.Unmarshal(msg.Data, &sub); err == nil {
			a.recordSID(sub.ID, sub.Msg.SID)
		}
		return
	case "error":
		var e errorWire
		if err := json.Unmarshal(msg.Data, &e); err == nil {
			a.logger.Warn("venue command error", "id", e.ID, "code", e.Msg.Code, "msg", e.Msg.Msg)
		}
		return
	}

	events, err := a.decode(env.Type, msg.Data, msg.ReceivedAt)
	if err != nil {
		a.logger.Warn("dropping stream message", "type", env.Type, "error", err)
		return
	}
	for _, ev := range events {
		a.events.Push(ev)
	}
}

// DecodeStreamMessage decodes one raw frame. Control frames yield no events.
func (a *Adapter) DecodeStreamMessage(raw []byte) ([]model.DeltaEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return a.decode(env.Type, raw, a.now())
}

func (a *Adapter) decode(typ string, raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	switch typ {
	case "orderbook_snapshot":
		return a.decodeSnapshot(raw, at)
	case "orderbook_delta":
		return a.decodeDelta(raw, at)
	case "trade":
		return decodeTrade(raw, at)
	case "fill":
		return decodeFill(raw, at)
	case "subscribed", "unsubscribed", "ok", "error":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownMessage, typ)
	}
}

func (a *Adapter) decodeSnapshot(raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	var w orderbookSnapshotWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode orderbook_snapshot: %w", err)
	}
	if w.Msg.MarketTicker == "" {
		return nil, errors.New("orderbook_snapshot without market_ticker")
	}

	yes, err := parseLevels(w.Msg.YesDollars, w.Msg.Yes)
	if err != nil {
		return nil, err
	}
	no, err := parseLevels(w.Msg.NoDollars, w.Msg.No)
	if err != nil {
		return nil, err
	}

	yesBids, yesAsks, noBids, noAsks := outcomeBooks(yes, no)
	yesKey := bookKey(w.Msg.MarketTicker, OutcomeYes)
	noKey := bookKey(w.Msg.MarketTicker, OutcomeNo)
	a.seqs.Observe(yesKey, w.Seq)
	a.seqs.Observe(noKey, w.Seq)

	return []model.DeltaEvent{
		{Kind: model.EventSnapshot, Key: yesKey, Sequence: w.Seq, Bids: yesBids, Asks: yesAsks, Source: model.SourceStream, ReceivedAt: at},
		{Kind: model.EventSnapshot, Key: noKey, Sequence: w.Seq, Bids: noBids, Asks: noAsks, Source: model.SourceStream, ReceivedAt: at},
	}, nil
}

func (a *Adapter) decodeDelta(raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	var w orderbookDeltaWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode orderbook_delta: %w", err)
	}
	if w.Msg.MarketTicker == "" {
		return nil, errors.New("orderbook_delta without market_ticker")
	}

	price, err := parsePrice(w.Msg.PriceDollars, w.Msg.Price)
	if err != nil {
		return nil, err
	}
	yesChange, noChange, err := deltaChanges(w.Msg.Side, price, decimal.NewFromInt(w.Msg.Delta))
	if err != nil {
		return nil, err
	}

	yesKey := bookKey(w.Msg.MarketTicker, OutcomeYes)
	noKey := bookKey(w.Msg.MarketTicker, OutcomeNo)
	a.seqs.Observe(yesKey, w.Seq)
	a.seqs.Observe(noKey, w.Seq)

	return []model.DeltaEvent{
		{Kind: model.EventDelta, Key: yesKey, Sequence: w.Seq, Changes: []model.LevelChange{yesChange}, ReceivedAt: at},
		{Kind: model.EventDelta, Key: noKey, Sequence: w.Seq, Changes: []model.LevelChange{noChange}, ReceivedAt: at},
	}, nil
}

func decodeTrade(raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	var w tradeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode trade: %w", err)
	}
	price, err := parsePrice(w.Msg.YesPriceDollars, w.Msg.YesPrice)
	if err != nil {
		return nil, err
	}

	// Prices are quoted on the yes outcome; a no taker sells yes.
	side := model.TradeBuy
	if w.Msg.TakerSide == OutcomeNo {
		side = model.TradeSell
	}
	ts := at
	if w.Msg.TS > 0 {
		ts = time.Unix(w.Msg.TS, 0)
	}

	trade := &model.Trade{
		Venue:     model.VenueKalshi,
		Market:    w.Msg.MarketTicker,
		Outcome:   OutcomeYes,
		Price:     price,
		Size:      decimal.NewFromInt(w.Msg.Count),
		Side:      side,
		Timestamp: ts.UTC(),
		TradeID:   w.Msg.TradeID,
	}
	return []model.DeltaEvent{{
		Kind:       model.EventTrade,
		Key:        bookKey(w.Msg.MarketTicker, OutcomeYes),
		Trade:      trade,
		ReceivedAt: at,
	}}, nil
}

func decodeFill(raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	var w fillWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode fill: %w", err)
	}
	if w.Msg.OrderID == "" {
		return nil, errors.New("fill without order_id")
	}

	yesPrice, err := parsePrice(w.Msg.YesPriceDollars, w.Msg.YesPrice)
	if err != nil {
		return nil, err
	}
	price := yesPrice
	if w.Msg.Side == OutcomeNo {
		price = one.Sub(yesPrice)
	}
	side := model.Buy
	if w.Msg.Action == "sell" {
		side = model.Sell
	}
	ts := at
	if w.Msg.TS > 0 {
		ts = time.Unix(w.Msg.TS, 0)
	}

	fill := &model.Fill{
		Venue:         model.VenueKalshi,
		OrderID:       w.Msg.OrderID,
		ClientOrderID: w.Msg.ClientOrderID,
		Market:        w.Msg.MarketTicker,
		Outcome:       w.Msg.Side,
		Side:          side,
		Price:         price,
		Size:          decimal.NewFromInt(w.Msg.Count),
		TradeID:       w.Msg.TradeID,
		Timestamp:     ts.UTC(),
	}
	return []model.DeltaEvent{{
		Kind:       model.EventOrder,
		Key:        bookKey(w.Msg.MarketTicker, w.Msg.Side),
		Fill:       fill,
		ReceivedAt: at,
	}}, nil
}

// commandID allocates the next command id and remembers which ticker it
// subscribes, if any.
func (a *Adapter) commandID(ticker string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	if ticker != "" {
		a.pending[a.nextID] = ticker
	}
	return a.nextID
}

func (a *Adapter) recordSID(id, sid int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ticker, ok := a.pending[id]
	if !ok {
		return
	}
	a.sids[ticker] = append(a.sids[ticker], sid)
}
