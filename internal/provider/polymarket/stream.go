package polymarket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
)

var (
	errUnknownEvent = errors.New("unknown event type")
	errUnknownAsset = errors.New("event for unknown asset")
)

// tradeNamespace scopes the deterministic trade ids derived from trade fields.
var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://clob.polymarket.com/trades"))

type streamHandler Adapter

var _ connection.Handler = (*streamHandler)(nil)

// OnConnect resets synthesized sequences; the first subscribe on the new
// socket uses the initial message shape.
func (h *streamHandler) OnConnect(context.Context, connection.Conn) error {
	a := (*Adapter)(h)

	a.mu.Lock()
	a.streamed = false
	a.mu.Unlock()

	a.seqs.Reset()
	a.events.Push(model.DeltaEvent{
		Kind:       model.EventReset,
		Key:        model.BookKey{Venue: model.VenuePolymarket},
		ReceivedAt: a.now(),
	})
	return nil
}

// SubscribeMessages sends every token in one frame. The first frame on a
// socket is the channel handshake; later additions use the subscribe operation.
func (h *streamHandler) SubscribeMessages(tokens []string) ([][]byte, error) {
	a := (*Adapter)(h)

	msg := subscribeMessage{AssetsIDs: tokens}
	a.mu.Lock()
	if a.streamed {
		msg.Operation = "subscribe"
	} else {
		msg.Type = "market"
		a.streamed = true
	}
	a.mu.Unlock()

	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (h *streamHandler) UnsubscribeMessages(tokens []string) ([][]byte, error) {
	frame, err := json.Marshal(subscribeMessage{AssetsIDs: tokens, Operation: "unsubscribe"})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (h *streamHandler) HandleMessage(msg connection.TimestampedMessage) {
	a := (*Adapter)(h)

	events, err := a.decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		a.logger.Warn("dropping stream message", "error", err, "bytes", len(msg.Data))
	}
	for _, ev := range events {
		a.events.Push(ev)
	}
}

// DecodeStreamMessage decodes one frame. Events already decoded from an
// array frame are returned alongside the error of a later bad element.
func (a *Adapter) DecodeStreamMessage(raw []byte) ([]model.DeltaEvent, error) {
	return a.decode(raw, a.now())
}

func (a *Adapter) decode(raw []byte, at time.Time) ([]model.DeltaEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty frame")
	}

	var wires []eventWire
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wires); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	} else {
		var w eventWire
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		wires = []eventWire{w}
	}

	var out []model.DeltaEvent
	var errs []error
	for i := range wires {
		events, err := a.decodeEvent(&wires[i], at)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, events...)
	}
	return out, errors.Join(errs...)
}

func (a *Adapter) decodeEvent(w *eventWire, at time.Time) ([]model.DeltaEvent, error) {
	switch w.EventType {
	case "book":
		return a.decodeBook(w, at)
	case "price_change":
		return a.decodePriceChange(w, at)
	case "last_trade_price":
		return a.decodeTrade(w, at)
	case "tick_size_change", "best_bid_ask":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownEvent, w.EventType)
	}
}

func (a *Adapter) decodeBook(w *eventWire, at time.Time) ([]model.DeltaEvent, error) {
	key, ok := a.keyFor(w.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w %s", errUnknownAsset, w.AssetID)
	}
	bids, err := parseLevels(w.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(w.Asks)
	if err != nil {
		return nil, err
	}
	sortBook(bids, asks)

	return []model.DeltaEvent{{
		Kind:       model.EventSnapshot,
		Key:        key,
		Sequence:   a.seqs.Next(key),
		Bids:       bids,
		Asks:       asks,
		Source:     model.SourceStream,
		ReceivedAt: at,
	}}, nil
}

// decodePriceChange groups level updates by asset, producing one delta per
// book. Sizes are absolute. An unknown asset or a malformed change drops only
// that asset's delta; the other books in the frame still get theirs. A known
// book whose delta is dropped skips a sequence number, so its engine sees a
// gap on the next delta and resyncs.
func (a *Adapter) decodePriceChange(w *eventWire, at time.Time) ([]model.DeltaEvent, error) {
	changes := w.PriceChanges
	if len(changes) == 0 {
		for _, c := range w.Changes {
			changes = append(changes, priceChangeWire{AssetID: w.AssetID, Price: c.Price, Size: c.Size, Side: c.Side})
		}
	}
	if len(changes) == 0 {
		return nil, errors.New("price_change without changes")
	}

	var order []string
	byAsset := make(map[string][]model.LevelChange)
	failed := make(map[string]error)
	for _, c := range changes {
		if _, bad := failed[c.AssetID]; bad {
			continue
		}
		if _, seen := byAsset[c.AssetID]; !seen {
			order = append(order, c.AssetID)
			byAsset[c.AssetID] = nil
		}
		lc, err := parseChange(c)
		if err != nil {
			failed[c.AssetID] = fmt.Errorf("asset %s: %w", c.AssetID, err)
			continue
		}
		byAsset[c.AssetID] = append(byAsset[c.AssetID], lc)
	}

	var events []model.DeltaEvent
	var errs []error
	for _, asset := range order {
		if err, bad := failed[asset]; bad {
			if key, ok := a.keyFor(asset); ok {
				a.seqs.Next(key)
			}
			errs = append(errs, err)
			continue
		}
		key, ok := a.keyFor(asset)
		if !ok {
			errs = append(errs, fmt.Errorf("%w %s", errUnknownAsset, asset))
			continue
		}
		events = append(events, model.DeltaEvent{
			Kind:       model.EventDelta,
			Key:        key,
			Changes:    byAsset[asset],
			Sequence:   a.seqs.Next(key),
			ReceivedAt: at,
		})
	}
	return events, errors.Join(errs...)
}

func parseChange(c priceChangeWire) (model.LevelChange, error) {
	side, err := bookSide(c.Side)
	if err != nil {
		return model.LevelChange{}, err
	}
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return model.LevelChange{}, fmt.Errorf("parse price %q: %w", c.Price, err)
	}
	size, err := decimal.NewFromString(c.Size)
	if err != nil {
		return model.LevelChange{}, fmt.Errorf("parse size %q: %w", c.Size, err)
	}
	return model.LevelChange{Side: side, Price: price, Size: size}, nil
}

func (a *Adapter) decodeTrade(w *eventWire, at time.Time) ([]model.DeltaEvent, error) {
	key, ok := a.keyFor(w.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w %s", errUnknownAsset, w.AssetID)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", w.Price, err)
	}
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", w.Size, err)
	}

	side := model.TradeBuy
	if w.Side == "SELL" {
		side = model.TradeSell
	}

	// No venue trade id; derive a stable one from the trade fields.
	id := uuid.NewSHA1(tradeNamespace, []byte(w.AssetID+"|"+w.Timestamp+"|"+w.Price+"|"+w.Size+"|"+w.Side))

	return []model.DeltaEvent{{
		Kind: model.EventTrade,
		Key:  key,
		Trade: &model.Trade{
			Venue:     model.VenuePolymarket,
			Market:    key.Market,
			Outcome:   key.Outcome,
			Price:     price,
			Size:      size,
			Side:      side,
			Timestamp: parseMillis(w.Timestamp, at.UTC()),
			TradeID:   id.String(),
		},
		ReceivedAt: at,
	}}, nil
}
