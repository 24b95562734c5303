package polymarket

import (
	"context"
	"errors"
	"testing"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
)

// newResolvedAdapter returns an adapter that already knows the COND tokens.
func newResolvedAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := newTestAdapter(t, "http://127.0.0.1:1", nil)
	a.rememberTokens(&apiMarket{
		ConditionID: "COND",
		Tokens:      []apiToken{{TokenID: "111", Outcome: "Yes"}, {TokenID: "222", Outcome: "No"}},
	})
	return a
}

func TestDecode_BookAndPriceChange(t *testing.T) {
	a := newResolvedAdapter(t)

	events, err := a.DecodeStreamMessage([]byte(`{"event_type":"book","asset_id":"111","market":"COND",
		"bids":[{"price":"0.48","size":"30"}],"asks":[{"price":"0.52","size":"25"}],"timestamp":"1700000000000"}`))
	if err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventSnapshot || events[0].Sequence != 1 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Key != yesKey() || events[0].Source != model.SourceStream {
		t.Errorf("event = %+v", events[0])
	}

	// Current shape: changes for two assets in one event.
	events, err = a.DecodeStreamMessage([]byte(`{"event_type":"price_change","market":"COND","timestamp":"1700000000100",
		"price_changes":[
			{"asset_id":"111","price":"0.49","size":"10","side":"BUY"},
			{"asset_id":"222","price":"0.51","size":"0","side":"SELL"},
			{"asset_id":"111","price":"0.52","size":"0","side":"SELL"}
		]}`))
	if err != nil {
		t.Fatalf("decode price_change: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want one per asset", len(events))
	}
	if events[0].Key != yesKey() || events[0].Sequence != 2 || len(events[0].Changes) != 2 {
		t.Errorf("yes event = %+v", events[0])
	}
	if events[1].Key != noKey() || events[1].Sequence != 1 {
		t.Errorf("no event = %+v", events[1])
	}
	ch := events[0].Changes[0]
	if ch.Side != model.SideBid || !ch.Price.Equal(dec("0.49")) || ch.Relative {
		t.Errorf("change = %+v, want absolute bid", ch)
	}

	// Legacy shape.
	events, err = a.DecodeStreamMessage([]byte(`{"event_type":"price_change","asset_id":"111","market":"COND",
		"changes":[{"price":"0.47","size":"3","side":"BUY"}]}`))
	if err != nil {
		t.Fatalf("decode legacy price_change: %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 3 {
		t.Errorf("events = %+v", events)
	}
}

func TestDecode_ArrayFrame(t *testing.T) {
	a := newResolvedAdapter(t)

	events, err := a.DecodeStreamMessage([]byte(`[
		{"event_type":"book","asset_id":"111","bids":[],"asks":[]},
		{"event_type":"book","asset_id":"222","bids":[],"asks":[]},
		{"event_type":"tick_size_change","asset_id":"111"}
	]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestDecode_BadElementKeepsOthers(t *testing.T) {
	a := newResolvedAdapter(t)

	events, err := a.DecodeStreamMessage([]byte(`[
		{"event_type":"book","asset_id":"999","bids":[],"asks":[]},
		{"event_type":"book","asset_id":"111","bids":[],"asks":[]}
	]`))
	if !errors.Is(err, errUnknownAsset) {
		t.Errorf("err = %v, want errUnknownAsset", err)
	}
	if len(events) != 1 || events[0].Key != yesKey() {
		t.Errorf("events = %+v", events)
	}

	// A rejected price_change skips a sequence number so the book resyncs.
	_, err = a.DecodeStreamMessage([]byte(`{"event_type":"price_change","price_changes":[
		{"asset_id":"111","price":"0.40","size":"1","side":"BUY"},
		{"asset_id":"111","price":"0.41","size":"1","side":"SIDEWAYS"}]}`))
	if err == nil {
		t.Error("expected error for bad side")
	}
	if a.seqs.Last(yesKey()) != 2 {
		t.Errorf("seq = %d, want 2", a.seqs.Last(yesKey()))
	}

	for _, raw := range []string{``, `{"event_type":`, `{"event_type":"new_thing"}`} {
		if _, err := a.DecodeStreamMessage([]byte(raw)); err == nil {
			t.Errorf("decode(%q): expected error", raw)
		}
	}
}

func TestDecode_PriceChangeSkipsOnlyBadAssets(t *testing.T) {
	a := newResolvedAdapter(t)

	events, err := a.DecodeStreamMessage([]byte(`{"event_type":"price_change","market":"COND","price_changes":[
		{"asset_id":"999","price":"0.30","size":"4","side":"BUY"},
		{"asset_id":"111","price":"0.49","size":"10","side":"BUY"},
		{"asset_id":"222","price":"0.51","size":"2","side":"SIDEWAYS"},
		{"asset_id":"222","price":"0.52","size":"2","side":"SELL"}
	]}`))
	if !errors.Is(err, errUnknownAsset) {
		t.Errorf("err = %v, want errUnknownAsset", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the yes book: %+v", len(events), events)
	}
	if events[0].Key != yesKey() || events[0].Sequence != 1 || len(events[0].Changes) != 1 {
		t.Errorf("event = %+v", events[0])
	}
	if got := a.seqs.Last(noKey()); got != 1 {
		t.Errorf("no book seq = %d, want 1 skipped after its changes were rejected", got)
	}

	events, err = a.DecodeStreamMessage([]byte(`{"event_type":"price_change","price_changes":[
		{"asset_id":"222","price":"0.52","size":"2","side":"SELL"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 2 {
		t.Errorf("events = %+v, want no book delta at seq 2 leaving a gap", events)
	}
}

func TestDecode_Trade(t *testing.T) {
	a := newResolvedAdapter(t)
	raw := []byte(`{"event_type":"last_trade_price","asset_id":"222","market":"COND",
		"price":"0.51","size":"12.5","side":"SELL","timestamp":"1700000000123"}`)

	events, err := a.DecodeStreamMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr := events[0].Trade
	if tr == nil || tr.Outcome != "No" || tr.Side != model.TradeSell || !tr.Size.Equal(dec("12.5")) {
		t.Fatalf("trade = %+v", tr)
	}
	if tr.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("Timestamp = %v", tr.Timestamp)
	}

	again, _ := a.DecodeStreamMessage(raw)
	if again[0].Trade.TradeID != tr.TradeID {
		t.Error("trade id should be stable for identical trades")
	}
}

func TestStreamHandler_SubscribeFrames(t *testing.T) {
	a := newResolvedAdapter(t)
	h := (*streamHandler)(a)

	connect := func() string {
		if err := h.OnConnect(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		frames, err := h.SubscribeMessages([]string{"111", "222"})
		if err != nil {
			t.Fatal(err)
		}
		return string(frames[0])
	}

	first := connect()
	if first != `{"assets_ids":["111","222"],"type":"market"}` {
		t.Errorf("initial frame = %s", first)
	}

	frames, _ := h.SubscribeMessages([]string{"333"})
	if string(frames[0]) != `{"assets_ids":["333"],"operation":"subscribe"}` {
		t.Errorf("live frame = %s", frames[0])
	}

	if second := connect(); second != first {
		t.Errorf("reconnect frame = %s, want %s", second, first)
	}

	frames, _ = h.UnsubscribeMessages([]string{"111"})
	if string(frames[0]) != `{"assets_ids":["111"],"operation":"unsubscribe"}` {
		t.Errorf("unsubscribe frame = %s", frames[0])
	}
}

func TestStreamHandler_ResetRestartsSequences(t *testing.T) {
	a := newResolvedAdapter(t)
	h := (*streamHandler)(a)

	h.HandleMessage(connection.TimestampedMessage{Data: []byte(`{"event_type":"book","asset_id":"111","bids":[],"asks":[]}`)})
	if err := h.OnConnect(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	h.HandleMessage(connection.TimestampedMessage{Data: []byte(`{"event_type":"book","asset_id":"111","bids":[],"asks":[]}`)})

	got := a.events.Drain(10)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[1].Kind != model.EventReset || got[1].Key.Venue != model.VenuePolymarket {
		t.Errorf("event[1] = %+v, want reset", got[1])
	}
	if got[0].Sequence != 1 || got[2].Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 1, 1", got[0].Sequence, got[2].Sequence)
	}
}

func TestHeartbeatConfig(t *testing.T) {
	hb := DefaultConfig().Session.Client.Heartbeat
	if string(hb.Ping) != "PING" {
		t.Errorf("Ping = %q", hb.Ping)
	}
	if !hb.IsPong([]byte("PONG")) || hb.IsPong([]byte(`{"event_type":"book"}`)) {
		t.Error("IsPong mismatch")
	}
}
