package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

// fakeAdapter is an in-memory venue. Tests push stream events through
// events and configure REST replies through the exported fields.
type fakeAdapter struct {
	venue  model.Venue
	caps   provider.Capability
	events *buffer.Queue[model.DeltaEvent]

	mu          sync.Mutex
	state       model.SessionState
	subscribed  map[model.BookKey]int
	snapshots   map[model.BookKey]model.Snapshot
	markets     []model.Market
	placeResp   model.OrderResponse
	placeErr    error
	placed      []model.Order
	cancelOK    bool
	statusResp  model.OrderResponse
	stopped     bool
	snapshotErr error

	// subscribeGate, when set, holds Subscribe until it is closed;
	// subscribeErr is then returned.
	subscribeGate    chan struct{}
	subscribeEntered chan struct{}
	subscribeErr     error
}

func newFakeAdapter(venue model.Venue, caps provider.Capability) *fakeAdapter {
	return &fakeAdapter{
		venue:      venue,
		caps:       caps,
		events:     buffer.New[model.DeltaEvent](64),
		subscribed: make(map[model.BookKey]int),
		snapshots:  make(map[model.BookKey]model.Snapshot),
	}
}

func (f *fakeAdapter) Venue() model.Venue                { return f.venue }
func (f *fakeAdapter) Capabilities() provider.Capability { return f.caps }

func (f *fakeAdapter) Events() *buffer.Queue[model.DeltaEvent] { return f.events }

func (f *fakeAdapter) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = model.StateSubscribed
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.state = model.StateDisconnected
	f.stopped = true
	f.mu.Unlock()
	f.events.Close()
	return nil
}

func (f *fakeAdapter) SessionState() model.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) Subscribe(_ context.Context, key model.BookKey) error {
	f.mu.Lock()
	gate, entered := f.subscribeGate, f.subscribeEntered
	f.mu.Unlock()
	if gate != nil {
		if entered != nil {
			close(entered)
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed[key]++
	return nil
}

func (f *fakeAdapter) Unsubscribe(_ context.Context, key model.BookKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[key]--
	return nil
}

func (f *fakeAdapter) subscriptions(key model.BookKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[key]
}

func (f *fakeAdapter) setSnapshot(s model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.Key] = s
}

func (f *fakeAdapter) FetchSnapshot(_ context.Context, key model.BookKey) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return model.Snapshot{}, f.snapshotErr
	}
	s, ok := f.snapshots[key]
	if !ok {
		return model.Snapshot{}, provider.ErrSnapshotUnavailable
	}
	return s, nil
}

func (f *fakeAdapter) DecodeStreamMessage([]byte) ([]model.DeltaEvent, error) { return nil, nil }

func (f *fakeAdapter) ListMarkets(context.Context) ([]model.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, nil
}

func (f *fakeAdapter) PlaceOrder(_ context.Context, o model.Order) (model.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, o)
	return f.placeResp, f.placeErr
}

func (f *fakeAdapter) CancelOrder(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelOK, nil
}

func (f *fakeAdapter) OrderStatus(context.Context, model.OrderRef) (model.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusResp, nil
}

var (
	yesKey = model.BookKey{Venue: model.VenueKalshi, Market: "KXTEST", Outcome: "yes"}
	polKey = model.BookKey{Venue: model.VenuePolymarket, Market: "0xabc", Outcome: "Yes"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, size string) model.PriceLevel {
	return model.PriceLevel{Price: dec(price), Size: dec(size)}
}

func snapshot(key model.BookKey, seq int64) model.Snapshot {
	return model.Snapshot{
		Key:      key,
		Bids:     []model.PriceLevel{level("0.40", "10")},
		Asks:     []model.PriceLevel{level("0.45", "5")},
		Sequence: seq,
		Time:     time.Now(),
	}
}

func deltaEvent(key model.BookKey, seq int64, price, size string) model.DeltaEvent {
	return model.DeltaEvent{
		Kind:     model.EventDelta,
		Key:      key,
		Sequence: seq,
		Changes: []model.LevelChange{{
			Side: model.SideBid, Price: dec(price), Size: dec(size), Relative: true,
		}},
		ReceivedAt: time.Now(),
	}
}
