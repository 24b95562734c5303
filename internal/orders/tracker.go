// Package orders tracks the lifecycle of placed orders.
//
// Placement responses from REST are provisional. Updates and fills from a
// venue's order stream are authoritative: a final state reached on the
// stream is never downgraded by a later REST or poll response. Orders whose
// placement timed out stay PENDING until the Poller or the stream resolves
// them.
package orders

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// ErrUnknownOrder means the tracker has no order with that id.
var ErrUnknownOrder = errors.New("unknown order")

// Source says where the latest accepted update came from.
type Source int

const (
	SourceREST Source = iota
	SourcePoll
	SourceStream
)

func (s Source) String() string {
	switch s {
	case SourceREST:
		return "rest"
	case SourcePoll:
		return "poll"
	case SourceStream:
		return "stream"
	}
	return "unknown"
}

// Tracked is a copy of one order's tracked state.
type Tracked struct {
	Order    model.Order
	Response model.OrderResponse
	Source   Source
	PlacedAt time.Time
	Fills    int // stream fills applied
}

// ChangeFunc is called after every accepted update, outside the tracker lock.
type ChangeFunc func(Tracked)

type entry struct {
	Tracked
	fillIDs map[string]struct{}
}

// Tracker holds every order placed or observed during this process.
type Tracker struct {
	mu       sync.Mutex
	byID     map[string]*entry // venue/order id
	byClient map[string]*entry // venue/client order id

	onChange ChangeFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger, onChange ChangeFunc) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		byID:     make(map[string]*entry),
		byClient: make(map[string]*entry),
		onChange: onChange,
		logger:   logger,
		now:      time.Now,
	}
}

// Track records a placement result. resp is provisional.
func (t *Tracker) Track(order model.Order, resp model.OrderResponse) Tracked {
	t.mu.Lock()

	e := t.lookup(order.Venue, resp.OrderID, firstNonEmpty(resp.ClientOrderID, order.ClientOrderID))
	if e == nil {
		e = &entry{
			Tracked: Tracked{Source: SourceREST, PlacedAt: t.now()},
			fillIDs: make(map[string]struct{}),
		}
		e.Response = model.OrderResponse{Venue: order.Venue, Market: order.Market, Status: model.OrderPending}
	}
	e.Order = order
	if e.Response.ClientOrderID == "" {
		e.Response.ClientOrderID = firstNonEmpty(resp.ClientOrderID, order.ClientOrderID)
	}
	t.merge(e, resp, SourceREST)
	settle(e)
	t.index(e)

	out := e.Tracked
	t.mu.Unlock()

	t.changed(out)
	return out
}

// ApplyPoll merges a status poll result. Like REST responses it can only
// move an order forward.
func (t *Tracker) ApplyPoll(resp model.OrderResponse) (Tracked, error) {
	t.mu.Lock()
	e := t.lookup(resp.Venue, resp.OrderID, resp.ClientOrderID)
	if e == nil {
		t.mu.Unlock()
		return Tracked{}, ErrUnknownOrder
	}
	changed := t.merge(e, resp, SourcePoll)
	t.index(e)
	out := e.Tracked
	t.mu.Unlock()

	if changed {
		t.changed(out)
	}
	return out, nil
}

// Fail marks a still-pending order FAILED, for placements the venue never
// accepted. Orders in any other state are left alone.
func (t *Tracker) Fail(venue model.Venue, orderID, clientOrderID string) bool {
	t.mu.Lock()
	e := t.lookup(venue, orderID, clientOrderID)
	if e == nil || e.Response.Status != model.OrderPending {
		t.mu.Unlock()
		return false
	}
	e.Response.Status = model.OrderFailed
	e.Response.UpdatedAt = t.now().UTC()
	e.Source = SourcePoll
	out := e.Tracked
	t.mu.Unlock()

	t.changed(out)
	return true
}

// ApplyStream applies an authoritative order event from a venue stream.
func (t *Tracker) ApplyStream(ev model.DeltaEvent) {
	switch {
	case ev.Fill != nil:
		t.applyFill(*ev.Fill)
	case ev.Order != nil:
		t.applyStatus(*ev.Order)
	}
}

func (t *Tracker) applyStatus(resp model.OrderResponse) {
	t.mu.Lock()
	e := t.lookup(resp.Venue, resp.OrderID, resp.ClientOrderID)
	if e == nil {
		e = t.observed(resp.Venue, resp.OrderID, resp.ClientOrderID, resp.Market)
	}
	changed := t.merge(e, resp, SourceStream)
	t.index(e)
	out := e.Tracked
	t.mu.Unlock()

	if changed {
		t.changed(out)
	}
}

func (t *Tracker) applyFill(f model.Fill) {
	t.mu.Lock()
	e := t.lookup(f.Venue, f.OrderID, f.ClientOrderID)
	if e == nil {
		e = t.observed(f.Venue, f.OrderID, f.ClientOrderID, f.Market)
		t.logger.Debug("fill for untracked order", "venue", f.Venue, "order_id", f.OrderID)
	}
	if f.TradeID != "" {
		if _, dup := e.fillIDs[f.TradeID]; dup {
			t.mu.Unlock()
			return
		}
		e.fillIDs[f.TradeID] = struct{}{}
	}
	if e.Response.Status.Final() && e.Source == SourceStream {
		t.logger.Warn("fill after final stream state", "order_id", e.Response.OrderID, "status", e.Response.Status)
	}

	r := &e.Response
	total := r.FilledSize.Add(f.Size)
	if total.IsPositive() {
		r.AvgPrice = r.AvgPrice.Mul(r.FilledSize).Add(f.Price.Mul(f.Size)).Div(total)
	}
	r.FilledSize = total
	if r.OrderID == "" {
		r.OrderID = f.OrderID
	}
	r.UpdatedAt = f.Timestamp
	e.Fills++
	e.Source = SourceStream

	if !r.Status.Final() {
		r.Status = model.OrderPartiallyFilled
	}
	settle(e)
	t.index(e)
	out := e.Tracked
	t.mu.Unlock()

	t.changed(out)
}

// Get returns an order by venue order id or client order id.
func (t *Tracker) Get(venue model.Venue, id string) (Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.lookup(venue, id, id)
	if e == nil {
		return Tracked{}, false
	}
	return e.Tracked, true
}

// Open returns every order that has not reached a final state.
func (t *Tracker) Open() []Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Tracked
	for _, e := range t.entries() {
		if !e.Response.Status.Final() {
			out = append(out, e.Tracked)
		}
	}
	return out
}

// Prune forgets final orders last updated before cutoff. It returns the
// number removed.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries() {
		if !e.Response.Status.Final() || !e.Response.UpdatedAt.Before(cutoff) {
			continue
		}
		if e.Response.OrderID != "" {
			delete(t.byID, indexKey(e.Response.Venue, e.Response.OrderID))
		}
		if e.Response.ClientOrderID != "" {
			delete(t.byClient, indexKey(e.Response.Venue, e.Response.ClientOrderID))
		}
		n++
	}
	return n
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries())
}

// merge folds resp into e. Updates never move an order backwards, and once
// the stream has reported a final state nothing else changes it.
func (t *Tracker) merge(e *entry, resp model.OrderResponse, src Source) bool {
	cur := &e.Response
	if cur.Status.Final() && e.Source == SourceStream {
		return false
	}
	if src != SourceStream && rank(resp.Status) < rank(cur.Status) {
		return false
	}

	if resp.OrderID != "" {
		cur.OrderID = resp.OrderID
	}
	if resp.ClientOrderID != "" && cur.ClientOrderID == "" {
		cur.ClientOrderID = resp.ClientOrderID
	}
	if resp.Market != "" {
		cur.Market = resp.Market
	}
	if resp.Status != "" {
		cur.Status = resp.Status
	}
	// Stream fills may already be ahead of what REST reports.
	if resp.FilledSize.GreaterThan(cur.FilledSize) {
		cur.FilledSize = resp.FilledSize
		if resp.AvgPrice.IsPositive() {
			cur.AvgPrice = resp.AvgPrice
		}
	}
	if !resp.UpdatedAt.IsZero() {
		cur.UpdatedAt = resp.UpdatedAt
	} else {
		cur.UpdatedAt = t.now().UTC()
	}
	e.Source = src
	settle(e)
	return true
}

// settle promotes a partially filled order to FILLED once the fills cover
// the requested size.
func settle(e *entry) {
	r := &e.Response
	if e.Order.Size.IsPositive() && r.FilledSize.GreaterThanOrEqual(e.Order.Size) && !r.Status.Final() {
		r.Status = model.OrderFilled
	}
	if r.Status == model.OrderPartiallyFilled && r.FilledSize.IsZero() {
		r.Status = model.OrderConfirmed
	}
}

// observed creates an entry for an order first seen on the stream.
func (t *Tracker) observed(venue model.Venue, orderID, clientID, market string) *entry {
	return &entry{
		Tracked: Tracked{
			Response: model.OrderResponse{
				Venue:         venue,
				OrderID:       orderID,
				ClientOrderID: clientID,
				Market:        market,
				Status:        model.OrderConfirmed,
				FilledSize:    decimal.Zero,
				AvgPrice:      decimal.Zero,
			},
			Source:   SourceStream,
			PlacedAt: t.now(),
		},
		fillIDs: make(map[string]struct{}),
	}
}

func (t *Tracker) lookup(venue model.Venue, orderID, clientID string) *entry {
	if orderID != "" {
		if e, ok := t.byID[indexKey(venue, orderID)]; ok {
			return e
		}
	}
	if clientID != "" {
		if e, ok := t.byClient[indexKey(venue, clientID)]; ok {
			return e
		}
	}
	return nil
}

func (t *Tracker) index(e *entry) {
	if e.Response.Venue == "" {
		e.Response.Venue = e.Order.Venue
	}
	if e.Response.OrderID != "" {
		t.byID[indexKey(e.Response.Venue, e.Response.OrderID)] = e
	}
	if e.Response.ClientOrderID != "" {
		t.byClient[indexKey(e.Response.Venue, e.Response.ClientOrderID)] = e
	}
}

// entries returns each tracked order once.
func (t *Tracker) entries() []*entry {
	seen := make(map[*entry]struct{}, len(t.byID)+len(t.byClient))
	out := make([]*entry, 0, len(t.byID))
	for _, m := range []map[string]*entry{t.byID, t.byClient} {
		for _, e := range m {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func (t *Tracker) changed(tr Tracked) {
	if t.onChange != nil {
		t.onChange(tr)
	}
}

func rank(s model.OrderStatus) int {
	switch s {
	case model.OrderPending, "":
		return 0
	case model.OrderConfirmed:
		return 1
	case model.OrderPartiallyFilled:
		return 2
	}
	return 3
}

func indexKey(venue model.Venue, id string) string {
	return string(venue) + "/" + id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
