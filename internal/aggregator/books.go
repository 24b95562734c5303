package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/reconcile"
	"github.com/rickgao/marketsync/internal/router"
)

// bookEntry is one watched book. refs counts Watch calls plus open
// subscriptions. ready is closed once the venue subscribe finished; err is
// its result and is only read after ready.
type bookEntry struct {
	engine *reconcile.Engine
	refs   int
	ready  chan struct{}
	err    error

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func (b *bookEntry) deliver(book *model.OrderBook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.offer(book)
	}
}

func (b *bookEntry) closeSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Subscription delivers a book each time its engine publishes one. Only the
// latest undelivered book is kept: a slow reader skips intermediate states
// but always receives the newest.
type Subscription struct {
	Key model.BookKey
	C   <-chan *model.OrderBook

	ch    chan *model.OrderBook
	agg   *Aggregator
	entry *bookEntry
	once  sync.Once
}

func (s *Subscription) offer(book *model.OrderBook) {
	select {
	case s.ch <- book:
		return
	default:
	}
	// Replace the undelivered older book.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- book:
	default:
	}
}

// Close ends the subscription and releases its book. C is closed.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.entry.mu.Lock()
		_, open := s.entry.subs[s]
		if open {
			delete(s.entry.subs, s)
			close(s.ch)
		}
		s.entry.mu.Unlock()

		if open {
			err = s.agg.release(context.Background(), s.Key)
		}
	})
	return err
}

// Watch starts reconciling key: an engine is created and the venue
// stream subscribed. Watching an already watched book adds a reference.
func (a *Aggregator) Watch(ctx context.Context, key model.BookKey) error {
	_, err := a.acquire(ctx, key)
	return err
}

// Unwatch drops one reference to key. The last reference unsubscribes the
// venue stream and stops the engine.
func (a *Aggregator) Unwatch(ctx context.Context, key model.BookKey) error {
	return a.release(ctx, key)
}

// GetBook returns a copy of the latest consistent book. Stale is set while
// the book is resyncing.
func (a *Aggregator) GetBook(key model.BookKey) (*model.OrderBook, error) {
	a.mu.RLock()
	b, ok := a.books[key]
	a.mu.RUnlock()
	if !ok {
		if _, err := a.Adapter(key.Venue); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, key)
	}
	return b.engine.Book(), nil
}

// Subscribe watches key and returns a subscription that first carries the
// current book and then every newly published one.
func (a *Aggregator) Subscribe(ctx context.Context, key model.BookKey) (*Subscription, error) {
	b, err := a.acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	ch := make(chan *model.OrderBook, 1)
	s := &Subscription{Key: key, C: ch, ch: ch, agg: a, entry: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	s.offer(b.engine.Book())
	b.mu.Unlock()
	return s, nil
}

// BookStatus summarizes one watched book for health and debug output.
type BookStatus struct {
	Key      model.BookKey    `json:"key"`
	Synced   bool             `json:"synced"`
	Sequence int64            `json:"sequence"`
	Levels   [2]int           `json:"levels"` // bids, asks
	Error    string           `json:"error,omitempty"`
	Stats    reconcile.Stats  `json:"stats"`
	Book     *model.OrderBook `json:"book,omitempty"`
}

// BookStatuses reports every watched book, ordered by key. With
// includeBooks the full book copies are attached.
func (a *Aggregator) BookStatuses(includeBooks bool) []BookStatus {
	a.mu.RLock()
	entries := make([]*bookEntry, 0, len(a.books))
	for _, b := range a.books {
		entries = append(entries, b)
	}
	a.mu.RUnlock()

	out := make([]BookStatus, 0, len(entries))
	for _, b := range entries {
		book := b.engine.Book()
		st := BookStatus{
			Key:      b.engine.Key(),
			Synced:   b.engine.Synced(),
			Sequence: book.Sequence,
			Levels:   [2]int{len(book.Bids), len(book.Asks)},
			Stats:    b.engine.Stats(),
		}
		if err := b.engine.Err(); err != nil {
			st.Error = err.Error()
		}
		if includeBooks {
			st.Book = book
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Book implements router.Books.
func (a *Aggregator) Book(key model.BookKey) (router.BookTarget, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.books[key]
	if !ok {
		return nil, false
	}
	return b.engine, true
}

// VenueBooks implements router.Books.
func (a *Aggregator) VenueBooks(venue model.Venue) []router.BookTarget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []router.BookTarget
	for key, b := range a.books {
		if key.Venue == venue {
			out = append(out, b.engine)
		}
	}
	return out
}

func (a *Aggregator) acquire(ctx context.Context, key model.BookKey) (*bookEntry, error) {
	ad, err := a.Adapter(key.Venue)
	if err != nil {
		return nil, err
	}
	if err := provider.Require(key.Venue, ad.Capabilities(), provider.CapStream|provider.CapSnapshot); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return nil, ErrStopped
	}
	if b, ok := a.books[key]; ok {
		b.refs++
		a.mu.Unlock()
		return a.awaitReady(ctx, key, b)
	}

	b := &bookEntry{refs: 1, ready: make(chan struct{}), subs: make(map[*Subscription]struct{})}
	b.engine = reconcile.NewEngine(key, ad, a.cfg.Engine,
		reconcile.WithLogger(a.logger.With("component", "reconcile")),
		reconcile.WithNotify(func(book *model.OrderBook, resynced bool) {
			b.deliver(book)
			for _, sink := range a.bookSinks {
				sink.PublishBook(book, resynced)
			}
		}),
	)
	a.books[key] = b
	b.engine.Start(a.ctx)
	a.mu.Unlock()

	// The engine exists before the stream subscribes so no event is unrouted.
	if err := ad.Subscribe(ctx, key); err != nil {
		b.err = fmt.Errorf("subscribe %s: %w", key, err)
		a.mu.Lock()
		if a.books[key] == b {
			delete(a.books, key)
		}
		a.mu.Unlock()
		close(b.ready)
		b.engine.Stop()
		b.closeSubscriptions()
		return nil, b.err
	}
	close(b.ready)
	a.logger.Info("watching book", "book", key.String())
	return b, nil
}

// awaitReady blocks a second acquirer until the first one's venue subscribe
// has finished, so both see the same outcome.
func (a *Aggregator) awaitReady(ctx context.Context, key model.BookKey, b *bookEntry) (*bookEntry, error) {
	select {
	case <-b.ready:
	case <-ctx.Done():
		a.drop(context.Background(), key, b)
		return nil, ctx.Err()
	}
	if b.err != nil {
		// The failed entry is already gone, along with this reference.
		return nil, b.err
	}
	return b, nil
}

func (a *Aggregator) release(ctx context.Context, key model.BookKey) error {
	return a.drop(ctx, key, nil)
}

// drop removes one reference from the entry for key. When only is set, the
// reference is dropped only if key still maps to that entry.
func (a *Aggregator) drop(ctx context.Context, key model.BookKey, only *bookEntry) error {
	a.mu.Lock()
	b, ok := a.books[key]
	if !ok || (only != nil && b != only) {
		a.mu.Unlock()
		return nil
	}
	b.refs--
	if b.refs > 0 {
		a.mu.Unlock()
		return nil
	}
	delete(a.books, key)
	a.mu.Unlock()

	ad, err := a.Adapter(key.Venue)
	if err == nil {
		err = ad.Unsubscribe(ctx, key)
	}
	// Stop outside a.mu: the engine's notify path reads subscriptions.
	b.engine.Stop()
	b.closeSubscriptions()
	a.logger.Info("stopped watching book", "book", key.String())
	return err
}
