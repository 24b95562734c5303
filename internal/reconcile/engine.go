// Package reconcile maintains one authoritative order book per BookKey by
// merging REST snapshots with streamed deltas.
//
// Each Engine is the single writer for its book: every event goes through
// its queue and is applied on one goroutine. Readers get copies of the last
// published state, which is always fully applied.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gammazero/deque"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

// SnapshotFetcher is the part of a provider.Adapter the engine needs.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, key model.BookKey) (model.Snapshot, error)
}

// NotifyFunc receives each newly published book. resynced is true when the
// book just left UNSYNCED. It runs on the engine goroutine and must not block.
type NotifyFunc func(book *model.OrderBook, resynced bool)

// Config holds engine settings.
type Config struct {
	QueueSize    int
	BatchSize    int           // max events applied per published state
	MaxBuffered  int           // deltas held while UNSYNCED; oldest dropped beyond
	FetchTimeout time.Duration // per snapshot request
	FetchTries   uint          // attempts per resync cycle before pausing
	RetryInitial time.Duration
	RetryMax     time.Duration // also the pause between failed cycles
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		BatchSize:    64,
		MaxBuffered:  10000,
		FetchTimeout: 10 * time.Second,
		FetchTries:   5,
		RetryInitial: 500 * time.Millisecond,
		RetryMax:     30 * time.Second,
	}
}

// Stats are cumulative engine counters.
type Stats struct {
	Applied     int64
	Duplicates  int64
	Gaps        int64
	Corruptions int64
	Resyncs     int64 // completed UNSYNCED -> synced transitions
	Fetches     int64 // snapshot fetch cycles started
	FetchErrors int64
	Buffered    int64 // deltas currently held while UNSYNCED
	Synced      bool
}

// item is one unit of engine input: a venue event or a fetch outcome.
type item struct {
	ev       model.DeltaEvent
	fetchErr error
	failed   bool
}

// Engine reconciles one book.
type Engine struct {
	key     model.BookKey
	cfg     Config
	fetcher SnapshotFetcher
	notify  NotifyFunc
	logger  *slog.Logger

	queue     *buffer.Queue[item]
	published atomic.Pointer[model.OrderBook]
	synced    atomic.Bool
	lastErr   atomic.Pointer[error]

	// Owned by the run goroutine.
	cur      *model.OrderBook
	pending  deque.Deque[model.DeltaEvent]
	fetching bool
	gen      uint64

	applied, duplicates, gaps, corruptions atomic.Int64
	resyncs, fetches, fetchErrors, held    atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	done    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotify sets the publish callback.
func WithNotify(fn NotifyFunc) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine in UNSYNCED. It publishes an empty stale book
// until the first snapshot lands.
func NewEngine(key model.BookKey, fetcher SnapshotFetcher, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FetchTries == 0 {
		cfg.FetchTries = 1
	}
	e := &Engine{
		key:     key,
		cfg:     cfg,
		fetcher: fetcher,
		logger:  slog.Default(),
		queue:   buffer.New[item](cfg.QueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("book", key.String())

	e.cur = &model.OrderBook{Key: key, Stale: true}
	e.published.Store(e.cur)
	return e
}

// Key returns the book this engine owns.
func (e *Engine) Key() model.BookKey { return e.key }

// Start launches the writer goroutine and the initial snapshot fetch.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.run()
}

// Stop closes the queue, cancels fetches and waits for the writer to exit.
func (e *Engine) Stop() {
	e.queue.Close()
	if !e.started.Load() {
		return
	}
	e.cancel()
	<-e.done
	e.wg.Wait()
}

// Submit queues a venue event. It never blocks and returns false after Stop.
func (e *Engine) Submit(ev model.DeltaEvent) bool {
	return e.queue.Push(item{ev: ev})
}

// Book returns a copy of the last published book. Stale is set while the
// engine is resyncing.
func (e *Engine) Book() *model.OrderBook {
	return e.published.Load().Clone()
}

// Synced reports whether the book is tracking the stream.
func (e *Engine) Synced() bool {
	return e.synced.Load()
}

// Err returns the last fetch failure that stopped resync attempts, such as
// a market that no longer exists.
func (e *Engine) Err() error {
	if p := e.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Applied:     e.applied.Load(),
		Duplicates:  e.duplicates.Load(),
		Gaps:        e.gaps.Load(),
		Corruptions: e.corruptions.Load(),
		Resyncs:     e.resyncs.Load(),
		Fetches:     e.fetches.Load(),
		FetchErrors: e.fetchErrors.Load(),
		Buffered:    e.held.Load(),
		Synced:      e.synced.Load(),
	}
}

func (e *Engine) run() {
	defer close(e.done)

	e.startFetch(0)

	for {
		batch := e.queue.PopBatch(e.cfg.BatchSize)
		if batch == nil {
			return
		}

		changed, resynced := false, false
		for _, it := range batch {
			c, r := e.handle(it)
			changed = changed || c
			resynced = resynced || r
		}
		e.held.Store(int64(e.pending.Len()))

		if changed {
			e.publish(resynced)
		}
	}
}

// handle applies one input. It reports whether the book changed and
// whether it just became synced.
func (e *Engine) handle(it item) (changed, resynced bool) {
	if it.failed {
		e.onFetchFailed(it.ev.Gen, it.fetchErr)
		return false, false
	}

	ev := it.ev
	switch ev.Kind {
	case model.EventReset:
		e.logger.Debug("stream reset, resyncing")
		wasSynced := e.synced.Load()
		e.invalidate()
		e.pending.Clear()
		// A fresh connection always refetches, even if one is in flight
		// for the old connection.
		e.fetching = false
		e.startFetch(0)
		return wasSynced, false

	case model.EventSnapshot:
		return e.onSnapshot(ev)

	case model.EventDelta:
		return e.onDelta(ev)
	}
	return false, false
}

func (e *Engine) onSnapshot(ev model.DeltaEvent) (changed, resynced bool) {
	if ev.Source == model.SourceREST {
		if ev.Gen != e.gen {
			return false, false
		}
		e.fetching = false
		if e.synced.Load() && ev.Sequence <= e.cur.Sequence {
			return false, false
		}
	} else {
		// Supersedes any REST fetch in flight.
		e.gen++
		e.fetching = false
	}

	book, err := BuildBook(e.key, ev.Bids, ev.Asks, ev.Sequence, ev.ReceivedAt)
	if err != nil {
		e.corruptions.Add(1)
		e.logger.Warn("discarding corrupt snapshot", "seq", ev.Sequence, "error", err)
		wasSynced := e.synced.Load()
		e.invalidate()
		e.startFetch(e.cfg.RetryInitial)
		return wasSynced, false
	}

	wasSynced := e.synced.Load()
	e.cur = book
	e.synced.Store(true)
	e.lastErr.Store(nil)
	e.drainPending()

	synced := e.synced.Load()
	if !wasSynced && synced {
		e.resyncs.Add(1)
		e.logger.Info("book synced", "seq", e.cur.Sequence, "source", sourceName(ev.Source))
	}
	return true, !wasSynced && synced
}

func (e *Engine) onDelta(ev model.DeltaEvent) (changed, resynced bool) {
	if !e.synced.Load() {
		e.buffer(ev)
		return false, false
	}

	cur := e.cur.Sequence
	switch {
	case ev.Sequence <= cur:
		e.duplicates.Add(1)
		return false, false

	case ev.Sequence > cur+1:
		e.gaps.Add(1)
		e.logger.Warn("resyncing", "error", gapError(ev.Sequence, cur))
		e.invalidate()
		e.buffer(ev)
		e.startFetch(0)
		return true, false
	}

	book, err := ApplyDelta(e.cur, ev.Changes, ev.Sequence, ev.ReceivedAt)
	if err != nil {
		e.corruptions.Add(1)
		e.logger.Warn("discarding corrupt delta, resyncing", "seq", ev.Sequence, "error", err)
		e.invalidate()
		e.startFetch(0)
		return true, false
	}
	e.cur = book
	e.applied.Add(1)
	return true, false
}

// drainPending applies buffered deltas newer than the current book in
// sequence order. A gap or corruption while draining starts another resync
// and keeps the unapplied deltas buffered.
func (e *Engine) drainPending() {
	if e.pending.Len() == 0 {
		return
	}

	buffered := make([]model.DeltaEvent, 0, e.pending.Len())
	for e.pending.Len() > 0 {
		buffered = append(buffered, e.pending.PopFront())
	}
	sort.SliceStable(buffered, func(i, j int) bool { return buffered[i].Sequence < buffered[j].Sequence })

	for i, ev := range buffered {
		if ev.Sequence <= e.cur.Sequence {
			e.duplicates.Add(1)
			continue
		}
		if ev.Sequence > e.cur.Sequence+1 {
			e.gaps.Add(1)
			e.logger.Warn("resyncing after snapshot", "error", gapError(ev.Sequence, e.cur.Sequence))
			e.invalidate()
			for _, rest := range buffered[i:] {
				e.pending.PushBack(rest)
			}
			e.startFetch(0)
			return
		}

		book, err := ApplyDelta(e.cur, ev.Changes, ev.Sequence, ev.ReceivedAt)
		if err != nil {
			e.corruptions.Add(1)
			e.logger.Warn("corrupt buffered delta, resyncing", "seq", ev.Sequence, "error", err)
			e.invalidate()
			for _, rest := range buffered[i+1:] {
				e.pending.PushBack(rest)
			}
			e.startFetch(0)
			return
		}
		e.cur = book
		e.applied.Add(1)
	}
}

func (e *Engine) buffer(ev model.DeltaEvent) {
	e.pending.PushBack(ev)
	if limit := e.cfg.MaxBuffered; limit > 0 && e.pending.Len() > limit {
		e.pending.PopFront()
	}
}

// invalidate marks the book UNSYNCED. The last consistent levels stay
// published with Stale set.
func (e *Engine) invalidate() {
	e.synced.Store(false)
	if !e.cur.Stale {
		stale := *e.cur
		stale.Stale = true
		e.cur = &stale
	}
}

func (e *Engine) publish(resynced bool) {
	e.published.Store(e.cur)
	if e.notify != nil {
		e.notify(e.cur.Clone(), resynced)
	}
}

// startFetch begins one snapshot fetch cycle unless one is already running.
// The result comes back through the queue tagged with the cycle's generation.
func (e *Engine) startFetch(delay time.Duration) {
	if e.fetching {
		return
	}
	e.fetching = true
	e.gen++
	gen := e.gen
	e.fetches.Add(1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fetch(gen, delay)
	}()
}

func (e *Engine) fetch(gen uint64, delay time.Duration) {
	ctx := e.ctx

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInitial
	b.MaxInterval = e.cfg.RetryMax

	snap, err := backoff.Retry(ctx, func() (model.Snapshot, error) {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()

		snap, err := e.fetcher.FetchSnapshot(fctx, e.key)
		if err != nil && !retryable(err) {
			return snap, backoff.Permanent(err)
		}
		return snap, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.cfg.FetchTries))

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.queue.Push(item{ev: model.DeltaEvent{Gen: gen}, fetchErr: err, failed: true})
		return
	}

	e.queue.Push(item{ev: model.DeltaEvent{
		Kind:       model.EventSnapshot,
		Key:        e.key,
		Sequence:   snap.Sequence,
		Bids:       snap.Bids,
		Asks:       snap.Asks,
		Source:     model.SourceREST,
		Gen:        gen,
		ReceivedAt: snapTime(snap),
	}})
}

func (e *Engine) onFetchFailed(gen uint64, err error) {
	if gen != e.gen {
		return
	}
	e.fetching = false
	e.fetchErrors.Add(1)

	if e.synced.Load() {
		return
	}
	if !retryable(err) {
		e.lastErr.Store(&err)
		e.logger.Error("snapshot fetch failed permanently, book stays stale", "error", err)
		return
	}
	e.logger.Warn("snapshot fetch failed, retrying", "error", err, "pause", e.cfg.RetryMax)
	e.startFetch(e.cfg.RetryMax)
}

func gapError(got, cur int64) error {
	return fmt.Errorf("%w: got %d, expected %d", ErrGapDetected, got, cur+1)
}

// retryable reports whether a fetch error can heal by retrying.
func retryable(err error) bool {
	var keyErr *auth.InvalidKeyFormatError
	switch {
	case errors.Is(err, provider.ErrMarketNotFound),
		errors.Is(err, auth.ErrAuthConfig),
		errors.As(err, &keyErr):
		return false
	}
	return true
}

func snapTime(s model.Snapshot) time.Time {
	if s.Time.IsZero() {
		return time.Now().UTC()
	}
	return s.Time
}

func sourceName(s model.SnapshotSource) string {
	if s == model.SourceREST {
		return "rest"
	}
	return "stream"
}
