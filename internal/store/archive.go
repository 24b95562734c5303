// Package store archives trades and order updates to PostgreSQL.
//
// Writes are batched: producers enqueue without blocking and a single
// consumer flushes when a batch fills or the flush interval elapses. Rows are
// inserted with ON CONFLICT DO NOTHING, so replays after a reconnect are
// counted as conflicts rather than failures.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
)

// ErrClosed is returned by Start after Stop.
var ErrClosed = errors.New("archive closed")

// DB is the subset of pgxpool.Pool the archive uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int           // initial queue capacity
	WriteTimeout  time.Duration // per flush
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
		WriteTimeout:  10 * time.Second,
	}
}

// Stats are cumulative write counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64 // rows offered after Stop
	Pending   int
}

// record is one queued row. Exactly one field is set.
type record struct {
	trade *model.Trade
	order *orderRow
}

type orderRow struct {
	resp       model.OrderResponse
	outcome    string
	side       model.OrderSide
	source     string
	recordedAt time.Time
}

// Archive batches rows into the trades and order_updates tables.
type Archive struct {
	cfg    Config
	db     DB
	input  *buffer.Queue[record]
	logger *slog.Logger

	batchMu sync.Mutex
	batch   []record
	stats   Stats

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewArchive creates an archive writing through db.
func NewArchive(cfg Config, db DB, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Archive{
		cfg:    cfg,
		db:     db,
		input:  buffer.New[record](cfg.BufferSize),
		logger: logger.With("component", "archive"),
		batch:  make([]record, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}
}

// AddTrade enqueues a trade. It never blocks.
func (a *Archive) AddTrade(t model.Trade) {
	if !a.input.Push(record{trade: &t}) {
		a.countDropped()
	}
}

// RecordOrder enqueues an order update. Its signature matches
// orders.ChangeFunc.
func (a *Archive) RecordOrder(tr orders.Tracked) {
	row := &orderRow{
		resp:       tr.Response,
		outcome:    tr.Order.Outcome,
		side:       tr.Order.Side,
		source:     tr.Source.String(),
		recordedAt: time.Now(),
	}
	if !a.input.Push(record{order: row}) {
		a.countDropped()
	}
}

// Start launches the consumer and flush ticker.
func (a *Archive) Start(ctx context.Context) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}

	a.wg.Add(2)
	go a.consumeLoop()
	go a.flushLoop(ctx)

	a.logger.Info("archive started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued rows, writes a final batch and waits for the loops.
func (a *Archive) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.input.Close()
		close(a.done)
	})

	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		a.logger.Warn("archive stop timed out")
		return ctx.Err()
	}

	// Final flush
	a.flush()
	a.logger.Info("archive stopped", "inserts", a.Stats().Inserts)
	return nil
}

// Stats returns current counters.
func (a *Archive) Stats() Stats {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	s := a.stats
	s.Pending = len(a.batch) + a.input.Len()
	return s
}

func (a *Archive) countDropped() {
	a.batchMu.Lock()
	a.stats.Dropped++
	a.batchMu.Unlock()
}

func (a *Archive) consumeLoop() {
	defer a.wg.Done()

	for {
		items := a.input.PopBatch(a.cfg.BatchSize)
		if items == nil {
			return
		}

		a.batchMu.Lock()
		a.batch = append(a.batch, items...)
		full := len(a.batch) >= a.cfg.BatchSize
		a.batchMu.Unlock()

		if full {
			a.flush()
		}
	}
}

func (a *Archive) flushLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush writes the current batch. A failed batch is dropped and counted.
func (a *Archive) flush() {
	a.batchMu.Lock()
	if len(a.batch) == 0 {
		a.batchMu.Unlock()
		return
	}
	batch := a.batch
	a.batch = make([]record, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	conflicts, err := a.batchInsert(ctx, batch)
	if err != nil {
		a.logger.Error("batch insert failed", "err", err, "count", len(batch))
		a.batchMu.Lock()
		a.stats.Errors++
		a.batchMu.Unlock()
		return
	}

	a.batchMu.Lock()
	a.stats.Inserts += int64(len(batch) - conflicts)
	a.stats.Conflicts += int64(conflicts)
	a.stats.Flushes++
	a.batchMu.Unlock()

	a.logger.Debug("flushed archive batch",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (a *Archive) batchInsert(ctx context.Context, rows []record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		switch {
		case r.trade != nil:
			queueTrade(batch, r.trade)
		case r.order != nil:
			queueOrder(batch, r.order)
		}
	}

	results := a.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func queueTrade(b *pgx.Batch, t *model.Trade) {
	b.Queue(insertTradeSQL,
		string(t.Venue), t.TradeID, t.Market, t.Outcome,
		t.Price.String(), t.Size.String(), string(t.Side), t.Timestamp,
	)
}

func queueOrder(b *pgx.Batch, o *orderRow) {
	b.Queue(insertOrderSQL,
		string(o.resp.Venue), o.resp.OrderID, o.resp.ClientOrderID, o.resp.Market, o.outcome,
		string(o.side), string(o.resp.Status), o.resp.FilledSize.String(), o.resp.AvgPrice.String(),
		o.source, o.resp.UpdatedAt, o.recordedAt,
	)
}
