// Package publish fans book, trade and order events out to NATS subjects.
//
// Subjects are <prefix>.book.<venue>.<market>.<outcome>,
// <prefix>.trade.<venue>.<market> and <prefix>.order.<venue>. Tokens are
// sanitized so market ids never introduce extra subject levels or
// wildcards. Payloads are JSON.
package publish

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/orders"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Config holds connection settings.
type Config struct {
	URL           string
	Name          string
	Token         string
	SubjectPrefix string
	ReconnectWait time.Duration
}

// Connect dials NATS. Reconnects are handled by the client; failed initial
// connects are retried in the background.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Stats are cumulative publish counters.
type Stats struct {
	Books  int64
	Trades int64
	Orders int64
	Errors int64
}

// Publisher implements the aggregator's book and trade sinks and an order
// change listener. Publish errors are counted and logged, never returned.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger

	books  atomic.Int64
	trades atomic.Int64
	orders atomic.Int64
	errs   atomic.Int64
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With("component", "publisher"),
	}
}

type levelMessage struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMessage struct {
	Venue      model.Venue    `json:"venue"`
	Market     string         `json:"market"`
	Outcome    string         `json:"outcome"`
	Sequence   int64          `json:"sequence"`
	Bids       []levelMessage `json:"bids"`
	Asks       []levelMessage `json:"asks"`
	Stale      bool           `json:"stale"`
	Resynced   bool           `json:"resynced"`
	LastUpdate time.Time      `json:"last_update"`
}

type orderMessage struct {
	model.OrderResponse
	Outcome string `json:"outcome"`
	Side    string `json:"side"`
	Source  string `json:"source"`
}

// PublishBook sends the full book.
func (p *Publisher) PublishBook(book *model.OrderBook, resynced bool) {
	msg := bookMessage{
		Venue:      book.Key.Venue,
		Market:     book.Key.Market,
		Outcome:    book.Key.Outcome,
		Sequence:   book.Sequence,
		Bids:       levels(book.Bids),
		Asks:       levels(book.Asks),
		Stale:      book.Stale,
		Resynced:   resynced,
		LastUpdate: book.LastUpdate,
	}
	subject := p.subject("book", string(book.Key.Venue), book.Key.Market, book.Key.Outcome)
	if p.send(subject, msg) {
		p.books.Add(1)
	}
}

// AddTrade sends one trade.
func (p *Publisher) AddTrade(t model.Trade) {
	subject := p.subject("trade", string(t.Venue), t.Market)
	if p.send(subject, t) {
		p.trades.Add(1)
	}
}

// RecordOrder sends an accepted order update.
func (p *Publisher) RecordOrder(tr orders.Tracked) {
	msg := orderMessage{
		OrderResponse: tr.Response,
		Outcome:       tr.Order.Outcome,
		Side:          string(tr.Order.Side),
		Source:        tr.Source.String(),
	}
	subject := p.subject("order", string(tr.Response.Venue))
	if p.send(subject, msg) {
		p.orders.Add(1)
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Books:  p.books.Load(),
		Trades: p.trades.Load(),
		Orders: p.orders.Load(),
		Errors: p.errs.Load(),
	}
}

func (p *Publisher) send(subject string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		p.errs.Add(1)
		p.logger.Error("marshal event", "subject", subject, "err", err)
		return false
	}
	if err := p.conn.Publish(subject, data); err != nil {
		// Log the first ten failures, then every thousandth.
		if n := p.errs.Add(1); n <= 10 || n%1000 == 0 {
			p.logger.Warn("publish failed", "subject", subject, "errors", n, "err", err)
		}
		return false
	}
	return true
}

func (p *Publisher) subject(kind string, tokens ...string) string {
	var b strings.Builder
	if p.prefix != "" {
		b.WriteString(p.prefix)
		b.WriteByte('.')
	}
	b.WriteString(kind)
	for _, tok := range tokens {
		b.WriteByte('.')
		b.WriteString(sanitize(tok))
	}
	return b.String()
}

// sanitize replaces characters that are special in NATS subjects.
func sanitize(token string) string {
	if token == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, token)
}

func levels(in []model.PriceLevel) []levelMessage {
	out := make([]levelMessage, len(in))
	for i, l := range in {
		out[i] = levelMessage{Price: l.Price.String(), Size: l.Size.String()}
	}
	return out
}
