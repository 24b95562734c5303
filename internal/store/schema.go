package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		venue      TEXT        NOT NULL,
		trade_id   TEXT        NOT NULL,
		market     TEXT        NOT NULL,
		outcome    TEXT        NOT NULL,
		price      NUMERIC     NOT NULL,
		size       NUMERIC     NOT NULL,
		side       TEXT        NOT NULL,
		traded_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (venue, trade_id)
	)`,
	`CREATE INDEX IF NOT EXISTS trades_market_time ON trades (venue, market, traded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_updates (
		venue           TEXT        NOT NULL,
		order_id        TEXT        NOT NULL,
		client_order_id TEXT        NOT NULL DEFAULT '',
		market          TEXT        NOT NULL,
		outcome         TEXT        NOT NULL,
		side            TEXT        NOT NULL,
		status          TEXT        NOT NULL,
		filled_size     NUMERIC     NOT NULL,
		avg_price       NUMERIC     NOT NULL,
		source          TEXT        NOT NULL,
		updated_at      TIMESTAMPTZ,
		recorded_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (venue, order_id, status, filled_size)
	)`,
}

const insertTradeSQL = `
	INSERT INTO trades (venue, trade_id, market, outcome, price, size, side, traded_at)
	VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
	ON CONFLICT (venue, trade_id) DO NOTHING`

// Repeated polls that report the same status and fill collapse to one row.
const insertOrderSQL = `
	INSERT INTO order_updates (venue, order_id, client_order_id, market, outcome, side,
		status, filled_size, avg_price, source, updated_at, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12)
	ON CONFLICT (venue, order_id, status, filled_size) DO NOTHING`

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
