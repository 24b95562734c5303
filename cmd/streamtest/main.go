// streamtest connects the configured venues and prints reconciled books to
// the console. Database and NATS sinks are always disabled.
//
// Usage:
//
//	go run ./cmd/streamtest --config configs/marketsync.yaml \
//	    --book kalshi/KXBTC-25DEC31/yes --book polymarket/0xabc.../Yes
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/marketsync/internal/aggregator"
	"github.com/rickgao/marketsync/internal/app"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/model"
)

type bookFlags []model.BookKey

func (b *bookFlags) String() string { return fmt.Sprint(*b) }

func (b *bookFlags) Set(v string) error {
	parts := strings.SplitN(v, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return fmt.Errorf("book must be venue/market/outcome, got %q", v)
	}
	*b = append(*b, model.BookKey{Venue: model.Venue(parts[0]), Market: parts[1], Outcome: parts[2]})
	return nil
}

func main() {
	configPath := flag.String("config", "configs/marketsync.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full book JSON")
	var books bookFlags
	flag.Var(&books, "book", "book to print as venue/market/outcome (repeatable); defaults to config subscriptions")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Error("failed to load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg.Database.Enabled = false
	cfg.NATS.Enabled = false
	if len(books) == 0 {
		for _, s := range cfg.Subscriptions {
			books = append(books, model.BookKey{Venue: model.Venue(s.Venue), Market: s.Market, Outcome: s.Outcome})
		}
	}
	// The runtime would watch these too; printing subscribes on its own.
	cfg.Subscriptions = nil

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "err", err)
		os.Exit(1)
	}
	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start runtime", "err", err)
		os.Exit(1)
	}
	agg := rt.Aggregator()

	var wg sync.WaitGroup
	for _, key := range books {
		sub, err := agg.Subscribe(ctx, key)
		if err != nil {
			logger.Error("subscribe failed", "book", key, "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			printBooks(sub, *verbose)
		}()
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs := agg.RouterStats()
				logger.Info("stats",
					"health", rt.Health().Status,
					"events_received", rs.EventsReceived,
					"events_routed", rs.EventsRouted,
					"unrouted", rs.Unrouted,
					"resets", rs.Resets,
				)
				for _, st := range agg.BookStatuses(false) {
					logger.Info("book",
						"book", st.Key,
						"synced", st.Synced,
						"seq", st.Sequence,
						"gaps", st.Stats.Gaps,
						"resyncs", st.Stats.Resyncs,
						"trades", len(agg.RecentTrades(st.Key.Venue, st.Key.Market, 0)),
					)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "books", len(books))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Warn("close", "err", err)
	}
	wg.Wait()
	logger.Info("shutdown complete")
}

// printBooks runs until the subscription is closed by shutdown.
func printBooks(sub *aggregator.Subscription, verbose bool) {
	for book := range sub.C {
		if verbose {
			data, _ := json.MarshalIndent(book, "", "  ")
			fmt.Printf("[BOOK] %s\n", data)
			continue
		}

		bid, ask := "-", "-"
		if l, ok := book.BestBid(); ok {
			bid = l.Size.String() + "@" + l.Price.String()
		}
		if l, ok := book.BestAsk(); ok {
			ask = l.Size.String() + "@" + l.Price.String()
		}
		state := "live"
		if book.Stale {
			state = "STALE"
		}
		fmt.Printf("[BOOK] %s seq=%d bid=%s ask=%s levels=%d/%d %s\n",
			book.Key, book.Sequence, bid, ask, len(book.Bids), len(book.Asks), state)
	}
}
