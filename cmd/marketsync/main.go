package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/app"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketsync.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("marketsync failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting marketsync", append(version.Attrs(), "config", configPath, "instance_id", cfg.Instance.ID)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := rt.Start(ctx); err != nil {
		shutdown(rt, server, logger)
		return fmt.Errorf("start runtime: %w", err)
	}

	logger.Info("marketsync running",
		"venues", rt.Aggregator().Venues(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdown(rt, server, logger)
	logger.Info("marketsync stopped")
	return nil
}

func shutdown(rt *app.Runtime, server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rt.Close(ctx); err != nil {
		logger.Error("runtime close", "err", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
