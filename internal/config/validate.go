package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// Venue credentials are not checked here.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if !c.Venues.Kalshi.Enabled && !c.Venues.Polymarket.Enabled {
		return errors.New("at least one venue must be enabled")
	}

	if c.Session.ReconnectMin <= 0 {
		return errors.New("session.reconnect_min must be > 0")
	}
	if c.Session.ReconnectMax < c.Session.ReconnectMin {
		return fmt.Errorf("session.reconnect_max (%v) cannot be below reconnect_min (%v)",
			c.Session.ReconnectMax, c.Session.ReconnectMin)
	}
	if c.Session.ReconnectFactor < 1 {
		return errors.New("session.reconnect_factor must be >= 1")
	}

	if c.Reconcile.BatchSize < 1 {
		return errors.New("reconcile.batch_size must be >= 1")
	}
	if c.Reconcile.MaxBuffered < 1 {
		return errors.New("reconcile.max_buffered must be >= 1")
	}
	if c.Reconcile.FetchTries < 1 {
		return errors.New("reconcile.fetch_tries must be >= 1")
	}

	if c.Orders.PollConcurrency < 1 {
		return errors.New("orders.poll_concurrency must be >= 1")
	}
	if c.Trades.Window < 1 {
		return errors.New("trades.window must be >= 1")
	}

	for i, sub := range c.Subscriptions {
		if err := c.validateSubscription(sub); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (c *Config) validateSubscription(sub SubscriptionConfig) error {
	switch sub.Venue {
	case "kalshi":
		if !c.Venues.Kalshi.Enabled {
			return errors.New("venue kalshi is not enabled")
		}
	case "polymarket":
		if !c.Venues.Polymarket.Enabled {
			return errors.New("venue polymarket is not enabled")
		}
	case "":
		return errors.New("venue is required")
	default:
		return fmt.Errorf("unknown venue %q", sub.Venue)
	}
	if sub.Market == "" {
		return errors.New("market is required")
	}
	if sub.Outcome == "" {
		return errors.New("outcome is required")
	}
	return nil
}

func (db *DatabaseConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	if db.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	return nil
}
