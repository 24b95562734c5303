// Package config loads the daemon configuration from YAML.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing. An optional .env file is loaded first so local runs can keep
// venue credentials out of the YAML. Missing credentials are not a config
// error: the runtime disables or downgrades that venue instead.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Instance      InstanceConfig       `yaml:"instance"`
	Log           LogConfig            `yaml:"log"`
	Venues        VenuesConfig         `yaml:"venues"`
	Session       SessionConfig        `yaml:"session"`
	Reconcile     ReconcileConfig      `yaml:"reconcile"`
	Orders        OrdersConfig         `yaml:"orders"`
	Markets       MarketsConfig        `yaml:"markets"`
	Trades        TradesConfig         `yaml:"trades"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Database      DatabaseConfig       `yaml:"database"`
	NATS          NATSConfig           `yaml:"nats"`
	Metrics       MetricsConfig        `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog.Level. Unknown values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VenuesConfig holds one section per supported venue.
type VenuesConfig struct {
	Kalshi     KalshiConfig     `yaml:"kalshi"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
}

// RESTConfig holds the shared REST client knobs.
type RESTConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
	RateBurst    int           `yaml:"rate_burst"`
}

// KalshiConfig configures the Kalshi adapter.
type KalshiConfig struct {
	Enabled        bool       `yaml:"enabled"`
	RESTURL        string     `yaml:"rest_url"`
	StreamURL      string     `yaml:"stream_url"`
	APIKeyID       string     `yaml:"api_key_id"`
	PrivateKeyPath string     `yaml:"private_key_path"`
	REST           RESTConfig `yaml:"rest"`

	SnapshotDepth  int    `yaml:"snapshot_depth"`
	MarketStatus   string `yaml:"market_status"`
	SeriesTicker   string `yaml:"series_ticker"`
	MaxMarketPages int    `yaml:"max_market_pages"`
	DisableTrades  bool   `yaml:"disable_trades"`
}

// PolymarketConfig configures the Polymarket adapter. Credentials are
// optional; without them the adapter only serves public data.
type PolymarketConfig struct {
	Enabled    bool       `yaml:"enabled"`
	RESTURL    string     `yaml:"rest_url"`
	StreamURL  string     `yaml:"stream_url"`
	Address    string     `yaml:"address"`
	APIKey     string     `yaml:"api_key"`
	APISecret  string     `yaml:"api_secret"`
	Passphrase string     `yaml:"passphrase"`
	REST       RESTConfig `yaml:"rest"`

	MaxMarketPages int `yaml:"max_market_pages"`
}

// HasCredentials reports whether any credential field is set.
func (p PolymarketConfig) HasCredentials() bool {
	return p.Address != "" || p.APIKey != "" || p.APISecret != "" || p.Passphrase != ""
}

// SessionConfig tunes every venue's transport session.
type SessionConfig struct {
	ReconnectMin       time.Duration `yaml:"reconnect_min"`
	ReconnectMax       time.Duration `yaml:"reconnect_max"`
	ReconnectFactor    float64       `yaml:"reconnect_factor"`
	ReconnectJitter    float64       `yaml:"reconnect_jitter"`
	StablePeriod       time.Duration `yaml:"stable_period"`
	MaxRetries         int           `yaml:"max_retries"` // 0 = retry forever
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMaxMissed int           `yaml:"heartbeat_max_missed"`
}

// ReconcileConfig tunes the per-book reconciliation engines.
type ReconcileConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	BatchSize    int           `yaml:"batch_size"`
	MaxBuffered  int           `yaml:"max_buffered"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchTries   uint          `yaml:"fetch_tries"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// OrdersConfig tunes the order status poller.
type OrdersConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollConcurrency int           `yaml:"poll_concurrency"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	NotFoundGrace   time.Duration `yaml:"not_found_grace"`
	Retention       time.Duration `yaml:"retention"`
}

// MarketsConfig tunes market discovery.
type MarketsConfig struct {
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	InitialLoadTimeout time.Duration `yaml:"initial_load_timeout"`
}

// TradesConfig sizes the in-memory recent trades window.
type TradesConfig struct {
	Window int `yaml:"window"` // trades kept per market
}

// SubscriptionConfig is a book watched from startup.
type SubscriptionConfig struct {
	Venue   string `yaml:"venue"`
	Market  string `yaml:"market"`
	Outcome string `yaml:"outcome"`
}

// DatabaseConfig configures the optional trade archive.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	CreateSchema  bool          `yaml:"create_schema"`
}

// NATSConfig configures the optional event publisher.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Token         string        `yaml:"token"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// MetricsConfig configures the operational HTTP server.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
