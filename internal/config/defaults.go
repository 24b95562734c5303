package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID = "marketsync"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"

	DefaultKalshiRESTURL       = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultKalshiStreamURL     = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	DefaultKalshiMarketStatus  = "open"
	DefaultPolymarketRESTURL   = "https://clob.polymarket.com"
	DefaultPolymarketStreamURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultPolymarketPages     = 20

	DefaultRESTTimeout      = 10 * time.Second
	DefaultRESTMaxRetries   = 3
	DefaultRESTRetryBackoff = 500 * time.Millisecond
	DefaultRESTRateLimit    = 10
	DefaultRESTRateBurst    = 10

	DefaultReconnectMin       = 1 * time.Second
	DefaultReconnectMax       = 60 * time.Second
	DefaultReconnectFactor    = 2.0
	DefaultReconnectJitter    = 0.5
	DefaultStablePeriod       = 60 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultHeartbeatMaxMissed = 3

	DefaultQueueSize    = 256
	DefaultBatchSize    = 64
	DefaultMaxBuffered  = 10000
	DefaultFetchTimeout = 10 * time.Second
	DefaultFetchTries   = 5
	DefaultRetryInitial = 500 * time.Millisecond
	DefaultRetryMax     = 30 * time.Second

	DefaultPollInterval    = 5 * time.Second
	DefaultPollConcurrency = 8
	DefaultPollTimeout     = 10 * time.Second
	DefaultNotFoundGrace   = 2 * time.Minute
	DefaultOrderRetention  = 1 * time.Hour

	DefaultMarketsInterval    = 5 * time.Minute
	DefaultMarketsLoadTimeout = 2 * time.Minute

	DefaultTradeWindow = 500

	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultDBBatchSize     = 1000
	DefaultDBFlushInterval = 1 * time.Second
	DefaultDBBufferSize    = 10000

	DefaultNATSSubjectPrefix = "marketsync"
	DefaultNATSReconnectWait = 2 * time.Second

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Venue defaults
	k := &c.Venues.Kalshi
	if k.RESTURL == "" {
		k.RESTURL = DefaultKalshiRESTURL
	}
	if k.StreamURL == "" {
		k.StreamURL = DefaultKalshiStreamURL
	}
	if k.MarketStatus == "" {
		k.MarketStatus = DefaultKalshiMarketStatus
	}
	applyRESTDefaults(&k.REST)

	p := &c.Venues.Polymarket
	if p.RESTURL == "" {
		p.RESTURL = DefaultPolymarketRESTURL
	}
	if p.StreamURL == "" {
		p.StreamURL = DefaultPolymarketStreamURL
	}
	if p.MaxMarketPages == 0 {
		p.MaxMarketPages = DefaultPolymarketPages
	}
	applyRESTDefaults(&p.REST)

	// Session defaults
	s := &c.Session
	if s.ReconnectMin == 0 {
		s.ReconnectMin = DefaultReconnectMin
	}
	if s.ReconnectMax == 0 {
		s.ReconnectMax = DefaultReconnectMax
	}
	if s.ReconnectFactor == 0 {
		s.ReconnectFactor = DefaultReconnectFactor
	}
	if s.ReconnectJitter == 0 {
		s.ReconnectJitter = DefaultReconnectJitter
	}
	if s.StablePeriod == 0 {
		s.StablePeriod = DefaultStablePeriod
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.HeartbeatMaxMissed == 0 {
		s.HeartbeatMaxMissed = DefaultHeartbeatMaxMissed
	}

	// Reconcile defaults
	r := &c.Reconcile
	if r.QueueSize == 0 {
		r.QueueSize = DefaultQueueSize
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.MaxBuffered == 0 {
		r.MaxBuffered = DefaultMaxBuffered
	}
	if r.FetchTimeout == 0 {
		r.FetchTimeout = DefaultFetchTimeout
	}
	if r.FetchTries == 0 {
		r.FetchTries = DefaultFetchTries
	}
	if r.RetryInitial == 0 {
		r.RetryInitial = DefaultRetryInitial
	}
	if r.RetryMax == 0 {
		r.RetryMax = DefaultRetryMax
	}

	// Orders defaults
	o := &c.Orders
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollConcurrency == 0 {
		o.PollConcurrency = DefaultPollConcurrency
	}
	if o.PollTimeout == 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.NotFoundGrace == 0 {
		o.NotFoundGrace = DefaultNotFoundGrace
	}
	if o.Retention == 0 {
		o.Retention = DefaultOrderRetention
	}

	if c.Markets.ReconcileInterval == 0 {
		c.Markets.ReconcileInterval = DefaultMarketsInterval
	}
	if c.Markets.InitialLoadTimeout == 0 {
		c.Markets.InitialLoadTimeout = DefaultMarketsLoadTimeout
	}
	if c.Trades.Window == 0 {
		c.Trades.Window = DefaultTradeWindow
	}

	applyDBDefaults(&c.Database)

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = DefaultNATSReconnectWait
	}
	if c.NATS.Name == "" {
		c.NATS.Name = c.Instance.ID
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyRESTDefaults(r *RESTConfig) {
	if r.Timeout == 0 {
		r.Timeout = DefaultRESTTimeout
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultRESTMaxRetries
	}
	if r.RetryBackoff == 0 {
		r.RetryBackoff = DefaultRESTRetryBackoff
	}
	if r.RateLimit == 0 {
		r.RateLimit = DefaultRESTRateLimit
	}
	if r.RateBurst == 0 {
		r.RateBurst = DefaultRESTRateBurst
	}
}

func applyDBDefaults(db *DatabaseConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.BatchSize == 0 {
		db.BatchSize = DefaultDBBatchSize
	}
	if db.FlushInterval == 0 {
		db.FlushInterval = DefaultDBFlushInterval
	}
	if db.BufferSize == 0 {
		db.BufferSize = DefaultDBBufferSize
	}
}
