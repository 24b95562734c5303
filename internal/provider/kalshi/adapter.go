// Package kalshi adapts the Kalshi trade API (REST v2 and websocket v2) to the
// unified model.
//
// Kalshi publishes two bid ladders per market (yes and no). The adapter
// exposes one book per outcome: the yes book's asks are the no bids mirrored
// to 1-p, and the no book mirrors the yes bids the same way. Every venue
// delta therefore produces one event per outcome book with the same
// sequence number.
package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

const (
	DefaultRESTURL   = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultStreamURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

	channelOrderbook = "orderbook_delta"
	channelTrade     = "trade"
	channelFill      = "fill"

	marketsPageSize = 1000
)

// Config holds Kalshi adapter settings.
type Config struct {
	RESTURL     string
	StreamURL   string
	Credentials *auth.KalshiCredentials

	Session connection.SessionConfig

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RateLimit      float64 // requests per second, 0 = unlimited
	RateBurst      int

	SnapshotDepth  int    // 0 = full book
	MarketStatus   string // listing filter, e.g. "open"
	SeriesTicker   string // optional listing filter
	MaxMarketPages int    // 0 = unlimited

	Trades      bool // subscribe to the public trade channel
	EventBuffer int
}

// DefaultConfig returns production endpoints and conservative limits.
func DefaultConfig() Config {
	return Config{
		RESTURL:        DefaultRESTURL,
		StreamURL:      DefaultStreamURL,
		Session:        connection.DefaultSessionConfig(),
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		RateLimit:      10,
		RateBurst:      10,
		MarketStatus:   "open",
		Trades:         true,
		EventBuffer:    4096,
	}
}

// Adapter is the Kalshi provider.Adapter.
type Adapter struct {
	cfg     Config
	signer  *auth.KalshiSigner
	rest    *api.Client
	session *connection.Session
	events  *buffer.Queue[model.DeltaEvent]
	seqs    *provider.Sequences
	logger  *slog.Logger
	now     func() time.Time

	snapshots singleflight.Group

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]string           // command id -> ticker
	sids     map[string][]int64         // ticker -> subscription ids
	outcomes map[string]map[string]bool // ticker -> subscribed outcomes
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter. Kalshi authenticates every websocket, so missing
// credentials disable the venue with auth.ErrAuthConfig.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.Credentials == nil || cfg.Credentials.PrivateKey == nil {
		return nil, fmt.Errorf("%w: kalshi requires api credentials", auth.ErrAuthConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}

	a := &Adapter{
		cfg:      cfg,
		signer:   auth.NewKalshiSigner(cfg.Credentials),
		events:   buffer.New[model.DeltaEvent](cfg.EventBuffer),
		seqs:     provider.NewSequences(),
		logger:   logger.With("venue", model.VenueKalshi),
		now:      time.Now,
		pending:  make(map[int64]string),
		sids:     make(map[string][]int64),
		outcomes: make(map[string]map[string]bool),
	}

	a.rest = api.NewClient(string(model.VenueKalshi), cfg.RESTURL, a.signer,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithRetries(cfg.MaxRetries, cfg.RetryBackoff),
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithLogger(a.logger),
	)

	sessCfg := cfg.Session
	sessCfg.Name = string(model.VenueKalshi)
	sessCfg.Client.URL = cfg.StreamURL
	sessCfg.Header = func(context.Context) (http.Header, error) {
		return a.signer.SignHandshake(a.now())
	}
	a.session = connection.NewSession(sessCfg, (*streamHandler)(a), logger)

	return a, nil
}

func (a *Adapter) Venue() model.Venue { return model.VenueKalshi }

func (a *Adapter) Capabilities() provider.Capability {
	return provider.CapStream | provider.CapSnapshot | provider.CapListMarkets |
		provider.CapPlaceOrder | provider.CapCancelOrder | provider.CapOrderStatus |
		provider.CapMarketOrders | provider.CapGTD | provider.CapOrderStream
}

func (a *Adapter) Start(ctx context.Context) error {
	return a.session.Start(ctx)
}

func (a *Adapter) Stop(ctx context.Context) error {
	err := a.session.Stop(ctx)
	a.events.Close()
	return err
}

func (a *Adapter) Events() *buffer.Queue[model.DeltaEvent] {
	return a.events
}

func (a *Adapter) SessionState() model.SessionState {
	return a.session.State()
}

// Session exposes the stream session for health reporting.
func (a *Adapter) Session() *connection.Session {
	return a.session
}

// Subscribe streams the market for key. Both outcome books share one
// venue subscription.
func (a *Adapter) Subscribe(_ context.Context, key model.BookKey) error {
	if err := checkKey(key); err != nil {
		return err
	}

	a.mu.Lock()
	set, ok := a.outcomes[key.Market]
	if !ok {
		set = make(map[string]bool)
		a.outcomes[key.Market] = set
	}
	set[key.Outcome] = true
	a.mu.Unlock()

	if ok {
		return nil
	}
	return a.session.Subscribe(key.Market)
}

func (a *Adapter) Unsubscribe(_ context.Context, key model.BookKey) error {
	a.mu.Lock()
	set, ok := a.outcomes[key.Market]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	delete(set, key.Outcome)
	last := len(set) == 0
	if last {
		delete(a.outcomes, key.Market)
	}
	a.mu.Unlock()

	if !last {
		return nil
	}
	return a.session.Unsubscribe(key.Market)
}

// FetchSnapshot fetches the REST book. Concurrent requests for the two
// outcome books of one market share a single call.
func (a *Adapter) FetchSnapshot(ctx context.Context, key model.BookKey) (model.Snapshot, error) {
	if err := checkKey(key); err != nil {
		return model.Snapshot{}, err
	}

	v, err, _ := a.snapshots.Do(key.Market, func() (any, error) {
		return a.fetchBooks(ctx, key.Market)
	})
	if err != nil {
		return model.Snapshot{}, err
	}

	books := v.(map[string]model.Snapshot)
	return books[key.Outcome], nil
}

func (a *Adapter) fetchBooks(ctx context.Context, ticker string) (map[string]model.Snapshot, error) {
	query := url.Values{}
	if a.cfg.SnapshotDepth > 0 {
		query.Set("depth", strconv.Itoa(a.cfg.SnapshotDepth))
	}

	var resp orderbookResponse
	if err := a.rest.Get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", query, &resp); err != nil {
		return nil, provider.SnapshotError(ticker, err)
	}

	ob := resp.Orderbook
	yes, err := parseLevels(ob.YesDollars, ob.Yes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", provider.ErrSnapshotUnavailable, ticker, err)
	}
	no, err := parseLevels(ob.NoDollars, ob.No)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", provider.ErrSnapshotUnavailable, ticker, err)
	}

	yesBids, yesAsks, noBids, noAsks := outcomeBooks(yes, no)
	now := a.now().UTC()
	yesKey := bookKey(ticker, OutcomeYes)
	noKey := bookKey(ticker, OutcomeNo)

	// REST books carry no sequence; stamp with what the stream has delivered.
	return map[string]model.Snapshot{
		OutcomeYes: {Key: yesKey, Bids: yesBids, Asks: yesAsks, Sequence: a.seqs.Last(yesKey), Time: now},
		OutcomeNo:  {Key: noKey, Bids: noBids, Asks: noAsks, Sequence: a.seqs.Last(noKey), Time: now},
	}, nil
}

// ListMarkets pages through GET /markets.
func (a *Adapter) ListMarkets(ctx context.Context) ([]model.Market, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(marketsPageSize))
	if a.cfg.MarketStatus != "" {
		query.Set("status", a.cfg.MarketStatus)
	}
	if a.cfg.SeriesTicker != "" {
		query.Set("series_ticker", a.cfg.SeriesTicker)
	}

	var markets []model.Market
	for page := 0; a.cfg.MaxMarketPages == 0 || page < a.cfg.MaxMarketPages; page++ {
		var resp marketsResponse
		if err := a.rest.Get(ctx, "/markets", query, &resp); err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		for i := range resp.Markets {
			markets = append(markets, resp.Markets[i].toModel())
		}
		if resp.Cursor == "" {
			break
		}
		query.Set("cursor", resp.Cursor)
	}
	return markets, nil
}

// Market fetches one market by ticker.
func (a *Adapter) Market(ctx context.Context, ticker string) (model.Market, error) {
	var resp singleMarketResponse
	if err := a.rest.Get(ctx, "/markets/"+url.PathEscape(ticker), nil, &resp); err != nil {
		if api.IsNotFound(err) {
			return model.Market{}, fmt.Errorf("%w: %s", provider.ErrMarketNotFound, ticker)
		}
		return model.Market{}, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return resp.Market.toModel(), nil
}

func bookKey(ticker, outcome string) model.BookKey {
	return model.BookKey{Venue: model.VenueKalshi, Market: ticker, Outcome: outcome}
}

func checkKey(key model.BookKey) error {
	if key.Venue != model.VenueKalshi {
		return fmt.Errorf("kalshi adapter got %s book", key.Venue)
	}
	if key.Outcome != OutcomeYes && key.Outcome != OutcomeNo {
		return fmt.Errorf("%w: %s has no outcome %q", provider.ErrMarketNotFound, key.Market, key.Outcome)
	}
	return nil
}
