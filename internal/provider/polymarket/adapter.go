// Package polymarket adapts the Polymarket CLOB (REST and the websocket
// market channel) to the unified model.
//
// Books are keyed by condition id and outcome label; the adapter resolves
// each outcome to its CLOB token id, which is what the venue streams and
// quotes. The market channel has no sequence numbers, so the decoder
// numbers events per token in arrival order.
package polymarket

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
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
	DefaultRESTURL   = "https://clob.polymarket.com"
	DefaultStreamURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// endCursor marks the last page of a paginated listing.
	endCursor = "LTE="
)

var (
	pingFrame = []byte("PING")
	pongFrame = []byte("PONG")
)

// Config holds Polymarket adapter settings.
type Config struct {
	RESTURL   string
	StreamURL string

	// Credentials enable private endpoints. Nil runs the adapter public-only.
	Credentials *auth.PolymarketCredentials

	// OrderSigner produces signed order payloads. Nil disables PlaceOrder.
	OrderSigner OrderSigner

	Session connection.SessionConfig

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RateLimit      float64
	RateBurst      int

	MaxMarketPages int // 0 = unlimited
	EventBuffer    int
}

// DefaultConfig returns production endpoints with the venue's PING/PONG heartbeat.
func DefaultConfig() Config {
	sess := connection.DefaultSessionConfig()
	sess.Client.Heartbeat = connection.HeartbeatConfig{
		Interval:  10 * time.Second,
		MaxMissed: 3,
		Ping:      pingFrame,
		IsPong:    func(b []byte) bool { return bytes.Equal(bytes.TrimSpace(b), pongFrame) },
	}
	return Config{
		RESTURL:        DefaultRESTURL,
		StreamURL:      DefaultStreamURL,
		Session:        sess,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		RateLimit:      10,
		RateBurst:      10,
		MaxMarketPages: 20,
		EventBuffer:    4096,
	}
}

// Adapter is the Polymarket provider.Adapter.
type Adapter struct {
	cfg     Config
	rest    *api.Client
	session *connection.Session
	events  *buffer.Queue[model.DeltaEvent]
	seqs    *provider.Sequences
	logger  *slog.Logger
	now     func() time.Time

	snapshots singleflight.Group
	markets   singleflight.Group

	mu       sync.RWMutex
	tokens   map[model.BookKey]string // book -> token id
	keys     map[string]model.BookKey // token id -> book
	streamed bool                     // initial subscribe sent on this socket
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter. It never fails for missing credentials; the
// private capabilities are simply absent.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}

	var signer auth.Signer = auth.NopSigner{}
	if cfg.Credentials != nil {
		signer = auth.NewPolymarketSigner(cfg.Credentials)
	}

	a := &Adapter{
		cfg:    cfg,
		events: buffer.New[model.DeltaEvent](cfg.EventBuffer),
		seqs:   provider.NewSequences(),
		logger: logger.With("venue", model.VenuePolymarket),
		now:    time.Now,
		tokens: make(map[model.BookKey]string),
		keys:   make(map[string]model.BookKey),
	}

	a.rest = api.NewClient(string(model.VenuePolymarket), cfg.RESTURL, signer,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithRetries(cfg.MaxRetries, cfg.RetryBackoff),
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithLogger(a.logger),
	)

	sessCfg := cfg.Session
	sessCfg.Name = string(model.VenuePolymarket)
	sessCfg.Client.URL = cfg.StreamURL
	a.session = connection.NewSession(sessCfg, (*streamHandler)(a), logger)

	if cfg.Credentials == nil {
		a.logger.Info("no polymarket credentials, running public-only")
	}
	return a, nil
}

func (a *Adapter) Venue() model.Venue { return model.VenuePolymarket }

func (a *Adapter) Capabilities() provider.Capability {
	caps := provider.CapStream | provider.CapSnapshot | provider.CapListMarkets
	if a.cfg.Credentials != nil {
		caps |= provider.CapCancelOrder | provider.CapOrderStatus
		if a.cfg.OrderSigner != nil {
			caps |= provider.CapPlaceOrder | provider.CapGTD
		}
	}
	return caps
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

// Subscribe resolves the outcome's token and streams it.
func (a *Adapter) Subscribe(ctx context.Context, key model.BookKey) error {
	token, err := a.tokenFor(ctx, key)
	if err != nil {
		return err
	}
	return a.session.Subscribe(token)
}

func (a *Adapter) Unsubscribe(_ context.Context, key model.BookKey) error {
	a.mu.RLock()
	token, ok := a.tokens[key]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return a.session.Unsubscribe(token)
}

// FetchSnapshot fetches GET /book for the outcome's token.
func (a *Adapter) FetchSnapshot(ctx context.Context, key model.BookKey) (model.Snapshot, error) {
	token, err := a.tokenFor(ctx, key)
	if err != nil {
		return model.Snapshot{}, err
	}

	v, err, _ := a.snapshots.Do(token, func() (any, error) {
		query := url.Values{}
		query.Set("token_id", token)

		var resp bookResponse
		if err := a.rest.Get(ctx, "/book", query, &resp); err != nil {
			return nil, provider.SnapshotError(key.Market, err)
		}
		bids, err := parseLevels(resp.Bids)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrSnapshotUnavailable, key.Market, err)
		}
		asks, err := parseLevels(resp.Asks)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrSnapshotUnavailable, key.Market, err)
		}
		sortBook(bids, asks)

		return model.Snapshot{
			Key:      key,
			Bids:     bids,
			Asks:     asks,
			Sequence: a.seqs.Last(key),
			Time:     parseMillis(resp.Timestamp, a.now().UTC()),
		}, nil
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	return v.(model.Snapshot), nil
}

// ListMarkets pages through GET /markets and caches every token mapping it sees.
func (a *Adapter) ListMarkets(ctx context.Context) ([]model.Market, error) {
	var markets []model.Market
	query := url.Values{}

	for page := 0; a.cfg.MaxMarketPages == 0 || page < a.cfg.MaxMarketPages; page++ {
		var resp marketsPage
		if err := a.rest.Get(ctx, "/markets", query, &resp); err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		for i := range resp.Data {
			a.rememberTokens(&resp.Data[i])
			markets = append(markets, resp.Data[i].toModel())
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		query.Set("next_cursor", resp.NextCursor)
	}
	return markets, nil
}

// Market fetches one market by condition id.
func (a *Adapter) Market(ctx context.Context, conditionID string) (model.Market, error) {
	m, err := a.fetchMarket(ctx, conditionID)
	if err != nil {
		return model.Market{}, err
	}
	return m.toModel(), nil
}

func (a *Adapter) fetchMarket(ctx context.Context, conditionID string) (*apiMarket, error) {
	v, err, _ := a.markets.Do(conditionID, func() (any, error) {
		var m apiMarket
		if err := a.rest.Get(ctx, "/markets/"+url.PathEscape(conditionID), nil, &m); err != nil {
			if api.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", provider.ErrMarketNotFound, conditionID)
			}
			return nil, fmt.Errorf("%w: get market %s: %v", provider.ErrSnapshotUnavailable, conditionID, err)
		}
		if m.ConditionID == "" {
			return nil, fmt.Errorf("%w: %s", provider.ErrMarketNotFound, conditionID)
		}
		a.rememberTokens(&m)
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*apiMarket), nil
}

func (a *Adapter) rememberTokens(m *apiMarket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range m.Tokens {
		key := model.BookKey{Venue: model.VenuePolymarket, Market: m.ConditionID, Outcome: t.Outcome}
		a.tokens[key] = t.TokenID
		a.keys[t.TokenID] = key
	}
}

// tokenFor resolves a book to its token id, fetching the market on first use.
func (a *Adapter) tokenFor(ctx context.Context, key model.BookKey) (string, error) {
	if key.Venue != model.VenuePolymarket {
		return "", fmt.Errorf("polymarket adapter got %s book", key.Venue)
	}

	a.mu.RLock()
	token, ok := a.tokens[key]
	a.mu.RUnlock()
	if ok {
		return token, nil
	}

	if _, err := a.fetchMarket(ctx, key.Market); err != nil {
		return "", err
	}

	a.mu.RLock()
	token, ok = a.tokens[key]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s has no outcome %q", provider.ErrMarketNotFound, key.Market, key.Outcome)
	}
	return token, nil
}

func (a *Adapter) keyFor(token string) (model.BookKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := a.keys[token]
	return key, ok
}
