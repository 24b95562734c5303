package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
	"github.com/rickgao/marketsync/internal/provider/kalshi"
	"github.com/rickgao/marketsync/internal/provider/polymarket"
)

// buildAdapters creates an adapter per enabled venue. Credential problems
// never fail the build: the venue is either dropped (and reported in
// disabled) or downgraded to public data only.
func buildAdapters(cfg *config.Config, logger *slog.Logger) (adapters []provider.Adapter, disabled map[model.Venue]error, err error) {
	disabled = make(map[model.Venue]error)

	if cfg.Venues.Kalshi.Enabled {
		ad, err := newKalshi(cfg, logger)
		switch {
		case isAuthError(err):
			logger.Warn("kalshi disabled: credentials unusable", "err", err)
			disabled[model.VenueKalshi] = err
		case err != nil:
			return nil, nil, fmt.Errorf("kalshi adapter: %w", err)
		default:
			adapters = append(adapters, ad)
		}
	}

	if cfg.Venues.Polymarket.Enabled {
		ad, err := newPolymarket(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("polymarket adapter: %w", err)
		}
		adapters = append(adapters, ad)
	}

	return adapters, disabled, nil
}

func newKalshi(cfg *config.Config, logger *slog.Logger) (*kalshi.Adapter, error) {
	vc := cfg.Venues.Kalshi

	creds, err := auth.LoadKalshiCredentials(vc.APIKeyID, vc.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	logger.Info("kalshi credentials loaded", "credentials", creds)

	kc := kalshi.DefaultConfig()
	kc.RESTURL = vc.RESTURL
	kc.StreamURL = vc.StreamURL
	kc.Credentials = creds
	kc.Session = sessionConfig(kc.Session, cfg.Session, logger.With("venue", model.VenueKalshi))
	kc.RequestTimeout = vc.REST.Timeout
	kc.MaxRetries = vc.REST.MaxRetries
	kc.RetryBackoff = vc.REST.RetryBackoff
	kc.RateLimit = vc.REST.RateLimit
	kc.RateBurst = vc.REST.RateBurst
	kc.SnapshotDepth = vc.SnapshotDepth
	kc.MarketStatus = vc.MarketStatus
	kc.SeriesTicker = vc.SeriesTicker
	kc.MaxMarketPages = vc.MaxMarketPages
	kc.Trades = !vc.DisableTrades

	return kalshi.New(kc, logger)
}

func newPolymarket(cfg *config.Config, logger *slog.Logger) (*polymarket.Adapter, error) {
	vc := cfg.Venues.Polymarket

	pc := polymarket.DefaultConfig()
	pc.RESTURL = vc.RESTURL
	pc.StreamURL = vc.StreamURL
	pc.Session = sessionConfig(pc.Session, cfg.Session, logger.With("venue", model.VenuePolymarket))
	pc.RequestTimeout = vc.REST.Timeout
	pc.MaxRetries = vc.REST.MaxRetries
	pc.RetryBackoff = vc.REST.RetryBackoff
	pc.RateLimit = vc.REST.RateLimit
	pc.RateBurst = vc.REST.RateBurst
	pc.MaxMarketPages = vc.MaxMarketPages

	if vc.HasCredentials() {
		creds, err := auth.NewPolymarketCredentials(vc.Address, vc.APIKey, vc.APISecret, vc.Passphrase)
		if err != nil {
			if !isAuthError(err) {
				return nil, err
			}
			logger.Warn("polymarket credentials unusable, running public-only", "err", err)
		} else {
			logger.Info("polymarket credentials loaded", "credentials", creds)
			pc.Credentials = creds
		}
	}

	return polymarket.New(pc, logger)
}

// sessionConfig overlays the configured reconnect and heartbeat settings on
// a venue's default session. Venue-specific ping payloads are kept.
func sessionConfig(base connection.SessionConfig, sc config.SessionConfig, logger *slog.Logger) connection.SessionConfig {
	base.Backoff = connection.BackoffConfig{
		Min:    sc.ReconnectMin,
		Max:    sc.ReconnectMax,
		Factor: sc.ReconnectFactor,
		Jitter: sc.ReconnectJitter,
	}
	base.StablePeriod = sc.StablePeriod
	base.MaxRetries = sc.MaxRetries
	base.Client.HandshakeTimeout = sc.HandshakeTimeout
	base.Client.WriteTimeout = sc.WriteTimeout
	base.Client.Heartbeat.Interval = sc.HeartbeatInterval
	base.Client.Heartbeat.MaxMissed = sc.HeartbeatMaxMissed
	base.OnStateChange = func(from, to model.SessionState) {
		logger.Info("session state", "from", from, "to", to)
	}
	return base
}

func isAuthError(err error) bool {
	var keyErr *auth.InvalidKeyFormatError
	return errors.Is(err, auth.ErrAuthConfig) || errors.As(err, &keyErr)
}
