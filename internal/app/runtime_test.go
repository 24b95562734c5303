package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/provider"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "kalshi.pem")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return path
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	cfg, err := config.LoadAndValidate(path)
	require.NoError(t, err)
	return cfg
}

func venues(ads []provider.Adapter) []model.Venue {
	var out []model.Venue
	for _, ad := range ads {
		out = append(out, ad.Venue())
	}
	return out
}

func TestBuildAdapters_KalshiWithoutKeyIsDisabled(t *testing.T) {
	cfg := testConfig(t, `
venues:
  kalshi:
    enabled: true
    api_key_id: key-1
    private_key_path: /nonexistent/kalshi.pem
  polymarket:
    enabled: true
`)
	ads, disabled, err := buildAdapters(cfg, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, []model.Venue{model.VenuePolymarket}, venues(ads))
	require.Contains(t, disabled, model.VenueKalshi)
	assert.ErrorIs(t, disabled[model.VenueKalshi], auth.ErrAuthConfig)
}

func TestBuildAdapters_KalshiWithKey(t *testing.T) {
	cfg := testConfig(t, `
venues:
  kalshi:
    enabled: true
    api_key_id: key-1
    private_key_path: `+writeKey(t)+`
`)
	ads, disabled, err := buildAdapters(cfg, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, disabled)
	require.Equal(t, []model.Venue{model.VenueKalshi}, venues(ads))
	assert.True(t, ads[0].Capabilities().Supports(provider.CapPlaceOrder))
}

func TestBuildAdapters_PolymarketBadSecretRunsPublic(t *testing.T) {
	cfg := testConfig(t, `
venues:
  polymarket:
    enabled: true
    address: "0xabc"
    api_key: k
    api_secret: "!!not-base64!!"
    passphrase: p
`)
	ads, disabled, err := buildAdapters(cfg, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, disabled)
	require.Len(t, ads, 1)

	caps := ads[0].Capabilities()
	assert.True(t, caps.Supports(provider.CapStream))
	assert.False(t, caps.Supports(provider.CapCancelOrder))
}

func TestNew_NoUsableVenues(t *testing.T) {
	cfg := testConfig(t, `
venues:
  kalshi:
    enabled: true
`)
	_, err := New(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, ErrNoVenues)
	assert.ErrorIs(t, err, auth.ErrAuthConfig)
}

func TestRuntime_HealthAndHandler(t *testing.T) {
	cfg := testConfig(t, `
instance:
  id: sync-test
venues:
  kalshi:
    enabled: true
  polymarket:
    enabled: true
`)
	rt, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(context.Background()) })

	h := rt.Health()
	assert.Equal(t, "sync-test", h.Instance)
	assert.Equal(t, StatusUnhealthy, h.Status, "nothing is connected before Start")
	assert.Equal(t, "DISABLED", h.Venues["kalshi"].State)
	assert.NotEmpty(t, h.Venues["kalshi"].Error)
	assert.Equal(t, "DISCONNECTED", h.Venues["polymarket"].State)
	assert.Contains(t, rt.Disabled(), model.VenueKalshi)

	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var got Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, StatusUnhealthy, got.Status)

	resp, err = http.Get(srv.URL + "/debug/books")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))

	resp, err = http.Get(srv.URL + cfg.Metrics.Path)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `marketsync_session_state{state="DISCONNECTED",venue="polymarket"} 1`)
}

func TestRuntime_CloseWithoutStart(t *testing.T) {
	cfg := testConfig(t, `
venues:
  polymarket:
    enabled: true
`)
	rt, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, rt.Close(context.Background()))
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, isAuthError(auth.ErrAuthConfig))
	assert.True(t, isAuthError(&auth.InvalidKeyFormatError{Source: "x"}))
	assert.False(t, isAuthError(errors.New("boom")))
	assert.False(t, isAuthError(nil))
}
