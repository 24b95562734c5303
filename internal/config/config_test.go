package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: sync-1
  env: test
venues:
  kalshi:
    enabled: true
    api_key_id: abc
    private_key_path: /keys/kalshi.pem
    rest:
      rate_limit: 5
  polymarket:
    enabled: true
subscriptions:
  - venue: kalshi
    market: KXBTC-25
    outcome: yes
database:
  enabled: true
  host: localhost
  name: marketsync
  user: sync
  password: pw
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "sync-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "sync-1")
	}
	if cfg.Venues.Kalshi.APIKeyID != "abc" {
		t.Errorf("Kalshi.APIKeyID = %q", cfg.Venues.Kalshi.APIKeyID)
	}
	if cfg.Venues.Kalshi.REST.RateLimit != 5 {
		t.Errorf("Kalshi.REST.RateLimit = %v, want 5", cfg.Venues.Kalshi.REST.RateLimit)
	}
	if len(cfg.Subscriptions) != 1 || cfg.Subscriptions[0].Outcome != "yes" {
		t.Errorf("Subscriptions = %+v", cfg.Subscriptions)
	}
	if cfg.Venues.Polymarket.HasCredentials() {
		t.Error("Polymarket.HasCredentials() = true with no credentials")
	}
	// Load alone applies no defaults.
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 before defaults", cfg.Database.Port)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_POLY_SECRET", "c2VjcmV0")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: sync-1
venues:
  polymarket:
    enabled: true
    api_secret: ${TEST_POLY_SECRET}
database:
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Venues.Polymarket.APISecret != "c2VjcmV0" {
		t.Errorf("APISecret = %q", cfg.Venues.Polymarket.APISecret)
	}
	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
	if !cfg.Venues.Polymarket.HasCredentials() {
		t.Error("Polymarket.HasCredentials() = false with a secret set")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "MARKETSYNC_TEST_DOTENV"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeTempFile(t, ".env", key+"=from-file\n")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want %q", key, got, "from-file")
	}

	t.Run("existing env wins", func(t *testing.T) {
		t.Setenv(key, "from-env")
		if err := LoadDotEnv(path); err != nil {
			t.Fatalf("LoadDotEnv failed: %v", err)
		}
		if got := os.Getenv(key); got != "from-env" {
			t.Errorf("%s = %q, want %q", key, got, "from-env")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
			t.Errorf("LoadDotEnv(missing) = %v, want nil", err)
		}
	})
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
venues:
  kalshi:
    enabled: true
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Instance.ID != DefaultInstanceID {
		t.Errorf("Instance.ID = %q, want default %q", cfg.Instance.ID, DefaultInstanceID)
	}
	if cfg.Venues.Kalshi.RESTURL != DefaultKalshiRESTURL {
		t.Errorf("Kalshi.RESTURL = %q, want default", cfg.Venues.Kalshi.RESTURL)
	}
	if cfg.Venues.Polymarket.StreamURL != DefaultPolymarketStreamURL {
		t.Errorf("Polymarket.StreamURL = %q, want default", cfg.Venues.Polymarket.StreamURL)
	}
	if cfg.Venues.Kalshi.REST.Timeout != DefaultRESTTimeout {
		t.Errorf("Kalshi.REST.Timeout = %v, want %v", cfg.Venues.Kalshi.REST.Timeout, DefaultRESTTimeout)
	}
	if cfg.Session.ReconnectMax != DefaultReconnectMax {
		t.Errorf("Session.ReconnectMax = %v, want %v", cfg.Session.ReconnectMax, DefaultReconnectMax)
	}
	if cfg.Reconcile.FetchTries != DefaultFetchTries {
		t.Errorf("Reconcile.FetchTries = %d, want %d", cfg.Reconcile.FetchTries, DefaultFetchTries)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.NATS.Name != DefaultInstanceID {
		t.Errorf("NATS.Name = %q, want instance id", cfg.NATS.Name)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.level}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Instance: InstanceConfig{ID: "test"},
			Venues: VenuesConfig{
				Kalshi: KalshiConfig{Enabled: true},
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name:    "no venues",
			mutate:  func(c *Config) { c.Venues.Kalshi.Enabled = false },
			wantErr: "at least one venue must be enabled",
		},
		{
			name:    "reconnect max below min",
			mutate:  func(c *Config) { c.Session.ReconnectMax = 500 * time.Millisecond },
			wantErr: "session.reconnect_max (500ms) cannot be below reconnect_min (1s)",
		},
		{
			name: "subscription to disabled venue",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Venue: "polymarket", Market: "0xabc", Outcome: "Yes"}}
			},
			wantErr: "subscriptions[0]: venue polymarket is not enabled",
		},
		{
			name: "subscription missing outcome",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Venue: "kalshi", Market: "KX"}}
			},
			wantErr: "subscriptions[0]: outcome is required",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *Config) { c.Database.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{
					Enabled: true, Host: "localhost", Name: "db", User: "user", Password: "pass",
					MaxConns: 5, MinConns: 10, BatchSize: 100,
				}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "nats enabled without url",
			mutate:  func(c *Config) { c.NATS.Enabled = true },
			wantErr: "nats.url is required",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name: "valid config",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Venue: "kalshi", Market: "KX", Outcome: "yes"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
