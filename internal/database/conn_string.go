package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/marketsync/internal/config"
)

// BuildConnString builds a PostgreSQL URL from config. appName is reported
// to the server as application_name when set.
func BuildConnString(cfg config.DatabaseConfig, appName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if appName != "" {
		q.Set("application_name", appName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
