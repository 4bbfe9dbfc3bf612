// Package sqlserver implements the SQL Server adapter on top of
// microsoft/go-mssqldb.
package sqlserver

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
)

// Options tunes connections opened by the adapter.
type Options struct {
	ConnectTimeout time.Duration
	AppName        string
}

// Adapter opens SQL Server connections. Each connection is one session,
// matching how the server accounts logins.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EngineSQLServer }

func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	return sqldb.Open(ctx, "sqlserver", a.dsn(cfg), Dialect{}, sqldb.SingleSession(),
		sqldb.WithSecrets(cfg.Secrets()...))
}

// dsn builds a sqlserver:// URL; url.UserPassword escapes the credentials.
func (a *Adapter) dsn(cfg database.Config) string {
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	q.Set("database", cfg.Database)
	if cfg.TLS {
		q.Set("encrypt", "true")
	} else if q.Get("encrypt") == "" {
		q.Set("encrypt", "false")
	}
	if a.opts.ConnectTimeout > 0 {
		q.Set("dial timeout", strconv.Itoa(int(a.opts.ConnectTimeout.Seconds())))
	}
	appName := a.opts.AppName
	if appName == "" {
		appName = "connhub"
	}
	q.Set("app name", appName)

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}
