// Package mysql implements the MySQL adapter on top of go-sql-driver/mysql.
package mysql

import (
	"context"
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
)

// Options tunes connections opened by the adapter.
type Options struct {
	Pool           sqldb.Pool
	ConnectTimeout time.Duration
}

// Adapter opens pooled MySQL connections.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EngineMySQL }

// Connect opens a pool and runs the liveness probe before returning.
func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	return sqldb.Open(ctx, "mysql", a.dsn(cfg), Dialect{}, a.opts.Pool, sqldb.WithSecrets(cfg.Secrets()...))
}

// dsn builds the driver DSN with FormatDSN so credentials are escaped.
func (a *Adapter) dsn(cfg database.Config) string {
	c := gomysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Timeout = a.opts.ConnectTimeout
	if cfg.TLS {
		c.TLSConfig = "true"
	}
	for k, v := range cfg.Options {
		if c.Params == nil {
			c.Params = map[string]string{}
		}
		c.Params[k] = v
	}
	return c.FormatDSN()
}
