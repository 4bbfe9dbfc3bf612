// Package oracle implements the Oracle adapter on top of the pure-Go
// sijms/go-ora driver. Config.Database is the service name.
package oracle

import (
	"context"
	"strconv"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	go_ora "github.com/sijms/go-ora/v2"
)

// Options tunes connections opened by the adapter.
type Options struct {
	Pool           sqldb.Pool
	ConnectTimeout time.Duration
}

// Adapter opens pooled Oracle connections.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EngineOracle }

func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	return sqldb.Open(ctx, "oracle", a.dsn(cfg), Dialect{}, a.opts.Pool, sqldb.WithSecrets(cfg.Secrets()...))
}

func (a *Adapter) dsn(cfg database.Config) string {
	opts := make(map[string]string, len(cfg.Options)+2)
	for k, v := range cfg.Options {
		opts[k] = v
	}
	if cfg.TLS {
		opts["SSL"] = "enable"
	}
	if a.opts.ConnectTimeout > 0 {
		opts["TIMEOUT"] = strconv.Itoa(int(a.opts.ConnectTimeout.Seconds()))
	}
	return go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, opts)
}
