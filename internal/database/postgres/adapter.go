// Package postgres implements the PostgreSQL adapter on top of pgxpool.
package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

const (
	defaultMaxConns        = 10
	defaultMinConns        = 0
	defaultMaxConnIdleTime = 5 * time.Minute
)

// Options tunes pools opened by the adapter. Zero fields use defaults.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Adapter opens pgxpool-backed connections.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EnginePostgres }

// Connect builds a pool and runs the liveness probe before returning.
func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	secrets := cfg.Secrets()

	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		return nil, errs.Redact(
			errs.Wrap(errs.ErrKindInvalidInput, "invalid postgres configuration", err),
			secrets...)
	}

	poolCfg.MaxConns = withDefault(a.opts.MaxConns, defaultMaxConns)
	poolCfg.MinConns = withDefault(a.opts.MinConns, defaultMinConns)
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime
	if a.opts.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = a.opts.MaxConnIdleTime
	}
	if a.opts.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = a.opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Redact(mapError(err, database.PhaseConnect, "failed to create connection pool"), secrets...)
	}

	c := &Conn{pool: pool, secrets: secrets}
	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// buildDSN renders cfg as a postgres URL; url.UserPassword escapes credentials.
func buildDSN(cfg database.Config) string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	if cfg.TLS {
		q.Set("sslmode", "require")
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// withDefault returns val if non-zero, otherwise returns def
func withDefault(val, def int32) int32 {
	if val == 0 {
		return def
	}
	return val
}
