// Package connmgr is the entry point for opening, using and closing
// database connections on behalf of owners.
//
// A connection is identified by a registry.Key derived from the owner and the
// non-secret connection fields. Identical requests reuse the live entry;
// concurrent first requests for one key share a single connect attempt.
package connmgr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/logger"
	"github.com/koustreak/connhub/internal/metacache"
	"github.com/koustreak/connhub/internal/metrics"
	"github.com/koustreak/connhub/internal/registry"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
	DefaultCloseTimeout   = 10 * time.Second

	// disconnectParallelism bounds concurrent closes in bulk disconnects.
	disconnectParallelism = 8
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	SchemaTimeout  time.Duration
	CloseTimeout   time.Duration

	Logger  *logger.Logger
	Metrics metrics.Recorder

	// Now replaces time.Now for timestamps, for tests.
	Now func() time.Time
}

// Manager owns the connection lifecycle. It is safe for concurrent use.
type Manager struct {
	adapters *database.Adapters
	registry *registry.Registry
	cache    *metacache.Cache

	opts    Options
	log     *logger.Logger
	metrics metrics.Recorder
	now     func() time.Time

	flights singleflight.Group
}

// New wires a Manager. The registry and cache are owned by the caller and
// may be shared with other readers.
func New(adapters *database.Adapters, reg *registry.Registry, cache *metacache.Cache, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.SchemaTimeout <= 0 {
		opts.SchemaTimeout = opts.QueryTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		adapters: adapters,
		registry: reg,
		cache:    cache,
		opts:     opts,
		log:      log.With().Str("component", "connmgr").Logger(),
		metrics:  rec,
		now:      now,
	}
}

// ConnectResult identifies the connection a Connect call resolved to.
type ConnectResult struct {
	Key      registry.Key    `json:"connectionKey"`
	Engine   database.Engine `json:"engineType"`
	Database string          `json:"database"`

	// Reused is true when an existing connection or another caller's
	// in-flight attempt served the request.
	Reused bool `json:"reused"`
}

// Connect returns the live connection for owner and cfg, opening one if
// needed. A live entry is reused as is, without revalidating cfg.
//
// If ctx ends while the connection is being opened, Connect returns a
// Timeout error but the attempt continues for other waiters; a connection
// nobody waits for any more is still registered, so the next call reuses it.
func (m *Manager) Connect(ctx context.Context, owner string, cfg database.Config) (*ConnectResult, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "owner is required")
	}
	norm, err := cfg.Normalize()
	if err != nil {
		return nil, errs.Redact(err, cfg.Secrets()...)
	}
	key := registry.NewKey(owner, norm)

	if e, ok := m.live(key); ok {
		e.Touch(m.now())
		m.log.DebugWith("connection reused", map[string]interface{}{"key": key.String()})
		return resultFor(e, true), nil
	}

	adapter, err := m.adapters.Lookup(norm.Engine)
	if err != nil {
		m.metrics.ConnectFailed(string(norm.Engine), failureCode(err))
		return nil, err
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key.String(), func() (interface{}, error) {
		return m.open(flightCtx, key, owner, norm, adapter)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		e := res.Val.(*registry.Entry)
		return resultFor(e, res.Shared), nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx.Err())
	}
}

// open runs inside the per-key flight: at most one per key at a time.
func (m *Manager) open(ctx context.Context, key registry.Key, owner string, cfg database.Config, adapter database.Adapter) (*registry.Entry, error) {
	if e, ok := m.live(key); ok {
		return e, nil
	}

	engine := string(cfg.Engine)
	fields := map[string]interface{}{
		"key":      key.String(),
		"owner":    owner,
		"engine":   engine,
		"host":     cfg.Host,
		"database": cfg.Database,
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := run(ctx, func(ctx context.Context) (database.Connection, error) {
		return adapter.Connect(ctx, cfg)
	}, func(conn database.Connection, err error, abandoned bool) {
		if abandoned && err == nil {
			m.closeAbandoned(conn, engine)
		}
	})
	elapsed := time.Since(start)

	if err != nil {
		err = errs.Redact(err, cfg.Secrets()...)
		m.metrics.ConnectFailed(engine, failureCode(err))
		m.metrics.ObserveOperation(engine, "connect", metrics.ResultError, elapsed)
		m.log.WarnWith("connect failed", err, withCode(fields, err))
		return nil, err
	}
	m.metrics.ObserveOperation(engine, "connect", metrics.ResultOK, elapsed)

	now := m.now()
	entry := registry.NewEntry(key, owner, cfg.Redacted(), conn, now)
	if err := m.registry.Insert(entry); err != nil {
		// Lost a race with an insert outside this flight; keep the winner.
		_ = m.closeConn(conn)
		if e, ok := m.live(key); ok {
			return e, nil
		}
		return nil, err
	}
	m.cache.Put(summaryOf(entry))
	m.metrics.ConnectionOpened(engine)

	fields["duration_ms"] = elapsed.Milliseconds()
	m.log.InfoWith("connection opened", fields)
	return entry, nil
}

// TestConnection opens a throwaway connection and closes it. The registry
// is not touched.
func (m *Manager) TestConnection(ctx context.Context, cfg database.Config) error {
	norm, err := cfg.Normalize()
	if err != nil {
		return errs.Redact(err, cfg.Secrets()...)
	}
	adapter, err := m.adapters.Lookup(norm.Engine)
	if err != nil {
		return err
	}
	engine := string(norm.Engine)

	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := run(ctx, func(ctx context.Context) (database.Connection, error) {
		return adapter.Connect(ctx, norm)
	}, func(conn database.Connection, err error, abandoned bool) {
		if abandoned && err == nil {
			_ = m.closeConn(conn)
		}
	})
	if err != nil {
		err = errs.Redact(err, norm.Secrets()...)
		m.metrics.ConnectFailed(engine, failureCode(err))
		return err
	}

	if err := m.closeConn(conn); err != nil {
		m.log.WarnWith("closing test connection failed", err, map[string]interface{}{"engine": engine})
	}
	return nil
}

// KeyFor derives the key Connect would use for owner and cfg.
func (m *Manager) KeyFor(owner string, cfg database.Config) (registry.Key, error) {
	norm, err := cfg.Normalize()
	if err != nil {
		return "", errs.Redact(err, cfg.Secrets()...)
	}
	return registry.NewKey(owner, norm), nil
}

// IsLive reports whether key has a usable registry entry.
func (m *Manager) IsLive(key registry.Key) bool {
	_, ok := m.live(key)
	return ok
}

func (m *Manager) live(key registry.Key) (*registry.Entry, bool) {
	e, ok := m.registry.Lookup(key)
	if !ok || e.Closed() {
		return nil, false
	}
	return e, true
}

// closeConn closes a handle that never made it into the registry.
func (m *Manager) closeConn(conn database.Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CloseTimeout)
	defer cancel()
	_, err := run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Close(ctx)
	}, nil)
	return err
}

func (m *Manager) closeAbandoned(conn database.Connection, engine string) {
	if err := m.closeConn(conn); err != nil {
		m.log.WarnWith("closing abandoned connection failed", err, map[string]interface{}{"engine": engine})
		return
	}
	m.log.DebugWith("closed connection that finished after its deadline", map[string]interface{}{"engine": engine})
}

func resultFor(e *registry.Entry, reused bool) *ConnectResult {
	return &ConnectResult{
		Key:      e.Key,
		Engine:   e.Config.Engine,
		Database: e.Config.Database,
		Reused:   reused,
	}
}

func summaryOf(e *registry.Entry) metacache.Summary {
	return metacache.Summary{
		Key:         e.Key.String(),
		Owner:       e.Owner,
		Engine:      e.Config.Engine,
		Database:    e.Config.Database,
		Host:        e.Config.Host,
		Port:        e.Config.Port,
		Username:    e.Config.Username,
		ConnectedAt: e.CreatedAt,
	}
}

// failureCode is the stable kind.reason code of err.
func failureCode(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return errs.ErrKindUnknown.String()
}

func withCode(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["code"] = failureCode(err)
	return out
}
