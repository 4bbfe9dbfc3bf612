// Package sqldb implements database.Connection on top of database/sql.
//
// The MySQL, SQLite, SQL Server and Oracle adapters share this code and only
// supply a Dialect: the liveness probe, named-parameter support, error
// mapping and catalog queries.
package sqldb

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

// Queryer is the subset of *sql.DB used by catalog queries.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect supplies the engine-specific parts of a database/sql connection.
type Dialect interface {
	Engine() database.Engine

	// Probe is the trivial statement run after Ping, e.g. "SELECT 1".
	Probe() string

	// NamedArgs reports whether the driver binds sql.Named arguments.
	NamedArgs() bool

	// MapError translates a native driver error into *errs.Error.
	MapError(err error, phase database.Phase, msg string) *errs.Error

	ListTables(ctx context.Context, q Queryer) ([]database.TableRef, error)
	InspectTable(ctx context.Context, q Queryer, table database.TableRef) ([]database.ColumnInfo, error)
}

// Conn is a database.Connection backed by a *sql.DB.
// It is safe for concurrent use by multiple goroutines.
type Conn struct {
	db      *sql.DB
	dialect Dialect
	secrets []string
	cleanup func() error

	closeOnce sync.Once
	closeErr  error
}

// Option customises a Conn.
type Option func(*Conn)

// WithSecrets registers values scrubbed from every error the Conn returns.
func WithSecrets(secrets ...string) Option {
	return func(c *Conn) { c.secrets = append(c.secrets, secrets...) }
}

// WithCleanup runs fn after the pool is closed, e.g. to remove a temp file.
func WithCleanup(fn func() error) Option {
	return func(c *Conn) { c.cleanup = fn }
}

// New wraps an already opened *sql.DB. It does not probe the database.
func New(db *sql.DB, d Dialect, opts ...Option) *Conn {
	c := &Conn{db: db, dialect: d}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens a pool for driverName, applies pool settings and verifies the
// database with Ping plus the dialect probe. On failure the pool is closed.
func Open(ctx context.Context, driverName, dsn string, d Dialect, pool Pool, opts ...Option) (*Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		c := New(nil, d, opts...)
		return nil, c.fail(err, database.PhaseConnect, "invalid data source")
	}
	pool.apply(db)

	c := New(db, d, opts...)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying pool.
func (c *Conn) DB() *sql.DB { return c.db }

func (c *Conn) Engine() database.Engine { return c.dialect.Engine() }

// Ping verifies the database is reachable and answers the probe statement.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return c.fail(err, database.PhaseConnect, "ping failed")
	}
	var one any
	if err := c.db.QueryRowContext(ctx, c.dialect.Probe()).Scan(&one); err != nil {
		return c.fail(err, database.PhaseConnect, "liveness probe failed")
	}
	return nil
}

// Execute runs q. Statements that cannot return rows go through ExecContext
// so the affected-row count is reported; everything else is scanned.
func (c *Conn) Execute(ctx context.Context, q database.Query) (*database.ResultSet, error) {
	if strings.TrimSpace(q.Statement) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "statement is empty")
	}
	args, err := c.bindArgs(q.Params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if !ReturnsRows(q.Statement) {
		res, err := c.db.ExecContext(ctx, q.Statement, args...)
		if err != nil {
			return nil, c.fail(err, database.PhaseQuery, "statement failed")
		}
		affected, _ := res.RowsAffected()
		return &database.ResultSet{
			Columns:      []database.ResultColumn{},
			Rows:         []map[string]any{},
			RowsAffected: affected,
			Duration:     time.Since(start),
		}, nil
	}

	rows, err := c.db.QueryContext(ctx, q.Statement, args...)
	if err != nil {
		return nil, c.fail(err, database.PhaseQuery, "query failed")
	}
	rs, err := database.ScanRows(&sqlRows{rows: rows}, q.RowLimit)
	if err != nil {
		return nil, c.fail(err, database.PhaseQuery, "reading results failed")
	}
	rs.Duration = time.Since(start)
	return rs, nil
}

// FetchSchema lists tables through the dialect and inspects each one.
func (c *Conn) FetchSchema(ctx context.Context) (*database.SchemaInfo, error) {
	info, err := database.InspectSchema(ctx, c.Engine(), introspector{c: c})
	if err != nil {
		return nil, c.fail(err, database.PhaseSchema, "schema introspection failed")
	}
	return info, nil
}

// Close closes the pool once; later calls return the first result.
func (c *Conn) Close(context.Context) error {
	c.closeOnce.Do(func() {
		if c.db != nil {
			if err := c.db.Close(); err != nil {
				c.closeErr = c.fail(err, database.PhaseConnect, "close failed")
			}
		}
		if c.cleanup != nil {
			if err := c.cleanup(); err != nil && c.closeErr == nil {
				c.closeErr = errs.Wrap(errs.ErrKindUnknown, "cleanup after close failed", err)
			}
		}
	})
	return c.closeErr
}

func (c *Conn) bindArgs(p database.Params) ([]any, error) {
	if len(p.Positional) > 0 && len(p.Named) > 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "positional and named parameters cannot be mixed")
	}
	if len(p.Named) == 0 {
		return p.Positional, nil
	}
	if !c.dialect.NamedArgs() {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"named parameters are not supported by %s; use positional parameters", c.Engine())
	}

	names := make([]string, 0, len(p.Named))
	for name := range p.Named {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, len(names))
	for i, name := range names {
		args[i] = sql.Named(name, p.Named[name])
	}
	return args, nil
}

// fail maps err through the dialect and scrubs registered secrets.
func (c *Conn) fail(err error, phase database.Phase, msg string) error {
	if e, ok := err.(*errs.Error); ok {
		return errs.Redact(e, c.secrets...)
	}
	return errs.Redact(c.dialect.MapError(err, phase, msg), c.secrets...)
}

type introspector struct {
	c *Conn
}

func (i introspector) ListTables(ctx context.Context) ([]database.TableRef, error) {
	return i.c.dialect.ListTables(ctx, i.c.db)
}

func (i introspector) InspectTable(ctx context.Context, t database.TableRef) ([]database.ColumnInfo, error) {
	return i.c.dialect.InspectTable(ctx, i.c.db, t)
}

// sqlRows wraps *sql.Rows to satisfy database.Rows.
type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Close() error           { return r.rows.Close() }
func (r *sqlRows) Err() error             { return r.rows.Err() }

func (r *sqlRows) Columns() ([]database.ResultColumn, error) {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]database.ResultColumn, len(types))
	for i, t := range types {
		cols[i] = database.ResultColumn{Name: t.Name(), DatabaseType: t.DatabaseTypeName()}
	}
	return cols, nil
}
