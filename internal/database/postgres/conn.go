package postgres

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

// Conn is a PostgreSQL database.Connection backed by pgxpool.
// It is safe for concurrent use by multiple goroutines.
type Conn struct {
	pool    *pgxpool.Pool
	secrets []string

	closeOnce sync.Once
}

func (c *Conn) Engine() database.Engine { return database.EnginePostgres }

// Ping acquires a pooled connection and runs SELECT 1.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return c.fail(err, database.PhaseConnect, "ping failed")
	}
	var one int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return c.fail(err, database.PhaseConnect, "liveness probe failed")
	}
	return nil
}

// Execute runs q through the pool. Named parameters bind as pgx.NamedArgs
// (@name placeholders). For data-modifying statements the command tag
// supplies RowsAffected.
func (c *Conn) Execute(ctx context.Context, q database.Query) (*database.ResultSet, error) {
	if strings.TrimSpace(q.Statement) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "statement is empty")
	}

	var args []any
	switch {
	case len(q.Params.Positional) > 0 && len(q.Params.Named) > 0:
		return nil, errs.New(errs.ErrKindInvalidInput, "positional and named parameters cannot be mixed")
	case len(q.Params.Named) > 0:
		args = []any{pgx.NamedArgs(q.Params.Named)}
	default:
		args = q.Params.Positional
	}

	start := time.Now()
	rows, err := c.pool.Query(ctx, q.Statement, args...)
	if err != nil {
		return nil, c.fail(err, database.PhaseQuery, "query failed")
	}

	rs, err := database.ScanRows(&pgxRows{rows: rows}, q.RowLimit)
	if err != nil {
		return nil, c.fail(err, database.PhaseQuery, "reading results failed")
	}
	if tag := rows.CommandTag(); !tag.Select() {
		rs.RowsAffected = tag.RowsAffected()
	}
	rs.Duration = time.Since(start)
	return rs, nil
}

// FetchSchema introspects every non-system schema.
func (c *Conn) FetchSchema(ctx context.Context) (*database.SchemaInfo, error) {
	info, err := database.InspectSchema(ctx, database.EnginePostgres, introspector{pool: c.pool})
	if err != nil {
		return nil, c.fail(err, database.PhaseSchema, "schema introspection failed")
	}
	return info, nil
}

// Close drains the pool. Later calls are no-ops.
func (c *Conn) Close(context.Context) error {
	c.closeOnce.Do(c.pool.Close)
	return nil
}

func (c *Conn) fail(err error, phase database.Phase, msg string) error {
	return errs.Redact(mapError(err, phase, msg), c.secrets...)
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Close() error {
	r.rows.Close()
	return nil
}

// Columns resolves type names through the connection's type map; unknown
// OIDs leave the type empty.
func (r *pgxRows) Columns() ([]database.ResultColumn, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]database.ResultColumn, len(descs))
	conn := r.rows.Conn()
	for i, d := range descs {
		cols[i].Name = d.Name
		if conn == nil {
			continue
		}
		if t, ok := conn.TypeMap().TypeForOID(d.DataTypeOID); ok {
			cols[i].DatabaseType = t.Name
		}
	}
	return cols, nil
}
