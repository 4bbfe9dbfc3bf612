package connmgr

import (
	"context"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/metrics"
	"github.com/koustreak/connhub/internal/registry"
)

// QueryResult is a ResultSet plus the wall-clock time the manager measured.
type QueryResult struct {
	*database.ResultSet
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// ExecuteQuery runs q on the connection for key. An unknown or expired key
// yields NotFound: the caller should Connect again.
func (m *Manager) ExecuteQuery(ctx context.Context, key registry.Key, q database.Query) (*QueryResult, error) {
	if q.RowLimit < 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "row limit must not be negative")
	}

	start := time.Now()
	rs, engine, err := withEntry(ctx, m, key, m.opts.QueryTimeout, func(ctx context.Context, conn database.Connection) (*database.ResultSet, error) {
		return conn.Execute(ctx, q)
	})
	elapsed := time.Since(start)

	fields := map[string]interface{}{"key": key.String(), "duration_ms": elapsed.Milliseconds()}
	if engine != "" {
		fields["engine"] = engine
	}
	if err != nil {
		if engine != "" {
			m.metrics.ObserveOperation(engine, "query", metrics.ResultError, elapsed)
			m.log.WarnWith("query failed", err, withCode(fields, err))
		}
		return nil, err
	}
	m.metrics.ObserveOperation(engine, "query", metrics.ResultOK, elapsed)

	fields["rows"] = rs.RowCount
	fields["truncated"] = rs.Truncated
	m.log.DebugWith("query executed", fields)
	return &QueryResult{ResultSet: rs, ExecutionTimeMs: elapsed.Milliseconds()}, nil
}

// FetchSchema introspects the database behind key.
func (m *Manager) FetchSchema(ctx context.Context, key registry.Key) (*database.SchemaInfo, error) {
	start := time.Now()
	info, engine, err := withEntry(ctx, m, key, m.opts.SchemaTimeout, func(ctx context.Context, conn database.Connection) (*database.SchemaInfo, error) {
		return conn.FetchSchema(ctx)
	})
	elapsed := time.Since(start)

	if engine != "" {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		m.metrics.ObserveOperation(engine, "schema", result, elapsed)
	}
	if err != nil {
		if engine != "" {
			m.log.WarnWith("schema fetch failed", err, withCode(map[string]interface{}{"key": key.String(), "engine": engine}, err))
		}
		return nil, err
	}
	return info, nil
}

// withEntry runs fn against key's connection while holding the entry gate,
// under timeout. Last-used is refreshed before and after so a long
// operation is never mistaken for idleness. The gate is released only
// when fn actually returns, even after a timeout.
func withEntry[T any](ctx context.Context, m *Manager, key registry.Key, timeout time.Duration, fn func(context.Context, database.Connection) (T, error)) (T, string, error) {
	var zero T

	e, ok := m.live(key)
	if !ok {
		return zero, "", notFound(key)
	}
	engine := string(e.Config.Engine)
	e.Touch(m.now())
	m.cache.Touch(key.String())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, release, err := e.Acquire(ctx)
	if err != nil {
		if errs.IsNotFound(err) {
			return zero, engine, notFound(key)
		}
		return zero, engine, err
	}

	v, err := run(ctx, func(ctx context.Context) (T, error) {
		return fn(ctx, conn)
	}, func(T, error, bool) {
		release()
		e.Touch(m.now())
	})
	return v, engine, err
}

func notFound(key registry.Key) error {
	return errs.Newf(errs.ErrKindNotFound, "connection %s not found or expired; connect again", key)
}
