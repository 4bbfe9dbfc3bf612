package database

import (
	"context"
	"time"
)

// Connection is a live handle to one database, owned by exactly one
// registry entry. All layers above the adapters talk only to this
// interface — they never import an engine package directly.
type Connection interface {
	// Engine reports which engine serves this connection.
	Engine() Engine

	// Ping runs the engine's trivial liveness probe.
	Ping(ctx context.Context) error

	// Execute runs one statement with its parameters.
	Execute(ctx context.Context, q Query) (*ResultSet, error)

	// FetchSchema introspects the connected database.
	FetchSchema(ctx context.Context) (*SchemaInfo, error)

	// Close releases the handle. Calling it more than once is a no-op.
	Close(ctx context.Context) error
}

// Adapter opens connections for a single engine.
type Adapter interface {
	Engine() Engine

	// Connect opens a handle and verifies it with a liveness probe before
	// returning. Failures are *errs.Error with kind ConnectionFailed (or
	// InvalidInput for unusable configs) and never contain secrets.
	Connect(ctx context.Context, cfg Config) (Connection, error)
}

// Params holds statement parameters. Positional and Named are mutually
// exclusive; engines without named-parameter support reject Named.
type Params struct {
	Positional []any          `json:"positional,omitempty"`
	Named      map[string]any `json:"named,omitempty"`
}

// IsEmpty reports whether no parameters were supplied.
func (p Params) IsEmpty() bool {
	return len(p.Positional) == 0 && len(p.Named) == 0
}

// Query is one statement submitted through a connection.
type Query struct {
	Statement string `json:"statement"`
	Params    Params `json:"params"`

	// RowLimit caps the rows read from the engine; 0 means unlimited.
	// Adapters stop reading once the cap is reached and mark the result
	// as truncated instead of rewriting the statement text.
	RowLimit int `json:"rowLimit,omitempty"`
}

// ResultColumn describes one column of a result set.
type ResultColumn struct {
	Name         string `json:"name"`
	DatabaseType string `json:"type,omitempty"`
}

// ResultSet is the engine-independent shape of a statement's result.
type ResultSet struct {
	Columns      []ResultColumn   `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"rowCount"`
	RowsAffected int64            `json:"rowsAffected,omitempty"`
	Truncated    bool             `json:"truncated,omitempty"`
	Duration     time.Duration    `json:"-"`
}

// Rows is an abstraction over a driver result set, implemented by thin
// wrappers around pgx.Rows and *sql.Rows.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names and engine type names.
	Columns() ([]ResultColumn, error)

	// Close releases resources held by the result set.
	Close() error

	// Err returns any error encountered during iteration.
	Err() error
}
