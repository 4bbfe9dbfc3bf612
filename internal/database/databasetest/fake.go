// Package databasetest provides an in-memory database.Adapter for tests of
// the layers above the engine adapters.
package databasetest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

// Adapter is a configurable fake. Set the exported fields before the first
// Connect; they are read without locking.
type Adapter struct {
	Kind database.Engine

	// ConnectDelay is how long Connect takes. With IgnoreContext the delay
	// elapses even after the caller's context is done.
	ConnectDelay  time.Duration
	IgnoreContext bool
	ConnectErr    error

	// ExecDelay and Hang control Execute; Hang blocks until the context
	// is done, or forever when IgnoreContext is set.
	ExecDelay time.Duration
	Hang      bool
	ExecErr   error
	Result    *database.ResultSet

	Schema    *database.SchemaInfo
	SchemaErr error
	CloseErr  error

	connects atomic.Int64

	mu    sync.Mutex
	conns []*Conn
}

// NewAdapter returns a fake serving engine.
func NewAdapter(engine database.Engine) *Adapter {
	return &Adapter{Kind: engine}
}

func (a *Adapter) Engine() database.Engine { return a.Kind }

func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	a.connects.Add(1)
	if err := a.wait(ctx, a.ConnectDelay); err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "connect aborted", err).WithReason(errs.ReasonTimeout)
	}
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}

	c := &Conn{adapter: a, cfg: cfg}
	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()
	return c, nil
}

// Connects reports how many times Connect was called.
func (a *Adapter) Connects() int { return int(a.connects.Load()) }

// Conns returns every connection the adapter handed out.
func (a *Adapter) Conns() []*Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Conn(nil), a.conns...)
}

// Open counts connections that have not been closed.
func (a *Adapter) Open() int {
	n := 0
	for _, c := range a.Conns() {
		if !c.Closed() {
			n++
		}
	}
	return n
}

func (a *Adapter) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if a.IgnoreContext {
		time.Sleep(d)
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Conn is the fake connection.
type Conn struct {
	adapter *Adapter
	cfg     database.Config

	closes atomic.Int64
	execs  atomic.Int64

	mu      sync.Mutex
	queries []database.Query
}

func (c *Conn) Engine() database.Engine { return c.adapter.Kind }

// Config is the configuration the connection was opened with.
func (c *Conn) Config() database.Config { return c.cfg }

func (c *Conn) Ping(context.Context) error {
	if c.Closed() {
		return errs.New(errs.ErrKindConnectionFailed, "connection is closed")
	}
	return nil
}

func (c *Conn) Execute(ctx context.Context, q database.Query) (*database.ResultSet, error) {
	if c.Closed() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "execute on closed connection")
	}
	c.execs.Add(1)
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()

	a := c.adapter
	if a.Hang {
		if a.IgnoreContext {
			select {}
		}
		<-ctx.Done()
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "query cancelled", ctx.Err()).WithReason(errs.ReasonTimeout)
	}
	if err := a.wait(ctx, a.ExecDelay); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "query cancelled", err).WithReason(errs.ReasonTimeout)
	}
	if a.ExecErr != nil {
		return nil, a.ExecErr
	}
	if a.Result != nil {
		rs := *a.Result
		return &rs, nil
	}
	return &database.ResultSet{
		Columns:  []database.ResultColumn{{Name: "ok"}},
		Rows:     []map[string]any{{"ok": 1}},
		RowCount: 1,
	}, nil
}

func (c *Conn) FetchSchema(ctx context.Context) (*database.SchemaInfo, error) {
	if c.Closed() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "schema on closed connection")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindSchemaFailed, "schema cancelled", err).WithReason(errs.ReasonTimeout)
	}
	if c.adapter.SchemaErr != nil {
		return nil, c.adapter.SchemaErr
	}
	if c.adapter.Schema != nil {
		return c.adapter.Schema, nil
	}
	return &database.SchemaInfo{Engine: c.adapter.Kind, Tables: []database.TableInfo{}}, nil
}

// Close counts every call; only the first has an effect.
func (c *Conn) Close(context.Context) error {
	if c.closes.Add(1) == 1 {
		return c.adapter.CloseErr
	}
	return nil
}

func (c *Conn) Closed() bool    { return c.closes.Load() > 0 }
func (c *Conn) CloseCalls() int { return int(c.closes.Load()) }
func (c *Conn) Executions() int { return int(c.execs.Load()) }

// Queries returns the statements received so far.
func (c *Conn) Queries() []database.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]database.Query(nil), c.queries...)
}

// Tables builds a schema with n tables of m columns each, named t0..tn-1
// and c0..cm-1.
func Tables(engine database.Engine, n, m int) *database.SchemaInfo {
	info := &database.SchemaInfo{Engine: engine, Tables: make([]database.TableInfo, n)}
	for i := range n {
		cols := make([]database.ColumnInfo, m)
		for j := range m {
			cols[j] = database.ColumnInfo{Name: "c" + strconv.Itoa(j), DataType: "text", IsNullable: j > 0}
		}
		info.Tables[i] = database.TableInfo{Schema: "main", Name: "t" + strconv.Itoa(i), Kind: database.TableKindTable, Columns: cols}
	}
	return info
}
