package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"golang.org/x/sync/semaphore"
)

// gateWeight bounds concurrent operations on one entry. Close takes the
// whole weight, so it waits for in-flight operations and blocks new ones.
const gateWeight = 1 << 16

// Entry is one live connection. The handle is reachable only through
// Acquire; the entry holds no credentials.
type Entry struct {
	Key       Key
	Owner     string
	Config    database.RedactedConfig
	CreatedAt time.Time

	lastUsed atomic.Int64
	conn     database.Connection
	gate     *semaphore.Weighted
	closed   atomic.Bool
}

// NewEntry wraps conn. LastUsed starts at createdAt.
func NewEntry(key Key, owner string, cfg database.RedactedConfig, conn database.Connection, createdAt time.Time) *Entry {
	e := &Entry{
		Key:       key,
		Owner:     owner,
		Config:    cfg,
		CreatedAt: createdAt,
		conn:      conn,
		gate:      semaphore.NewWeighted(gateWeight),
	}
	e.lastUsed.Store(createdAt.UnixNano())
	return e
}

// LastUsed is the most recent touch time.
func (e *Entry) LastUsed() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

// Touch moves LastUsed forward to t. Earlier times are ignored so
// concurrent touches never move the clock backwards.
func (e *Entry) Touch(t time.Time) {
	next := t.UnixNano()
	for {
		cur := e.lastUsed.Load()
		if next <= cur || e.lastUsed.CompareAndSwap(cur, next) {
			return
		}
	}
}

// IdleSince reports whether the entry has not been used since cutoff.
func (e *Entry) IdleSince(cutoff time.Time) bool {
	return e.lastUsed.Load() < cutoff.UnixNano()
}

// Closed reports whether Close has started.
func (e *Entry) Closed() bool { return e.closed.Load() }

// Acquire grants shared use of the handle. release must be called once the
// operation finishes. A closing or closed entry yields NotFound.
func (e *Entry) Acquire(ctx context.Context) (database.Connection, func(), error) {
	if e.closed.Load() {
		return nil, nil, closedErr(e.Key)
	}
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindTimeout, "timed out waiting for connection", err).
			WithReason(errs.ReasonTimeout)
	}
	if e.closed.Load() {
		e.gate.Release(1)
		return nil, nil, closedErr(e.Key)
	}
	return e.conn, func() { e.gate.Release(1) }, nil
}

// Close waits for in-flight operations, then closes the handle. When ctx
// ends first the handle is closed anyway. Only the first call does work.
func (e *Entry) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	drained := e.gate.Acquire(ctx, gateWeight) == nil

	closeCtx := ctx
	if !drained {
		// Forced close: ctx is already done, operations may still be running.
		closeCtx = context.WithoutCancel(ctx)
	}
	err := e.conn.Close(closeCtx)

	if drained {
		// Waiters wake up, see the closed flag and give up.
		e.gate.Release(gateWeight)
	}
	return err
}

// Info is the serializable view of an entry.
type Info struct {
	Key        Key                     `json:"key"`
	Owner      string                  `json:"owner"`
	Config     database.RedactedConfig `json:"config"`
	CreatedAt  time.Time               `json:"createdAt"`
	LastUsedAt time.Time               `json:"lastUsedAt"`
}

func (e *Entry) Info() Info {
	return Info{
		Key:        e.Key,
		Owner:      e.Owner,
		Config:     e.Config,
		CreatedAt:  e.CreatedAt,
		LastUsedAt: e.LastUsed(),
	}
}

// MarshalJSON renders Info, never the handle.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Info())
}

func closedErr(k Key) error {
	return errs.Newf(errs.ErrKindNotFound, "connection %s is closed", k)
}
