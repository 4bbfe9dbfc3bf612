package connmgr

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/koustreak/connhub/internal/metrics"
	"github.com/koustreak/connhub/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Disconnect removes key and closes its connection. Unknown keys are a
// no-op. The entry leaves the registry before the close starts, so
// concurrent callers already see NotFound; a close failure is returned but
// the entry stays removed.
func (m *Manager) Disconnect(ctx context.Context, key registry.Key) error {
	e, ok := m.registry.Remove(key)
	m.cache.Delete(key.String())
	if !ok {
		return nil
	}
	return m.closeEntry(ctx, e, metrics.CloseExplicit)
}

// DisconnectOwner closes every connection of owner and returns how many
// were removed. Close failures are logged, not returned.
func (m *Manager) DisconnectOwner(ctx context.Context, owner string) int {
	return m.disconnectEntries(ctx, m.registry.ListByOwner(owner), metrics.CloseOwner)
}

// DisconnectAll closes every connection, e.g. at shutdown.
func (m *Manager) DisconnectAll(ctx context.Context) int {
	return m.disconnectEntries(ctx, m.registry.All(), metrics.CloseShutdown)
}

// EvictIdle removes key if it has not been used since cutoff. The check and
// the removal are atomic, so a query that touched the entry in between
// keeps it alive.
func (m *Manager) EvictIdle(ctx context.Context, key registry.Key, cutoff time.Time) (bool, error) {
	e, ok := m.registry.RemoveIf(key, func(e *registry.Entry) bool {
		return e.IdleSince(cutoff)
	})
	if !ok {
		return false, nil
	}
	m.cache.Delete(key.String())
	return true, m.closeEntry(ctx, e, metrics.CloseIdle)
}

func (m *Manager) disconnectEntries(ctx context.Context, entries []*registry.Entry, reason string) int {
	var (
		mu      sync.Mutex
		removed int
		result  *multierror.Error
	)

	g := new(errgroup.Group)
	g.SetLimit(disconnectParallelism)
	for _, e := range entries {
		e := e
		// Only remove the entry we listed; a reconnect may have replaced it.
		if _, ok := m.registry.RemoveIf(e.Key, func(cur *registry.Entry) bool { return cur == e }); !ok {
			continue
		}
		m.cache.Delete(e.Key.String())
		removed++

		g.Go(func() error {
			if err := m.closeEntry(ctx, e, reason); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := result.ErrorOrNil(); err != nil {
		m.log.WarnWith("some connections failed to close", err, map[string]interface{}{
			"reason":  reason,
			"removed": removed,
			"failed":  len(result.Errors),
		})
	}
	return removed
}

// closeEntry closes an entry already removed from the registry. In-flight
// operations get up to the close timeout to finish.
func (m *Manager) closeEntry(ctx context.Context, e *registry.Entry, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CloseTimeout)
	defer cancel()

	engine := string(e.Config.Engine)
	_, err := run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.Close(ctx)
	}, nil)
	m.metrics.ConnectionClosed(engine, reason)

	fields := map[string]interface{}{
		"key":    e.Key.String(),
		"owner":  e.Owner,
		"engine": engine,
		"reason": reason,
	}
	if err != nil {
		m.log.WarnWith("connection close failed", err, withCode(fields, err))
		return err
	}
	m.log.InfoWith("connection closed", fields)
	return nil
}
