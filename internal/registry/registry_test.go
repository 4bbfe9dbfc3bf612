package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/databasetest"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testConfig() database.Config {
	return database.Config{
		Engine:   database.EnginePostgres,
		Host:     "db.internal",
		Port:     5432,
		Database: "shop",
		Username: "app",
		Password: "hunter2",
	}
}

func newEntry(t *testing.T, owner string, created time.Time) (*Entry, *databasetest.Conn) {
	t.Helper()
	a := databasetest.NewAdapter(database.EnginePostgres)
	cfg := testConfig()
	cfg.Database = fmt.Sprintf("db_%s_%d", owner, created.UnixNano())
	conn, err := a.Connect(context.Background(), cfg)
	require.NoError(t, err)
	return NewEntry(NewKey(owner, cfg), owner, cfg.Redacted(), conn, created), conn.(*databasetest.Conn)
}

func TestNewKey(t *testing.T) {
	cfg := testConfig()

	k1 := NewKey("u1", cfg)
	assert.Equal(t, k1, NewKey("u1", cfg), "deterministic")
	assert.NotEqual(t, k1, NewKey("u2", cfg), "owner is part of the key")
	assert.Equal(t, "u1", k1.Owner())

	rotated := cfg
	rotated.Password = "new-secret"
	assert.Equal(t, k1, NewKey("u1", rotated), "password excluded")

	other := cfg
	other.Database = "billing"
	assert.NotEqual(t, k1, NewKey("u1", other))

	upper := cfg
	upper.Host = "DB.INTERNAL"
	assert.Equal(t, k1, NewKey("u1", upper), "host compared case-insensitively")

	assert.Equal(t, "team_a", NewKey("team_a", cfg).Owner())
	assert.NotContains(t, string(k1), "hunter2")
}

func TestRegistry_InsertLookupRemove(t *testing.T) {
	r := New()
	e, _ := newEntry(t, "u1", t0)

	require.NoError(t, r.Insert(e))
	got, ok := r.Lookup(e.Key)
	require.True(t, ok)
	assert.Same(t, e, got)

	err := r.Insert(e)
	assert.True(t, errs.IsDuplicateKey(err))

	removed, ok := r.Remove(e.Key)
	require.True(t, ok)
	assert.Same(t, e, removed)
	assert.False(t, removed.Closed(), "Remove does not close")

	_, ok = r.Remove(e.Key)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Touch(t *testing.T) {
	now := t0
	r := New(WithClock(func() time.Time { return now }))
	e, _ := newEntry(t, "u1", t0)
	require.NoError(t, r.Insert(e))

	now = t0.Add(time.Minute)
	r.Touch(e.Key)
	assert.Equal(t, now.UnixNano(), e.LastUsed().UnixNano())

	r.Touch("missing_key")
}

func TestEntry_TouchIsMonotonic(t *testing.T) {
	e, _ := newEntry(t, "u1", t0)

	e.Touch(t0.Add(time.Hour))
	e.Touch(t0.Add(time.Minute))
	assert.Equal(t, t0.Add(time.Hour).UnixNano(), e.LastUsed().UnixNano())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Touch(t0.Add(time.Duration(i) * time.Minute))
		}()
	}
	wg.Wait()
	assert.Equal(t, t0.Add(time.Hour).UnixNano(), e.LastUsed().UnixNano())
}

func TestRegistry_ListByOwner(t *testing.T) {
	r := New()
	for i := range 3 {
		e, _ := newEntry(t, "u1", t0.Add(time.Duration(3-i)*time.Second))
		require.NoError(t, r.Insert(e))
	}
	for i := range 2 {
		e, _ := newEntry(t, "u2", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, r.Insert(e))
	}

	u1 := r.ListByOwner("u1")
	require.Len(t, u1, 3)
	for i := 1; i < len(u1); i++ {
		assert.True(t, u1[i-1].CreatedAt.Before(u1[i].CreatedAt), "oldest first")
	}
	assert.Len(t, r.ListByOwner("u2"), 2)
	assert.Empty(t, r.ListByOwner("nobody"))
	assert.Len(t, r.All(), 5)
}

func TestRegistry_RemoveIf(t *testing.T) {
	r := New()
	e, _ := newEntry(t, "u1", t0)
	require.NoError(t, r.Insert(e))

	_, ok := r.RemoveIf(e.Key, func(e *Entry) bool { return e.IdleSince(t0) })
	assert.False(t, ok, "not idle before its creation time")

	got, ok := r.RemoveIf(e.Key, func(e *Entry) bool { return e.IdleSince(t0.Add(time.Second)) })
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, 0, r.Len())
}

func TestEntry_AcquireAfterClose(t *testing.T) {
	e, conn := newEntry(t, "u1", t0)

	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()), "idempotent")
	assert.Equal(t, 1, conn.CloseCalls())

	_, _, err := e.Acquire(context.Background())
	assert.True(t, errs.IsNotFound(err))
}

func TestEntry_CloseWaitsForInflight(t *testing.T) {
	e, conn := newEntry(t, "u1", t0)

	_, release, err := e.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = e.Close(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("close finished while an operation held the gate")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, conn.Closed())

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not finish after release")
	}
	assert.True(t, conn.Closed())
}

func TestEntry_CloseForcedWhenContextEnds(t *testing.T) {
	e, conn := newEntry(t, "u1", t0)

	_, release, err := e.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	assert.True(t, conn.Closed())
}

func TestEntry_JSONHasNoSecret(t *testing.T) {
	e, _ := newEntry(t, "u1", t0)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), `"owner":"u1"`)
	assert.Contains(t, string(raw), `"lastUsedAt"`)
}
