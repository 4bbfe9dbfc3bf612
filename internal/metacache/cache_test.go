package metacache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summary(key string) Summary {
	return Summary{
		Key:         key,
		Owner:       "u1",
		Engine:      database.EngineMySQL,
		Database:    "shop",
		Host:        "db.internal",
		Port:        3306,
		Username:    "app",
		ConnectedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCache_PutGetDelete(t *testing.T) {
	c := New(time.Minute, nil)

	c.Put(summary("u1_abc"))
	got, ok := c.Get("u1_abc")
	require.True(t, ok)
	assert.Equal(t, "shop", got.Database)

	_, ok = c.Get("u1_missing")
	assert.False(t, ok)

	c.Delete("u1_abc")
	_, ok = c.Get("u1_abc")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Insertions)
	assert.Equal(t, 0, stats.Entries)
}

func TestCache_Expires(t *testing.T) {
	c := New(30*time.Millisecond, nil)
	c.Put(summary("u1_abc"))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("u1_abc")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_DefaultTTL(t *testing.T) {
	c := New(0, nil)
	c.Put(summary("u1_abc"))

	item := c.items.Get("u1_abc")
	require.NotNil(t, item)
	assert.Equal(t, DefaultTTL, item.TTL())
}

func TestSummary_JSONHasNoSecretFields(t *testing.T) {
	raw, err := json.Marshal(summary("u1_abc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.Contains(t, string(raw), `"engine":"mysql"`)
}
