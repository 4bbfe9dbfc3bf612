// Package metacache keeps short-lived, secret-free connection summaries for
// status display. It is not authoritative: a miss never affects queries.
package metacache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/logger"
)

// DefaultTTL is how long a summary survives without being read.
const DefaultTTL = 30 * time.Minute

// Summary describes one connection without credentials.
type Summary struct {
	Key         string          `json:"key"`
	Owner       string          `json:"owner"`
	Engine      database.Engine `json:"engine"`
	Database    string          `json:"database"`
	Host        string          `json:"host,omitempty"`
	Port        int             `json:"port,omitempty"`
	Username    string          `json:"username,omitempty"`
	ConnectedAt time.Time       `json:"connectedAt"`
}

// Stats are cumulative cache counters.
type Stats struct {
	Entries    int    `json:"entries"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Insertions uint64 `json:"insertions"`
	Evictions  uint64 `json:"evictions"`
}

// Cache is a TTL map from connection key to Summary. Reads extend the TTL.
type Cache struct {
	items *ttlcache.Cache[string, Summary]
}

// New creates a cache. ttl <= 0 selects DefaultTTL. Expirations are logged
// at debug level when log is non-nil.
func New(ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	items := ttlcache.New[string, Summary](
		ttlcache.WithTTL[string, Summary](ttl),
	)
	if log != nil {
		items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Summary]) {
			if reason == ttlcache.EvictionReasonExpired {
				log.DebugWith("connection summary expired", map[string]interface{}{
					"key": item.Key(),
				})
			}
		})
	}
	return &Cache{items: items}
}

// Start runs the expiry loop until Stop. Call it in its own goroutine.
func (c *Cache) Start() { c.items.Start() }

func (c *Cache) Stop() { c.items.Stop() }

// Put stores s under s.Key with the default TTL.
func (c *Cache) Put(s Summary) {
	c.items.Set(s.Key, s, ttlcache.DefaultTTL)
}

// Get returns the summary for key and refreshes its TTL.
func (c *Cache) Get(key string) (Summary, bool) {
	item := c.items.Get(key)
	if item == nil {
		return Summary{}, false
	}
	return item.Value(), true
}

// Touch extends key's TTL without counting a hit.
func (c *Cache) Touch(key string) { c.items.Touch(key) }

func (c *Cache) Delete(key string) { c.items.Delete(key) }

func (c *Cache) Len() int { return c.items.Len() }

func (c *Cache) Stats() Stats {
	m := c.items.Metrics()
	return Stats{
		Entries:    c.items.Len(),
		Hits:       m.Hits,
		Misses:     m.Misses,
		Insertions: m.Insertions,
		Evictions:  m.Evictions,
	}
}
