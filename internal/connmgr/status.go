package connmgr

import (
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/metacache"
	"github.com/koustreak/connhub/internal/registry"
)

// StatusInfo reports whether a key is usable. Everything but Connected is
// empty when it is not.
type StatusInfo struct {
	Connected  bool            `json:"connected"`
	Key        registry.Key    `json:"connectionKey"`
	Engine     database.Engine `json:"engineType,omitempty"`
	Database   string          `json:"database,omitempty"`
	Host       string          `json:"host,omitempty"`
	CreatedAt  *time.Time      `json:"createdAt,omitempty"`
	LastUsedAt *time.Time      `json:"lastUsedAt,omitempty"`
}

// Status needs both the cache summary and a live registry entry; a miss in
// either reports Connected=false.
func (m *Manager) Status(key registry.Key) StatusInfo {
	s, ok := m.cache.Get(key.String())
	if !ok {
		return StatusInfo{Key: key}
	}
	e, ok := m.live(key)
	if !ok {
		return StatusInfo{Key: key}
	}
	created, used := e.CreatedAt, e.LastUsed()
	return StatusInfo{
		Connected:  true,
		Key:        key,
		Engine:     s.Engine,
		Database:   s.Database,
		Host:       s.Host,
		CreatedAt:  &created,
		LastUsedAt: &used,
	}
}

// ListConnections returns owner's live connections, oldest first.
func (m *Manager) ListConnections(owner string) []registry.Info {
	return infos(m.registry.ListByOwner(owner))
}

// Snapshot lists every live connection, oldest first.
func (m *Manager) Snapshot() []registry.Info {
	return infos(m.registry.All())
}

// Stats summarizes the registry and the metadata cache.
type Stats struct {
	ActiveConnections int                     `json:"activeConnections"`
	CachedSummaries   int                     `json:"cachedSummaries"`
	Owners            int                     `json:"owners"`
	ByEngine          map[database.Engine]int `json:"byEngine"`
	Cache             metacache.Stats         `json:"cache"`
}

func (m *Manager) Stats() Stats {
	st := Stats{
		ByEngine: make(map[database.Engine]int),
		Cache:    m.cache.Stats(),
	}
	owners := make(map[string]struct{})
	for _, e := range m.registry.All() {
		if e.Closed() {
			continue
		}
		st.ActiveConnections++
		st.ByEngine[e.Config.Engine]++
		owners[e.Owner] = struct{}{}
	}
	st.Owners = len(owners)
	st.CachedSummaries = st.Cache.Entries
	return st
}

func infos(entries []*registry.Entry) []registry.Info {
	out := make([]registry.Info, 0, len(entries))
	for _, e := range entries {
		if e.Closed() {
			continue
		}
		out = append(out, e.Info())
	}
	return out
}
