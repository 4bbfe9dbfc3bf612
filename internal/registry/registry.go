// Package registry holds the live connections, one per key.
//
// The map lock is held only for map operations. Connecting, querying and
// closing all happen outside it, so slow engines never block other keys.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/koustreak/connhub/internal/errs"
)

// Registry maps keys to live entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[Key]*Entry), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the live entry for key.
func (r *Registry) Lookup(key Key) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	return e, ok
}

// Insert adds e. It fails with DuplicateKey when key is already live.
func (r *Registry) Insert(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Key]; ok {
		return errs.Newf(errs.ErrKindDuplicateKey, "connection %s already exists", e.Key)
	}
	r.entries[e.Key] = e
	return nil
}

// Touch marks key as used now. Absent keys are ignored.
func (r *Registry) Touch(key Key) {
	if e, ok := r.Lookup(key); ok {
		e.Touch(r.now())
	}
}

// Remove deletes key and returns its entry without closing it.
func (r *Registry) Remove(key Key) (*Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	return e, ok
}

// RemoveIf deletes key only when pred holds for its entry, atomically with
// respect to other registry calls.
func (r *Registry) RemoveIf(key Key, pred func(*Entry) bool) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || !pred(e) {
		return nil, false
	}
	delete(r.entries, key)
	return e, true
}

// ListByOwner returns owner's entries, oldest first.
func (r *Registry) ListByOwner(owner string) []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0)
	for _, e := range r.entries {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()
	sortByCreation(out)
	return out
}

// All returns a snapshot of every entry, oldest first.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sortByCreation(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func sortByCreation(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
