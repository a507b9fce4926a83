package resolve

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// State is the resolution state of a STIX id.
type State int

const (
	// Pending means the id is known but not yet resolved.
	Pending State = iota

	// Resolved means the id maps to an entity that already existed.
	Resolved

	// Created means the entity was created during this operation.
	Created

	// Updated means an existing entity was updated during this operation.
	Updated

	// Failed means resolution failed; Entry.Err holds the cause.
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one cached resolution.
type Entry struct {
	StixID     string
	InternalID string
	State      State
	Err        error
}

// Done reports whether the entry holds a usable internal id.
func (e Entry) Done() bool {
	return e.InternalID != "" && (e.State == Resolved || e.State == Created || e.State == Updated)
}

// Func resolves a STIX id. It is called at most once per id per Cache.
type Func func(ctx context.Context) (Entry, error)

// Cache is a concurrency-safe STIX id to internal id memo.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the entry for stixID.
func (c *Cache) Get(stixID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[stixID]
	return e, ok
}

// InternalID returns the internal id for stixID if it is resolved.
func (c *Cache) InternalID(stixID string) (string, bool) {
	e, ok := c.Get(stixID)
	if !ok || !e.Done() {
		return "", false
	}
	return e.InternalID, true
}

// Put stores an entry, replacing any previous one.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.StixID] = e
}

// Claim records stixID as resolved to internalID unless it is already
// present. It returns true when the id was newly claimed.
func (c *Cache) Claim(stixID, internalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[stixID]; ok {
		return false
	}
	c.entries[stixID] = Entry{StixID: stixID, InternalID: internalID, State: Resolved}
	return true
}

// Resolve returns the cached entry for stixID or runs fn to produce it.
// Concurrent callers for the same id share one fn invocation. A failed
// resolution is cached too: later callers get the same error without
// running fn again. Resolve always waits for the shared call, so a write
// started by fn is settled and cached by the time Resolve returns; fn is
// expected to honour ctx.
func (c *Cache) Resolve(ctx context.Context, stixID string, fn Func) (Entry, error) {
	if e, ok := c.Get(stixID); ok && e.State != Pending {
		return e, e.Err
	}

	ch := c.group.DoChan(stixID, func() (any, error) {
		if e, ok := c.Get(stixID); ok && e.State != Pending {
			return e, e.Err
		}
		e, err := fn(ctx)
		e.StixID = stixID
		if err != nil {
			e.State = Failed
			e.Err = err
		}
		c.Put(e)
		return e, err
	})

	res := <-ch
	e, _ := res.Val.(Entry)
	return e, res.Err
}

// Len returns the number of cached ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StixIDs returns the cached ids in the given states, sorted. With no
// states it returns every id.
func (c *Cache) StixIDs(states ...State) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if len(want) == 0 || want[e.State] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
